package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"

	"github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/order"
)

// Store is the Postgres-backed order store adapter. Each order is one row
// keyed by id; opaque merchant metadata and raw provider payloads live in
// jsonb columns. The status column is only ever written through the guarded
// update below.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Create inserts a new order row. Order ids are generated once per order, so
// a conflicting insert is an error, never an upsert.
func (s *Store) Create(ctx context.Context, o *order.Order) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO orders (id, amount, items, table_label, session_id, status, provider_response, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`,
		o.ID, o.Amount, nullableJSON(o.Items), o.Table, o.SessionID, string(o.Status),
		nullableJSON(o.ProviderResponse), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	log.Printf("[DB] inserted order: %s", o.ID)
	return nil
}

// Get loads one order by id.
func (s *Store) Get(ctx context.Context, orderID string) (*order.Order, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT id, amount, items, table_label, session_id, status,
               provider_response, provider_callback, created_at, updated_at, last_status_check_at
        FROM orders WHERE id = $1`, orderID)
	return scanOrder(row)
}

// UpdateStatusCAS moves the status from->to in one conditional statement and
// stores the raw observation alongside. Zero rows affected means another
// observation moved the status first; the caller re-reads and re-decides.
func (s *Store) UpdateStatusCAS(ctx context.Context, orderID string, from, to order.Status, source order.Source, raw []byte) (bool, error) {
	var res sql.Result
	var err error
	switch source {
	case order.SourcePoll:
		res, err = s.db.ExecContext(ctx, `
            UPDATE orders
            SET status = $1, provider_response = $2, last_status_check_at = now(), updated_at = now()
            WHERE id = $3 AND status = $4`,
			string(to), nullableJSON(raw), orderID, string(from))
	default:
		res, err = s.db.ExecContext(ctx, `
            UPDATE orders
            SET status = $1, provider_callback = $2, updated_at = now()
            WHERE id = $3 AND status = $4`,
			string(to), nullableJSON(raw), orderID, string(from))
	}
	if err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return false, nil
	}
	log.Printf("[DB] updated order status: %s %s -> %s", orderID, from, to)
	return true, nil
}

// RecordObservation stores a raw observation that produced no status change.
// Webhook payloads and poll responses land in their own audit columns; a poll
// also stamps last_status_check_at.
func (s *Store) RecordObservation(ctx context.Context, orderID string, source order.Source, raw []byte) error {
	var err error
	switch source {
	case order.SourcePoll:
		_, err = s.db.ExecContext(ctx, `
            UPDATE orders SET provider_response = $1, last_status_check_at = now() WHERE id = $2`,
			nullableJSON(raw), orderID)
	default:
		_, err = s.db.ExecContext(ctx, `
            UPDATE orders SET provider_callback = $1 WHERE id = $2`,
			nullableJSON(raw), orderID)
	}
	if err != nil {
		return fmt.Errorf("failed to record observation: %w", err)
	}
	return nil
}

// List returns the most recently updated orders.
func (s *Store) List(ctx context.Context, limit int) ([]*order.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, amount, items, table_label, session_id, status,
               provider_response, provider_callback, created_at, updated_at, last_status_check_at
        FROM orders ORDER BY updated_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var list []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating orders: %w", err)
	}
	return list, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*order.Order, error) {
	var (
		o               order.Order
		status          string
		items           []byte
		response        []byte
		callback        []byte
		lastStatusCheck sql.NullTime
	)
	err := row.Scan(&o.ID, &o.Amount, &items, &o.Table, &o.SessionID, &status,
		&response, &callback, &o.CreatedAt, &o.UpdatedAt, &lastStatusCheck)
	if err == sql.ErrNoRows {
		return nil, order.ErrUnknownOrder
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}
	o.Status = order.Status(status)
	o.Items = json.RawMessage(items)
	o.ProviderResponse = json.RawMessage(response)
	o.ProviderCallback = json.RawMessage(callback)
	if lastStatusCheck.Valid {
		t := lastStatusCheck.Time.UTC()
		o.LastStatusCheckAt = &t
	}
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

// nullableJSON maps empty payloads to NULL so jsonb columns never hold ''.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

package postgres

import (
	"database/sql"
	"fmt"
	"log"
	"time"

	_ "github.com/lib/pq"
)

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// OpenDatabase opens and pings a connection pool.
func OpenDatabase(config DatabaseConfig) (*sql.DB, error) {
	connStr := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=disable",
		config.Host,
		config.Port,
		config.Database,
		config.User,
		config.Password,
	)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Printf("[DB] connected to PostgreSQL database: %s", config.Database)
	return db, nil
}

// EnsureSchema creates the orders table when it does not exist yet. The
// statement is idempotent, so running it on every start is safe.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS orders (
            id                   TEXT PRIMARY KEY,
            amount               NUMERIC(12,2) NOT NULL,
            items                JSONB,
            table_label          TEXT NOT NULL DEFAULT '',
            session_id           TEXT NOT NULL DEFAULT '',
            status               TEXT NOT NULL,
            provider_response    JSONB,
            provider_callback    JSONB,
            created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
            updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
            last_status_check_at TIMESTAMPTZ
        )`)
	if err != nil {
		return fmt.Errorf("failed to ensure orders schema: %w", err)
	}
	return nil
}

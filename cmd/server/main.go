package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	internalapi "github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/api"
	appconfig "github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/config"
	"github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/events"
	"github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/gateway"
	internalorder "github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/order"
	"github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/secrets"
	postgres "github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/storage/postgres"
	"github.com/AnthonyGillesRudolfo/Payment-Gateway-Bridge/internal/telemetry"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

func newLogger(cfg appconfig.Config) *log.Logger {
	prefix := ""
	if cfg.ServiceName != "" {
		prefix = fmt.Sprintf("[%s] ", cfg.ServiceName)
	}
	logger := log.New(os.Stdout, prefix, log.LstdFlags|log.Lmicroseconds)
	log.SetOutput(os.Stdout)
	log.SetFlags(logger.Flags())
	log.SetPrefix(prefix)
	return logger
}

func setupTelemetry(lc fx.Lifecycle, cfg appconfig.Config) {
	var cleanup func()
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			cleanup = telemetry.InitTracer(cfg.ServiceName)
			return nil
		},
		OnStop: func(context.Context) error {
			if cleanup != nil {
				cleanup()
			}
			return nil
		},
	})
}

// newSQLDB provides the shared *sql.DB via Fx and closes it on stop.
func newSQLDB(lc fx.Lifecycle, cfg appconfig.Config, logger *log.Logger) (*sql.DB, error) {
	logger.Printf("Connecting to PostgreSQL database %s@%s:%d", cfg.Database.Database, cfg.Database.Host, cfg.Database.Port)
	db, err := postgres.OpenDatabase(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := postgres.EnsureSchema(db); err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return db.Close()
		},
	})
	return db, nil
}

// newKafkaProducer constructs a shared Kafka producer and binds its lifecycle to Fx.
func newKafkaProducer(cfg appconfig.Config, lc fx.Lifecycle) *events.Producer {
	prod := events.NewProducer(cfg.Kafka.Brokers)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return prod.Close()
		},
	})
	return prod
}

// newGatewayClient assembles the provider client with the auth strategy the
// configuration selects. The strategy is fixed here, once.
func newGatewayClient(cfg appconfig.Config, logger *log.Logger) *gateway.Client {
	httpClient := &http.Client{Timeout: cfg.Gateway.RequestTimeout}

	var auth gateway.RequestAuth
	switch cfg.Gateway.AuthMode {
	case "signature":
		logger.Printf("Gateway auth mode: request signature (merchant %s)", cfg.Gateway.MerchantID)
		auth = gateway.NewSignedAuth(cfg.Gateway.MerchantID, cfg.Gateway.ClientSecret)
	default:
		logger.Printf("Gateway auth mode: cached bearer token")
		cache := gateway.NewCredentialCache(cfg.Gateway.AuthURL, cfg.Gateway.ClientID, cfg.Gateway.ClientSecret, httpClient)
		auth = gateway.NewBearerAuth(cache)
	}

	return gateway.NewClient(gateway.ClientConfig{
		BaseURL:     cfg.Gateway.BaseURL,
		CallbackURL: cfg.Gateway.CallbackURL,
		SuccessURL:  cfg.Gateway.SuccessURL,
		FailureURL:  cfg.Gateway.FailureURL,
	}, auth, httpClient)
}

func newVerifier(cfg appconfig.Config, logger *log.Logger) gateway.Verifier {
	switch cfg.Gateway.SignatureScheme {
	case "salted":
		logger.Printf("Webhook verification: salted hash (%d salts configured)", len(cfg.Gateway.SignatureSalts))
		return gateway.NewSaltedVerifier(cfg.Gateway.SignatureSalts)
	default:
		logger.Printf("Webhook verification: HMAC-SHA256")
		return gateway.NewHMACVerifier(cfg.Gateway.SignatureSecret)
	}
}

func newOrderService(cfg appconfig.Config, store *postgres.Store, client *gateway.Client, prod *events.Producer) *internalorder.Service {
	return internalorder.NewService(store, client, prod, cfg.Kafka.PaymentsTopic, cfg.Gateway.PollTimeout)
}

func registerWebServer(lc fx.Lifecycle, cfg appconfig.Config, logger *log.Logger, shutdowner fx.Shutdowner, verifier gateway.Verifier, svc *internalorder.Service) {
	mux := http.NewServeMux()
	internalapi.RegisterOrdersRoutes(mux, svc)
	internalapi.RegisterWebhookRoutes(mux, verifier, svc)

	httpServer := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: withCORS(mux),
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Printf("API listening on %s", cfg.HTTP.Addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Printf("API server error: %v", err)
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	})
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Simple permissive CORS for local testing
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Signature")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	_ = godotenv.Load()
	if err := secrets.BootstrapFromOpenBao(context.Background()); err != nil {
		log.Fatalf("Failed to load secrets from OpenBao: %v", err)
	}

	app := fx.New(
		fx.Provide(
			appconfig.Load,
			newLogger,
			newSQLDB,
			func(db *sql.DB) *postgres.Store { return postgres.NewStore(db) },
			newKafkaProducer,
			newGatewayClient,
			newVerifier,
			newOrderService,
		),
		fx.Invoke(
			func(logger *log.Logger, cfg appconfig.Config) {
				logger.Printf("Starting %s...", cfg.ServiceName)
			},
			setupTelemetry,
			registerWebServer,
		),
	)

	app.Run()
}

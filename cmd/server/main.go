/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Build the ledger engine, auth provider and token issuer
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: stock.db)
           Use ":memory:" for an in-memory database
  -env     Path to a .env file (default: .env, missing is fine)

ENVIRONMENT:
  STOCK_JWT_SECRET    HMAC secret for session tokens (required outside dev)
  STOCK_USERS         Operator accounts, semicolon separated:
                        username:Display Name:bcrypt-hash
                      or username:bcrypt-hash
  STOCK_CORS_ORIGINS  Comma-separated allowed origins
  STOCK_TOKEN_TTL     Session lifetime (Go duration, default 24h)
  LOG_LEVEL           logrus level (default info)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/stock.db"

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/warp/stock-ledger/api"
	"github.com/warp/stock-ledger/auth"
	"github.com/warp/stock-ledger/ledger"
	"github.com/warp/stock-ledger/store/sqlite"
)

func main() {
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "stock.db", "SQLite database path")
	envPath := flag.String("env", ".env", "path to .env file")
	flag.Parse()

	// A missing .env is normal; explicit paths that fail are not.
	if err := godotenv.Load(*envPath); err != nil && *envPath != ".env" {
		logrus.WithError(err).Fatal("failed to load env file")
	}

	log := newLogger()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize database")
	}
	defer store.Close()

	engine := ledger.New(store)

	provider, err := buildAuthProvider(log)
	if err != nil {
		log.WithError(err).Fatal("failed to build auth provider")
	}
	tokens := auth.NewTokenIssuer(jwtSecret(log), tokenTTL())

	handler := api.NewHandler(engine, provider, tokens, log)
	router := api.NewRouter(handler, corsOrigins())

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"port": *port, "db": *dbPath}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Fatal("server forced to shutdown")
	}

	log.Info("server stopped")
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(level)
	}
	return log
}

// buildAuthProvider parses STOCK_USERS. Without configured accounts the
// server still starts, with a throwaway admin/admin login, so a fresh
// checkout is usable - but that is loudly not for production.
func buildAuthProvider(log *logrus.Logger) (auth.AuthProvider, error) {
	raw := strings.TrimSpace(os.Getenv("STOCK_USERS"))
	if raw == "" {
		hash, err := auth.HashPassword("admin")
		if err != nil {
			return nil, err
		}
		log.Warn("STOCK_USERS not set; using default admin/admin credentials")
		return auth.NewStaticProvider([]auth.Credential{
			{Username: "admin", DisplayName: "Administrator", PasswordHash: hash},
		}), nil
	}

	var creds []auth.Credential
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		// username:Display Name:hash, or username:hash. The hash always
		// starts with "$", which disambiguates the two forms.
		parts := strings.SplitN(entry, ":", 3)
		switch {
		case len(parts) == 3:
			creds = append(creds, auth.Credential{
				Username: parts[0], DisplayName: parts[1], PasswordHash: parts[2],
			})
		case len(parts) == 2 && strings.HasPrefix(parts[1], "$"):
			creds = append(creds, auth.Credential{
				Username: parts[0], PasswordHash: parts[1],
			})
		default:
			return nil, fmt.Errorf("malformed STOCK_USERS entry %q", entry)
		}
	}
	if len(creds) == 0 {
		return nil, fmt.Errorf("STOCK_USERS set but no valid entries")
	}
	return auth.NewStaticProvider(creds), nil
}

func jwtSecret(log *logrus.Logger) string {
	secret := os.Getenv("STOCK_JWT_SECRET")
	if secret == "" {
		log.Warn("STOCK_JWT_SECRET not set; using an ephemeral development secret")
		secret = fmt.Sprintf("dev-secret-%d", time.Now().UnixNano())
	}
	return secret
}

func tokenTTL() time.Duration {
	if v := os.Getenv("STOCK_TOKEN_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return 24 * time.Hour
}

func corsOrigins() []string {
	raw := strings.TrimSpace(os.Getenv("STOCK_CORS_ORIGINS"))
	if raw == "" {
		return nil
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

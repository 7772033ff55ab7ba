// Package cli holds the plumbing shared by the operator command line tools.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/xenking/fresh-pickup/internal/storage/postgres"
)

// Logger returns a console logger for interactive tools.
func Logger(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

// DatabaseFlag registers --database-url on cmd.
func DatabaseFlag(cmd *cobra.Command, dst *string) {
	cmd.PersistentFlags().StringVar(dst, "database-url", "",
		"PostgreSQL connection URL (or PICKUP_DATABASE_URL / DATABASE_URL)")
}

// DatabaseURL resolves the connection URL from the flag value, a .env file
// or the environment.
func DatabaseURL(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	_ = godotenv.Load()
	for _, name := range []string{"PICKUP_DATABASE_URL", "DATABASE_URL"} {
		if v := os.Getenv(name); v != "" {
			return v, nil
		}
	}
	return "", errors.New("database URL is required: set --database-url, PICKUP_DATABASE_URL or DATABASE_URL")
}

// Connect opens a pool and applies pending migrations.
func Connect(ctx context.Context, lg *zap.Logger, databaseURL string) (*pgxpool.Pool, error) {
	lg.Debug("Connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to database")
	}
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	return pool, nil
}

// Execute runs root with a context cancelled on SIGINT or SIGTERM and exits
// non-zero on error.
func Execute(root *cobra.Command) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	root.SilenceUsage = true
	if err := root.ExecuteContext(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}

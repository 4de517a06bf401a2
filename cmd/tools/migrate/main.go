package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/noah-isme/expiry-discount/internal/config"
	"github.com/noah-isme/expiry-discount/internal/db"
	"github.com/noah-isme/expiry-discount/internal/obs"
	"github.com/noah-isme/expiry-discount/internal/resilience"
)

func main() {
	direction := flag.String("direction", "up", "up, down or version")
	steps := flag.Int("steps", 1, "migrations to roll back with -direction=down, 0 for all")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "migrate").Logger()
	if !cfg.UsesPostgres() {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch *direction {
	case "up":
		// The database may still be starting when this runs in a compose stack.
		err = resilience.Retry(ctx, 5, 500*time.Millisecond, func(context.Context) error {
			return db.Up(cfg.DatabaseURL)
		})
	case "down":
		err = db.Down(cfg.DatabaseURL, *steps)
	case "version":
		v, dirty, verr := db.Version(cfg.DatabaseURL)
		if verr == nil {
			logger.Info().Uint("version", v).Bool("dirty", dirty).Msg("schema version")
		}
		err = verr
	default:
		logger.Error().Str("direction", *direction).Msg("unknown direction")
		os.Exit(2)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("direction", *direction).Msg("migration failed")
	}
	logger.Info().Str("direction", *direction).Msg("migration complete")
}

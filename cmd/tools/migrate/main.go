package main

import (
	"flag"
	"os"

	"github.com/joho/godotenv"

	"github.com/emirsalihagic/miniERP-sub001/internal/db"
	"github.com/emirsalihagic/miniERP-sub001/internal/obs"
)

// migrate applies the embedded schema migrations, or rolls back -down steps.
func main() {
	down := flag.Int("down", 0, "number of migrations to roll back instead of migrating up")
	flag.Parse()

	_ = godotenv.Load()
	logger := obs.NewLogger("console", "info").With().Str("component", "migrate").Logger()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		logger.Fatal().Msg("DATABASE_URL is not set")
	}

	if *down > 0 {
		if err := db.Rollback(dbURL, *down, logger); err != nil {
			logger.Fatal().Err(err).Msg("rollback")
		}
		logger.Info().Int("steps", *down).Msg("rolled back")
		return
	}
	if err := db.Migrate(dbURL, logger); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}
}

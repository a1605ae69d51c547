package main

import (
	"context"
	"flag"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/config"
	"github.com/Emmanuelj90/ellitnow-shield-sub000/internal/store"
)

func main() {
	// Configure logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Parse command line flags, defaulting to the environment
	var (
		driver  = flag.String("driver", cfg.DBDriver, "Database driver (sqlite, postgres)")
		dsn     = flag.String("dsn", cfg.DatabaseURL, "Database DSN or sqlite file")
		command = flag.String("command", "up", "Migration command (up, down, force, evolve, version)")
		version = flag.Int("version", -1, "Version for the force command")
	)
	flag.Parse()

	dbCfg := store.Config{Driver: *driver, DSN: *dsn, QueryTimeout: cfg.DBQueryTimeout}

	if *command == "evolve" {
		evolve(dbCfg)
		return
	}

	m, err := store.NewMigrator(dbCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create migrator")
	}
	defer m.Close()

	// Run the migration command
	switch *command {
	case "up":
		if err := m.Up(); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
	case "down":
		if err := m.Down(); err != nil {
			log.Fatal().Err(err).Msg("Failed to revert migrations")
		}
	case "force":
		if *version < 0 {
			log.Fatal().Msg("force needs -version")
		}
		if err := m.Force(*version); err != nil {
			log.Fatal().Err(err).Msg("Failed to force migration version")
		}
		log.Info().Msg("Migration version forced successfully")
	case "version":
		v, dirty, err := m.Version()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to read migration version")
		}
		log.Info().Uint("version", v).Bool("dirty", dirty).Msg("Current migration version")
	default:
		log.Fatal().Msgf("Unknown command: %s", *command)
	}
}

// evolve adds the columns later releases introduced to a database created by
// an older release. Failures are reported, not fatal.
func evolve(cfg store.Config) {
	ctx := context.Background()
	db, err := store.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	report := store.EvolveSchema(ctx, db, store.TenantColumns)
	for col, err := range report.Failed {
		log.Warn().Err(err).Str("column", col).Msg("Column could not be added")
	}
	log.Info().
		Str("added", strings.Join(report.Added, ",")).
		Int("present", len(report.Present)).
		Msg("Schema evolution completed")
}

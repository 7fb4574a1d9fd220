package cmd

import (
	"fmt"

	"github.com/haven-chat/haven/internal/config"
	"github.com/haven-chat/haven/internal/database"
)

// runMigrate opens the configured database, applies pending migrations,
// and exits. serve migrates on startup too; this command exists for
// provisioning and for verifying a database ahead of a deploy.
func runMigrate() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("migrating database: %w", err)
	}

	fmt.Printf("Database ready: %s\n", cfg.DatabasePath)
	return nil
}

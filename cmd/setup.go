package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/spotcore/internal/shared"
	"github.com/urfave/cli/v3"
)

// Setup writes the example config when none exists and migrates the credential database.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	if _, err := os.Stat(configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", configPath)
		if err := shared.CreateConfigFile(configPath); err != nil {
			return err
		}
		config, err := shared.LoadConfig(configPath)
		if err != nil {
			return fmt.Errorf("failed to load created config: %w", err)
		}
		r.config = config
		r.writePlain("✓ Created %s\n", configPath)
	}

	r.logger.Info("initializing database", "path", r.config.Database.Path)
	db, err := shared.OpenCredentialDatabase(r.config.Database)
	if err != nil {
		return fmt.Errorf("failed to set up database: %w", err)
	}
	defer db.Close()

	return r.writePlain("✓ Database ready at %s\n", r.config.Database.Path)
}

package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/spf13/cobra"

	"github.com/cory-johannsen/automap/migrations"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			cfg, logger, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			direction, _ := cmd.Flags().GetString("direction")
			steps, _ := cmd.Flags().GetInt("steps")

			src, err := iofs.New(migrations.FS, ".")
			if err != nil {
				return fmt.Errorf("opening embedded migrations: %w", err)
			}
			m, err := migrate.NewWithSourceInstance("iofs", src, cfg.Database.DSN())
			if err != nil {
				return fmt.Errorf("creating migrator: %w", err)
			}
			defer m.Close()

			switch direction {
			case "up":
				if steps > 0 {
					err = m.Steps(steps)
				} else {
					err = m.Up()
				}
			case "down":
				if steps > 0 {
					err = m.Steps(-steps)
				} else {
					err = m.Down()
				}
			default:
				return fmt.Errorf("invalid direction %q: must be 'up' or 'down'", direction)
			}
			if err != nil && !errors.Is(err, migrate.ErrNoChange) {
				return fmt.Errorf("migration failed: %w", err)
			}

			version, dirty, _ := m.Version()
			elapsed := time.Since(start)
			out := cmd.OutOrStdout()
			if errors.Is(err, migrate.ErrNoChange) {
				fmt.Fprintf(out, "no changes (version=%d dirty=%v) [%s]\n", version, dirty, elapsed)
			} else {
				fmt.Fprintf(out, "migrated %s to version=%d dirty=%v [%s]\n", direction, version, dirty, elapsed)
			}
			return nil
		},
	}
	cmd.Flags().String("direction", "up", "migration direction: up or down")
	cmd.Flags().Int("steps", 0, "number of steps (0 = all)")
	return cmd
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"os"

	_ "github.com/lib/pq"
	"github.com/spf13/cobra"

	"VAMMLedger/internal/config"
	"VAMMLedger/internal/observability"
	"VAMMLedger/internal/persistence"
)

func main() {
	var (
		dsn string
		dir string
	)
	root := &cobra.Command{
		Use:          "migrate",
		Short:        "Apply or roll back the ledger schema",
		SilenceUsage: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&dsn, "dsn", "", "Postgres connection string (default: VAMM_POSTGRES_DSN or the built-in default)")
	flags.StringVar(&dir, "dir", "", "read migrations from a directory instead of the embedded schema")

	run := func(apply func(*persistence.Migrator, context.Context) error) func(*cobra.Command, []string) error {
		return func(c *cobra.Command, _ []string) error {
			if dsn == "" {
				cfg, err := config.Load(config.NewViper(), "")
				if err != nil {
					return err
				}
				dsn = cfg.PostgresDSN
			}
			db, err := sql.Open("postgres", dsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			defer db.Close()

			var files fs.FS = persistence.Migrations()
			if dir != "" {
				files = os.DirFS(dir)
			}
			return apply(persistence.NewMigrator(db, files), c.Context())
		}
	}

	logger := observability.NewLogger("migrate")
	root.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: run(func(m *persistence.Migrator, ctx context.Context) error {
				if err := m.Up(ctx); err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				logger.Info().Msg("all migrations applied")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: run(func(m *persistence.Migrator, ctx context.Context) error {
				if err := m.Down(ctx); err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				logger.Info().Msg("last migration rolled back")
				return nil
			}),
		},
	)

	if err := root.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-harvester/internal/storage/postgres"
)

// migrate is swapped in tests.
var migrate = postgres.Migrate

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded Postgres schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			services, err := resolveServices(cmd.Context())
			if err != nil {
				return err
			}
			if err := migrate(cmd.Context(), services.Config().DB.DSN); err != nil {
				return err
			}
			services.Logger().Info("migrations applied", zap.Strings("tables", []string{postgres.ListingsTable, postgres.ParkedTable}))
			return nil
		},
	}
}

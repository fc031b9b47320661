package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"subscription-billing/config"
	"subscription-billing/database"
)

var syncTiers bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	Long: `Create or update the database schema.

With --sync-tiers the tier catalog is then imported from the recurring
prices of STRIPE_PRODUCT_ID.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&syncTiers, "sync-tiers", false, "import tiers from Stripe after migrating")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	if !syncTiers {
		db, err := database.InitDB(config.DB_URL)
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return err
		}
		log.Info("schema migrated")
		return nil
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := database.Migrate(a.db); err != nil {
		return err
	}
	log.Info("schema migrated")

	src := a.priceSource()
	if src == nil || config.Stripe.ProductID == "" {
		return errors.New("--sync-tiers needs stripe credentials and STRIPE_PRODUCT_ID")
	}
	res, err := a.catalog.SyncFromStripe(ctx, src, config.Stripe.ProductID)
	if err != nil {
		return err
	}
	log.Info("tiers synced", zap.Any("result", res))
	fmt.Fprintf(cmd.OutOrStdout(), "tiers synced: %+v\n", *res)
	return nil
}

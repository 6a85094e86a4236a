package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/signalcore/evidence-engine/internal/catalog"
	"github.com/signalcore/evidence-engine/internal/store"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the evidence store",
}

var storeMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the evidence schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := store.Open(cmd.Context(), cfg.Store)
		if err != nil {
			return eris.Wrap(err, "store: open")
		}
		defer st.Close() //nolint:errcheck

		if err := st.Migrate(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Migrated %s store\n", cfg.Store.Driver)
		return nil
	},
}

var storeSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the reference evidence corpus",
	Long:  "Seeds the store with the catalog's reference evidence. Without --force an already seeded store is left alone.",
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		ctx := cmd.Context()

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		cat, err := catalog.Load()
		if err != nil {
			return err
		}
		st, err := store.Open(ctx, cfg.Store)
		if err != nil {
			return eris.Wrap(err, "store: open")
		}
		defer st.Close() //nolint:errcheck

		var n int64
		if force {
			if err := st.Migrate(ctx); err != nil {
				return err
			}
			n, err = st.SaveEvidence(ctx, cat.Evidence)
		} else {
			n, err = store.Bootstrap(ctx, st, cat.Evidence)
		}
		if err != nil {
			return eris.Wrap(err, "store: seed")
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d evidence rows\n", n)
		return nil
	},
}

func init() {
	storeSeedCmd.Flags().Bool("force", false, "rewrite the corpus even if the store is not empty")

	storeCmd.AddCommand(storeMigrateCmd, storeSeedCmd)
	rootCmd.AddCommand(storeCmd)
}

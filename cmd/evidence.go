package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/signalcore/evidence-engine/internal/model"
	"github.com/signalcore/evidence-engine/internal/store"
)

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "List evidence from the corpus",
	RunE: func(cmd *cobra.Command, args []string) error {
		vendor, _ := cmd.Flags().GetString("vendor")
		requirement, _ := cmd.Flags().GetString("requirement")
		asJSON, _ := cmd.Flags().GetBool("json")

		env, err := openCorpus(cmd.Context(), cfg, "store")
		if err != nil {
			return err
		}
		defer env.Close()

		items, err := env.Store.ListEvidence(cmd.Context(), store.EvidenceFilter{
			VendorID:      vendor,
			RequirementID: requirement,
		})
		if err != nil {
			return eris.Wrap(err, "evidence: list")
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return eris.Wrap(enc.Encode(items), "evidence: write json")
		}
		printEvidence(out, items)
		return nil
	},
}

func init() {
	f := evidenceCmd.Flags()
	f.String("vendor", "", "filter by vendor id")
	f.String("requirement", "", "filter by requirement id")
	f.Bool("json", false, "print evidence as JSON")

	rootCmd.AddCommand(evidenceCmd)
}

func printEvidence(w io.Writer, items []model.Evidence) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No evidence.")
		return
	}
	for _, e := range items {
		fmt.Fprintf(w, "%s  %s/%s  [%s, %s, %s]\n  %s\n  %s\n",
			e.ID, e.VendorID, e.RequirementID,
			e.SourceType, e.Strength, e.PublishedAt.Format("2006-01-02"),
			e.Claim, e.SourceURL)
	}
	fmt.Fprintf(w, "\n%d items\n", len(items))
}

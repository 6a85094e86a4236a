package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/signalcore/evidence-engine/internal/model"
	"github.com/signalcore/evidence-engine/internal/store"
)

var scoreFormats = []string{"table", "csv", "json", "xlsx"}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Rank vendors from the evidence corpus",
	Long: `Scores every vendor against every requirement from the stored evidence
corpus and ranks them by weighted total.

Requirement weights default to priority (high=3, medium=2, low=1). Passing
--weights switches to custom weights; requirements left out weigh 1.

Examples:
  # Default priority weighting
  score

  # Emphasize self-hosting, ignore pricing
  score --weights self-hosting=5,pricing=0

  # Export the ranking to a spreadsheet
  score --format xlsx --output scores.xlsx`,
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.String("weights", "", "comma-separated requirement weights, e.g. self-hosting=5,pricing=0")
	f.String("format", "table", "output format: table, csv, json or xlsx")
	f.String("output", "", "output file path (default: stdout; required for xlsx)")

	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rawWeights, _ := cmd.Flags().GetString("weights")
	format, _ := cmd.Flags().GetString("format")
	outputPath, _ := cmd.Flags().GetString("output")

	if !slices.Contains(scoreFormats, format) {
		return eris.Errorf("score: --format must be one of %s (got %q)", strings.Join(scoreFormats, ", "), format)
	}
	if format == "xlsx" && outputPath == "" {
		return eris.New("score: --output is required for xlsx")
	}
	weights, err := parseWeights(rawWeights)
	if err != nil {
		return err
	}

	env, err := openCorpus(ctx, cfg, "score")
	if err != nil {
		return err
	}
	defer env.Close()

	evidence, err := env.Store.ListEvidence(ctx, store.EvidenceFilter{})
	if err != nil {
		return eris.Wrap(err, "score: load corpus")
	}

	scores := env.Scoring.VendorScores(env.Catalog.Vendors, env.Catalog.Requirements, evidence, weights)
	zap.L().Info("score: ranked vendors",
		zap.Int("vendors", len(scores)),
		zap.Int("evidence", len(evidence)),
		zap.Bool("custom_weights", weights != nil),
	)

	return outputScores(cmd.OutOrStdout(), scores, format, outputPath)
}

// parseWeights parses "req=n,req=n". An empty string yields nil, which
// selects priority weighting.
func parseWeights(raw string) (map[string]float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	weights := make(map[string]float64)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, val, ok := strings.Cut(part, "=")
		if !ok || strings.TrimSpace(id) == "" {
			return nil, eris.Errorf("score: invalid weight %q (want requirement=weight)", part)
		}
		w, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "score: invalid weight for %s", id)
		}
		if w < 0 {
			return nil, eris.Errorf("score: weight for %s must be >= 0", id)
		}
		weights[strings.TrimSpace(id)] = w
	}
	return weights, nil
}

func outputScores(stdout io.Writer, scores []model.VendorScore, format, outputPath string) error {
	if format == "xlsx" {
		return writeScoreXLSX(outputPath, scores)
	}

	w := stdout
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return eris.Wrapf(err, "score: create output file %s", outputPath)
		}
		defer f.Close() //nolint:errcheck
		w = f
	}

	switch format {
	case "csv":
		return writeScoreCSV(w, scores)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(scores), "score: write json")
	default:
		return writeScoreTable(w, scores)
	}
}

var scoreCSVHeader = []string{"rank", "vendor_id", "vendor_name", "total_score", "confidence", "requirement_id", "score", "requirement_confidence", "evidence_count", "freshness"}

// writeScoreCSV writes one row per vendor and requirement.
func writeScoreCSV(w io.Writer, scores []model.VendorScore) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(scoreCSVHeader); err != nil {
		return eris.Wrap(err, "score: write CSV header")
	}
	for i, vs := range scores {
		for _, s := range vs.Scores {
			row := []string{
				strconv.Itoa(i + 1),
				vs.Vendor.ID,
				vs.Vendor.Name,
				fmt.Sprintf("%.2f", vs.TotalScore),
				string(vs.Confidence),
				s.RequirementID,
				fmt.Sprintf("%.2f", s.Score),
				string(s.Confidence),
				strconv.Itoa(s.EvidenceCount),
				string(s.FreshnessLevel),
			}
			if err := cw.Write(row); err != nil {
				return eris.Wrap(err, "score: write CSV row")
			}
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "score: flush CSV")
}

func writeScoreTable(w io.Writer, scores []model.VendorScore) error {
	if _, err := fmt.Fprintf(w, "%-4s %-14s %-24s %7s %-10s\n", "Rank", "Vendor", "Name", "Score", "Confidence"); err != nil {
		return eris.Wrap(err, "score: write table header")
	}
	for i, vs := range scores {
		if _, err := fmt.Fprintf(w, "%-4d %-14s %-24s %7.2f %-10s\n",
			i+1, vs.Vendor.ID, vs.Vendor.Name, vs.TotalScore, vs.Confidence); err != nil {
			return eris.Wrap(err, "score: write table row")
		}
	}
	return nil
}

// writeScoreXLSX writes a ranking sheet and a per-requirement detail sheet.
func writeScoreXLSX(path string, scores []model.VendorScore) error {
	file := xlsx.NewFile()

	ranking, err := file.AddSheet("Ranking")
	if err != nil {
		return eris.Wrap(err, "score: add ranking sheet")
	}
	addStringRow(ranking, "rank", "vendor_id", "vendor_name", "total_score", "confidence")
	for i, vs := range scores {
		row := ranking.AddRow()
		row.AddCell().SetInt(i + 1)
		row.AddCell().SetString(vs.Vendor.ID)
		row.AddCell().SetString(vs.Vendor.Name)
		row.AddCell().SetFloat(vs.TotalScore)
		row.AddCell().SetString(string(vs.Confidence))
	}

	detail, err := file.AddSheet("Requirements")
	if err != nil {
		return eris.Wrap(err, "score: add detail sheet")
	}
	addStringRow(detail, "vendor_id", "requirement_id", "score", "confidence", "evidence_count", "freshness")
	for _, vs := range scores {
		for _, s := range vs.Scores {
			row := detail.AddRow()
			row.AddCell().SetString(vs.Vendor.ID)
			row.AddCell().SetString(s.RequirementID)
			row.AddCell().SetFloat(s.Score)
			row.AddCell().SetString(string(s.Confidence))
			row.AddCell().SetInt(s.EvidenceCount)
			row.AddCell().SetString(string(s.FreshnessLevel))
		}
	}

	if err := file.Save(path); err != nil {
		return eris.Wrapf(err, "score: save %s", path)
	}
	return nil
}

func addStringRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

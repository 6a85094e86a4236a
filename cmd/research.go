package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/signalcore/evidence-engine/internal/model"
	"github.com/signalcore/evidence-engine/internal/store"
)

var researchCmd = &cobra.Command{
	Use:   "research",
	Short: "Run one research session in the foreground",
	Long: `Fetches every catalog source, analyzes each page against every requirement
and prints progress events as they happen.

Examples:
  # Simulated run with human-readable progress
  research

  # Live run, events as JSON lines, results merged into the corpus
  RESEARCH_MODE=live research --json --save`,
	RunE: runResearch,
}

func init() {
	f := researchCmd.Flags()
	f.Bool("json", false, "print events as JSON lines")
	f.Bool("save", false, "merge the session's evidence into the evidence store")
	f.Bool("score", false, "print a vendor ranking computed from the session's evidence")

	rootCmd.AddCommand(researchCmd)
}

func runResearch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	asJSON, _ := cmd.Flags().GetBool("json")
	save, _ := cmd.Flags().GetBool("save")
	withScore, _ := cmd.Flags().GetBool("score")

	out := cmd.OutOrStdout()
	printer := &eventPrinter{w: out, json: asJSON}

	env, err := initEnv(ctx, cfg, "research", func(_ string, ev model.ResearchEvent) {
		printer.print(ev)
	})
	if err != nil {
		return err
	}
	defer env.Close()

	s := env.Registry.Create()
	runErr := env.Orchestrator.Run(ctx, s.ID)

	sess, ok := env.Registry.Get(s.ID)
	if !ok {
		return eris.New("research: session disappeared")
	}
	if runErr != nil {
		return runErr
	}

	evidence := sess.Evidence()
	if save && len(evidence) > 0 {
		n, err := env.Store.SaveEvidence(ctx, store.SessionEvidence(sess.ID, evidence))
		if err != nil {
			return eris.Wrap(err, "research: save evidence")
		}
		zap.L().Info("research: evidence saved", zap.Int64("rows", n))
	}

	if totals := env.Costs.Totals(); totals.Calls > 0 {
		zap.L().Info("research: analyzer spend",
			zap.Int64("calls", totals.Calls),
			zap.Int64("input_tokens", totals.InputTokens),
			zap.Int64("output_tokens", totals.OutputTokens),
			zap.Float64("estimated_cost_usd", totals.CostUSD),
		)
	}

	if asJSON {
		return nil
	}
	printSessionSummary(out, sess)

	if withScore {
		scores := env.Scoring.VendorScores(env.Catalog.Vendors, env.Catalog.Requirements, evidence, nil)
		fmt.Fprintln(out)
		return writeScoreTable(out, scores)
	}
	return nil
}

// eventPrinter serializes event output from concurrent vendor jobs.
type eventPrinter struct {
	mu   sync.Mutex
	w    io.Writer
	json bool
}

func (p *eventPrinter) print(ev model.ResearchEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		data, err := json.Marshal(ev)
		if err != nil {
			zap.L().Warn("research: encode event", zap.Error(err))
			return
		}
		fmt.Fprintf(p.w, "%s\n", data)
		return
	}
	fmt.Fprintln(p.w, formatEvent(ev))
}

func formatEvent(ev model.ResearchEvent) string {
	switch ev.Type {
	case model.EventJobStarted:
		return fmt.Sprintf("[%s] started %s", ev.VendorID, ev.VendorName)
	case model.EventSourceFetched:
		return fmt.Sprintf("[%s] fetched %s (%s)", ev.VendorID, ev.URL, ev.Status)
	case model.EventAnalysisComplete:
		return fmt.Sprintf("[%s] %s: %d evidence", ev.VendorID, ev.RequirementID, ev.EvidenceCount)
	case model.EventJobComplete:
		return fmt.Sprintf("[%s] complete, %d evidence", ev.VendorID, ev.TotalEvidence)
	case model.EventSessionComplete:
		return fmt.Sprintf("session complete: %d evidence in %s", ev.TotalEvidence, ev.Duration.Round(time.Millisecond))
	case model.EventError:
		if ev.VendorID == "" {
			return "error: " + ev.Message
		}
		return fmt.Sprintf("[%s] error: %s", ev.VendorID, ev.Message)
	default:
		return string(ev.Type)
	}
}

func printSessionSummary(w io.Writer, s *model.ResearchSession) {
	fmt.Fprintf(w, "\n--- Session %s ---\n", s.ID)
	fmt.Fprintf(w, "%-14s %-10s %7s %9s\n", "Vendor", "Status", "Sources", "Evidence")
	for _, j := range s.Jobs {
		fmt.Fprintf(w, "%-14s %-10s %7d %9d\n", j.VendorID, j.Status, len(j.FetchedPages), len(j.Evidence))
	}
	fmt.Fprintf(w, "Total sources:  %d\n", s.TotalSources())
	fmt.Fprintf(w, "Total evidence: %d\n", len(s.Evidence()))
}

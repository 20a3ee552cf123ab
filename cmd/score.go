package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/outreach-cli/internal/scoring"
)

var scoreCmd = &cobra.Command{
	Use:   "score <id-or-key>",
	Short: "Show the score breakdown for a prospect",
	Long:  "Recomputes the score with the configured weights without saving it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		engine, err := scoring.NewEngine(scoring.WeightsFromConfig(cfg.Scoring), scoring.Options{
			TargetKeywords:  cfg.Scoring.TargetKeywords,
			RecencyHalfLife: time.Duration(cfg.Scoring.RecencyHalfLifeDay) * 24 * time.Hour,
		})
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := findProspect(ctx, st, args[0])
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "%s (stored score %s)\n\n", p.NaturalKey, scoreString(p.Score))
		formatBreakdown(os.Stdout, engine.Score(*p, time.Now()), scoring.WeightsFromConfig(cfg.Scoring))
		return nil
	},
}

func formatBreakdown(out io.Writer, b scoring.Breakdown, w scoring.Weights) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SIGNAL\tSCORE\tWEIGHT")
	fmt.Fprintln(tw, "------\t-----\t------")
	rows := []struct {
		name   string
		score  float64
		weight float64
	}{
		{"authority", b.Authority, w.Authority},
		{"has_email", b.HasEmail, w.HasEmail},
		{"confidence", b.Confidence, w.Confidence},
		{"relevance", b.Relevance, w.Relevance},
		{"completeness", b.Completeness, w.Completeness},
		{"recency", b.Recency, w.Recency},
	}
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%.2f\t%.2f\n", r.name, r.score, r.weight)
	}
	fmt.Fprintf(tw, "total\t%.2f\t\n", b.Total)
	tw.Flush() //nolint:errcheck
}

func init() {
	rootCmd.AddCommand(scoreCmd)
}

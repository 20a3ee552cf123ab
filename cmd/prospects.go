package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/discovery"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/sheet"
	"github.com/sells-group/outreach-cli/internal/store"
)

var prospectsCmd = &cobra.Command{
	Use:   "prospects",
	Short: "Browse, add, import and export prospects",
}

// -- prospects list --

var prospectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List prospects ranked by score",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter, err := prospectFilter(cmd)
		if err != nil {
			return err
		}

		ps, err := st.ListProspects(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "prospects list")
		}
		if len(ps) == 0 {
			fmt.Fprintln(os.Stderr, "No prospects found.")
			return nil
		}

		formatProspectsList(os.Stdout, ps)
		return nil
	},
}

// -- prospects show --

var prospectsShowCmd = &cobra.Command{
	Use:   "show <id-or-key>",
	Short: "Show one prospect by id or natural key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		p, err := findProspect(ctx, st, args[0])
		if err != nil {
			return err
		}

		formatProspectDetail(os.Stdout, *p)
		return nil
	},
}

// -- prospects add --

var prospectsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a prospect by hand",
	Long:  "Adds a website (--website) or social (--platform and --username) prospect. A known --email skips enrichment.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, envOptions{Detached: true})
		if err != nil {
			return err
		}
		defer env.Close()

		in := manualInput(cmd)
		p, err := env.Intake.Add(ctx, in)
		if err != nil {
			return err
		}

		fmt.Fprintf(os.Stdout, "Added %s (%s), stage %s\n", p.NaturalKey, truncateID(p.ID), p.Stage)
		return nil
	},
}

func manualInput(cmd *cobra.Command) discovery.ManualInput {
	str := func(name string) string {
		v, _ := cmd.Flags().GetString(name)
		return v
	}
	keywords, _ := cmd.Flags().GetStringSlice("keywords")
	return discovery.ManualInput{
		Website:  str("website"),
		Platform: str("platform"),
		Username: str("username"),
		Name:     str("name"),
		Email:    str("email"),
		Category: str("category"),
		Location: str("location"),
		Keywords: keywords,
	}
}

// -- prospects import --

var prospectsImportCmd = &cobra.Command{
	Use:   "import <file.csv|file.xlsx>",
	Short: "Import prospects from a spreadsheet",
	Long:  "Imports one prospect per row. The header row must name a website column or platform and username columns.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, envOptions{Detached: true})
		if err != nil {
			return err
		}
		defer env.Close()

		rows, errs := sheet.Open(ctx, args[0])
		res, err := sheet.Import(ctx, env.Intake, rows, errs)
		if err != nil {
			return err
		}

		formatImportResult(os.Stdout, res)
		return nil
	},
}

// -- prospects export --

var prospectsExportCmd = &cobra.Command{
	Use:   "export <file.csv|file.xlsx>",
	Short: "Export ranked prospects to a spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		filter, err := prospectFilter(cmd)
		if err != nil {
			return err
		}

		ps, err := sheet.Collect(ctx, st, filter)
		if err != nil {
			return err
		}

		if err := exportFile(args[0], ps); err != nil {
			return err
		}

		zap.L().Info("exported prospects", zap.String("file", args[0]), zap.Int("count", len(ps)))
		fmt.Fprintf(os.Stdout, "Wrote %d prospects to %s\n", len(ps), args[0])
		return nil
	},
}

func exportFile(path string, ps []model.Prospect) (err error) {
	write := sheet.WriteCSV
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		write = sheet.WriteXLSX
	case ".csv":
	default:
		return eris.Errorf("unsupported export format %q (use .csv or .xlsx)", filepath.Ext(path))
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "create export file")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = eris.Wrap(cerr, "close export file")
		}
	}()
	return write(f, ps)
}

func prospectFilter(cmd *cobra.Command) (store.ProspectFilter, error) {
	stage, _ := cmd.Flags().GetString("stage")
	platform, _ := cmd.Flags().GetString("platform")
	minScore, _ := cmd.Flags().GetFloat64("min-score")
	limit, _ := cmd.Flags().GetInt("limit")

	f := store.ProspectFilter{
		Stage:    model.Stage(stage),
		Platform: platform,
		MinScore: minScore,
		Limit:    limit,
	}
	if f.Stage != "" && !validStage(f.Stage) {
		return f, eris.Errorf("unknown stage %q", stage)
	}
	return f, nil
}

func validStage(s model.Stage) bool {
	for _, known := range model.Stages {
		if s == known {
			return true
		}
	}
	return false
}

// findProspect looks a prospect up by id, then by natural key.
func findProspect(ctx context.Context, st store.Store, ref string) (*model.Prospect, error) {
	p, err := st.GetProspect(ctx, ref)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	p, err = st.GetProspectByKey(ctx, ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, eris.Errorf("prospect %q not found", ref)
	}
	return p, err
}

// -- formatters --

func formatProspectsList(out io.Writer, ps []model.Prospect) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tKEY\tNAME\tSTAGE\tEMAIL\tSCORE")
	fmt.Fprintln(w, "--\t---\t----\t-----\t-----\t-----")

	for _, p := range ps {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(p.ID),
			p.NaturalKey,
			truncate(p.Name, 30),
			p.Stage,
			orDash(p.ContactEmail),
			scoreString(p.Score),
		)
	}
	w.Flush() //nolint:errcheck
}

func formatProspectDetail(out io.Writer, p model.Prospect) {
	fmt.Fprintf(out, "Prospect:     %s\n", p.ID)
	fmt.Fprintf(out, "Key:          %s\n", p.NaturalKey)
	if p.Name != "" {
		fmt.Fprintf(out, "Name:         %s\n", p.Name)
	}
	if p.Website != "" {
		fmt.Fprintf(out, "Website:      %s\n", p.Website)
	}
	if p.Username != "" {
		fmt.Fprintf(out, "Profile:      %s/%s\n", p.Platform, p.Username)
	}
	fmt.Fprintf(out, "Stage:        %s\n", p.Stage)
	fmt.Fprintf(out, "Score:        %s\n", scoreString(p.Score))
	fmt.Fprintf(out, "Email:        %s\n", orDash(p.ContactEmail))
	fmt.Fprintf(out, "Statuses:     scrape=%s verification=%s draft=%s send=%s\n",
		p.ScrapeStatus, p.VerificationStatus, p.DraftStatus, p.SendStatus)
	if p.SentAt != nil {
		fmt.Fprintf(out, "Sent:         %s (%d follow-ups)\n", p.SentAt.Format(time.RFC3339), p.FollowUps)
	}
	if p.DraftSubject != "" {
		fmt.Fprintf(out, "Draft:        %s\n", p.DraftSubject)
	}
	if p.LastError != "" {
		fmt.Fprintf(out, "Last error:   %s\n", p.LastError)
	}
	fmt.Fprintf(out, "Created:      %s\n", p.CreatedAt.Format(time.RFC3339))
}

func formatImportResult(out io.Writer, r sheet.ImportResult) {
	fmt.Fprintf(out, "Added: %d  Duplicates: %d  Invalid: %d\n", r.Added, r.Duplicates, r.Invalid)
	for _, e := range r.Errors {
		fmt.Fprintf(out, "  row %d: %v\n", e.Row, e.Err)
	}
}

func scoreString(s *float64) string {
	if s == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *s)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func addFilterFlags(cmd *cobra.Command, defLimit int) {
	cmd.Flags().String("stage", "", "filter by stage")
	cmd.Flags().String("platform", "", "filter by platform (website, linkedin, ...)")
	cmd.Flags().Float64("min-score", 0, "minimum score")
	cmd.Flags().Int("limit", defLimit, "max prospects")
}

func init() {
	addFilterFlags(prospectsListCmd, 50)
	addFilterFlags(prospectsExportCmd, 0)

	prospectsAddCmd.Flags().String("website", "", "website URL or domain")
	prospectsAddCmd.Flags().String("platform", "", "social platform (linkedin, instagram, twitter, youtube, tiktok)")
	prospectsAddCmd.Flags().String("username", "", "social username")
	prospectsAddCmd.Flags().String("name", "", "display name")
	prospectsAddCmd.Flags().String("email", "", "known contact email")
	prospectsAddCmd.Flags().String("category", "", "category")
	prospectsAddCmd.Flags().String("location", "", "location")
	prospectsAddCmd.Flags().StringSlice("keywords", nil, "keywords")

	prospectsCmd.AddCommand(prospectsListCmd, prospectsShowCmd, prospectsAddCmd, prospectsImportCmd, prospectsExportCmd)
	rootCmd.AddCommand(prospectsCmd)
}

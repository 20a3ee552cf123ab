package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/model"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Trigger and inspect pipeline jobs",
	Long:  "Commands for starting, listing, inspecting and cancelling pipeline jobs.",
}

// -- jobs trigger --

var jobsTriggerCmd = &cobra.Command{
	Use:   "trigger <type>",
	Short: "Start a job (discover, enrich, verify, score, draft, send, followup)",
	Long: "Creates a job. Without --wait the job is left for a running `outreach serve` " +
		"to pick up; with --wait it runs in this process until it finishes.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jobType := model.JobType(args[0])
		if !jobType.Valid() {
			return eris.Errorf("unknown job type %q", args[0])
		}

		raw, _ := cmd.Flags().GetString("params")
		limit, _ := cmd.Flags().GetInt("limit")
		wait, _ := cmd.Flags().GetBool("wait")

		params, err := triggerParams(jobType, raw, limit)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, envOptions{Detached: !wait})
		if err != nil {
			return err
		}
		defer env.Close()

		job, err := env.Orch.Trigger(ctx, jobType, params, model.TriggerManual)
		if err != nil {
			return err
		}

		if !wait {
			fmt.Fprintf(os.Stdout, "Created %s job %s\n", job.Type, job.ID)
			return nil
		}

		zap.L().Info("waiting for job", zap.String("job_id", job.ID))
		final, err := env.Orch.Wait(ctx, job.ID)
		if err != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if serr := env.Orch.Shutdown(shutdownCtx); serr != nil {
				zap.L().Warn("orchestrator shutdown", zap.Error(serr))
			}
			fmt.Fprintf(os.Stderr, "Interrupted; job %s stays active and will be resumed by a serving process.\n", job.ID)
			return err
		}

		formatJobDetail(os.Stdout, *final)
		if final.Status == model.JobFailed {
			return eris.Errorf("job %s failed: %s", final.ID, final.ErrorMessage)
		}
		return nil
	},
}

// triggerParams builds job params from --params JSON or the --limit
// shortcut for batch jobs.
func triggerParams(t model.JobType, raw string, limit int) (any, error) {
	if raw != "" {
		if !json.Valid([]byte(raw)) {
			return nil, eris.New("--params must be valid JSON")
		}
		if limit > 0 {
			return nil, eris.New("--params and --limit are mutually exclusive")
		}
		return json.RawMessage(raw), nil
	}
	if limit > 0 {
		if t == model.JobDiscover {
			return nil, eris.New("--limit does not apply to discover jobs")
		}
		return model.BatchParams{Limit: limit}, nil
	}
	return nil, nil
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		jobType, _ := cmd.Flags().GetString("type")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		jobs, err := st.ListJobs(ctx, model.JobFilter{
			Type:   model.JobType(jobType),
			Status: model.JobStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(jobs) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, jobs)
		return nil
	},
}

// -- jobs status --

var jobsStatusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show full details of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		job, err := st.GetJob(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs status")
		}

		formatJobDetail(os.Stdout, *job)
		return nil
	},
}

// -- jobs cancel --

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a pending or running job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, envOptions{Detached: true})
		if err != nil {
			return err
		}
		defer env.Close()

		cancelled, err := env.Orch.Cancel(ctx, args[0])
		if err != nil {
			return err
		}
		if !cancelled {
			fmt.Fprintf(os.Stdout, "Job %s already finished.\n", args[0])
			return nil
		}
		fmt.Fprintf(os.Stdout, "Cancelled job %s\n", args[0])
		return nil
	},
}

// -- formatters --

func formatJobsList(out io.Writer, jobs []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tTRIGGER\tPROGRESS\tCREATED\tDURATION")
	fmt.Fprintln(w, "--\t----\t------\t-------\t--------\t-------\t--------")

	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(j.ID),
			j.Type,
			j.Status,
			j.TriggeredBy,
			progress(j),
			j.CreatedAt.Format("2006-01-02 15:04"),
			jobDuration(j),
		)
	}
	w.Flush() //nolint:errcheck
}

func formatJobDetail(out io.Writer, j model.Job) {
	fmt.Fprintf(out, "Job:        %s\n", j.ID)
	fmt.Fprintf(out, "Type:       %s\n", j.Type)
	fmt.Fprintf(out, "Status:     %s\n", j.Status)
	fmt.Fprintf(out, "Trigger:    %s\n", j.TriggeredBy)
	fmt.Fprintf(out, "Progress:   %s\n", progress(j))
	if j.Owner != "" {
		fmt.Fprintf(out, "Owner:      %s\n", j.Owner)
	}
	fmt.Fprintf(out, "Created:    %s\n", j.CreatedAt.Format(time.RFC3339))
	if j.StartedAt != nil {
		fmt.Fprintf(out, "Started:    %s\n", j.StartedAt.Format(time.RFC3339))
	}
	if j.FinishedAt != nil {
		fmt.Fprintf(out, "Finished:   %s\n", j.FinishedAt.Format(time.RFC3339))
		fmt.Fprintf(out, "Duration:   %s\n", jobDuration(j))
	}
	if j.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:      %s\n", j.ErrorMessage)
	}
	if len(j.Params) > 0 && string(j.Params) != "{}" {
		fmt.Fprintf(out, "Params:     %s\n", j.Params)
	}
	if len(j.Result) > 0 {
		var pretty map[string]any
		if err := json.Unmarshal(j.Result, &pretty); err == nil {
			b, _ := json.MarshalIndent(pretty, "            ", "  ")
			fmt.Fprintf(out, "Result:     %s\n", b)
		} else {
			fmt.Fprintf(out, "Result:     %s\n", j.Result)
		}
	}
}

func progress(j model.Job) string {
	s := fmt.Sprintf("%d/%d", j.ItemsCompleted+j.ItemsFailed, j.ItemsTargeted)
	if j.ItemsFailed > 0 {
		s += fmt.Sprintf(" (%d failed)", j.ItemsFailed)
	}
	return s
}

func jobDuration(j model.Job) string {
	if j.StartedAt == nil || j.FinishedAt == nil {
		return "-"
	}
	return j.FinishedAt.Sub(*j.StartedAt).Round(time.Second).String()
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	jobsTriggerCmd.Flags().String("params", "", "job params as JSON")
	jobsTriggerCmd.Flags().Int("limit", 0, "max prospects for batch jobs (default from config)")
	jobsTriggerCmd.Flags().Bool("wait", false, "run the job here and wait for it to finish")

	jobsListCmd.Flags().String("type", "", "filter by job type")
	jobsListCmd.Flags().String("status", "", "filter by status (pending, running, completed, failed, cancelled)")
	jobsListCmd.Flags().Int("limit", 20, "max jobs to show")

	jobsCmd.AddCommand(jobsTriggerCmd, jobsListCmd, jobsStatusCmd, jobsCancelCmd)
	rootCmd.AddCommand(jobsCmd)
}

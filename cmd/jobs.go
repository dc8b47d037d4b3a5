package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/modelgen/internal/jobs"
	"github.com/sells-group/modelgen/internal/model"
	"github.com/sells-group/modelgen/internal/store"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect and manage generation jobs",
	Long:  "Commands for listing, viewing, canceling, and summarizing generation jobs.",
}

// -- jobs list --

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List generation jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initOpsStore(ctx, "jobs")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")
		oldest, _ := cmd.Flags().GetBool("oldest-first")

		svc, err := jobsService(st)
		if err != nil {
			return err
		}
		list, err := svc.List(ctx, store.JobFilter{
			Status:      model.JobStatus(status),
			Limit:       limit,
			Offset:      offset,
			OldestFirst: oldest,
		})
		if err != nil {
			return eris.Wrap(err, "jobs list")
		}

		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "No jobs found.")
			return nil
		}

		formatJobsList(os.Stdout, list)
		return nil
	},
}

// -- jobs show --

var jobsShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show a job with the model it produced",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initOpsStore(ctx, "jobs")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		svc, err := jobsService(st)
		if err != nil {
			return err
		}
		view, err := svc.Status(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs show")
		}
		return printJSON(view)
	},
}

// -- jobs cancel --

var jobsCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job that has not finished",
	Long: `Cancels a pending or in-flight job. Best effort: an oracle call already
on the wire is not interrupted, but no further retries run and the job
lands in failed with the canceled class.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initOpsStore(ctx, "jobs")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		svc, err := jobsService(st)
		if err != nil {
			return err
		}
		job, err := svc.Cancel(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "jobs cancel")
		}

		zap.L().Info("job canceled", zap.String("job_id", job.ID))
		return printJSON(job)
	},
}

// -- jobs stats --

var jobsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate job statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initOpsStore(ctx, "jobs")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		since, _ := cmd.Flags().GetDuration("since")

		svc, err := jobsService(st)
		if err != nil {
			return err
		}
		// High limit; the window filter runs client-side.
		list, err := svc.List(ctx, store.JobFilter{Limit: 10000})
		if err != nil {
			return eris.Wrap(err, "jobs stats")
		}

		stats := computeJobStats(list, since)
		formatJobStats(os.Stdout, stats)
		return nil
	},
}

// jobsService builds the job API over an already opened store. The ops
// commands never publish events.
func jobsService(st store.Store) (*jobs.Service, error) {
	reg, err := initRegistry()
	if err != nil {
		return nil, err
	}
	return jobs.NewService(st, reg, nil), nil
}

// jobStats holds aggregate statistics computed from a set of jobs.
type jobStats struct {
	Total        int
	Completed    int
	Failed       int
	Canceled     int
	Stalled      int
	Validation   int
	Transport    int
	OtherFailed  int
	Queued       int
	Active       int
	AvgDurSecs   float64
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// computeJobStats aggregates jobs created within the window. A zero
// window keeps everything.
func computeJobStats(list []model.Job, window time.Duration) jobStats {
	var s jobStats
	var cutoff time.Time
	if window > 0 {
		cutoff = time.Now().Add(-window)
	}

	var totalDur time.Duration
	var durCount int

	for _, j := range list {
		if !cutoff.IsZero() && j.CreatedAt.Before(cutoff) {
			continue
		}
		s.Total++
		s.InputTokens += j.Usage.InputTokens
		s.OutputTokens += j.Usage.OutputTokens
		s.Cost += j.Usage.Cost

		switch j.Status {
		case model.JobStatusCompleted:
			s.Completed++
			totalDur += j.UpdatedAt.Sub(j.CreatedAt)
			durCount++
		case model.JobStatusFailed:
			s.Failed++
			switch j.ErrorClass {
			case model.ErrorClassCanceled:
				s.Canceled++
			case model.ErrorClassStalled:
				s.Stalled++
			case model.ErrorClassValidation, model.ErrorClassClassification:
				s.Validation++
			case model.ErrorClassTransport, model.ErrorClassTransportAuth:
				s.Transport++
			default:
				s.OtherFailed++
			}
		case model.JobStatusPending:
			s.Queued++
		default:
			s.Active++
		}
	}

	if durCount > 0 {
		s.AvgDurSecs = totalDur.Seconds() / float64(durCount)
	}
	return s
}

// formatJobsList writes a tabular listing to out.
func formatJobsList(out io.Writer, list []model.Job) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tARCHETYPE\tRETRIES\tERROR_CLASS\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t------\t---------\t-------\t-----------\t-------\t--------")

	for _, j := range list {
		archetype := j.ArchetypeOverride
		if j.Classification != nil {
			archetype = j.Classification.Archetype
		}

		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			truncateID(j.ID),
			j.Status,
			archetype,
			j.RetryCount,
			j.ErrorClass,
			j.CreatedAt.Format("2006-01-02 15:04"),
			j.UpdatedAt.Sub(j.CreatedAt).Round(time.Second).String(),
		)
	}
	_ = w.Flush()
}

func formatJobStats(out io.Writer, s jobStats) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Total jobs:\t%d\n", s.Total)
	_, _ = fmt.Fprintf(w, "Completed:\t%d\n", s.Completed)
	_, _ = fmt.Fprintf(w, "Failed:\t%d\n", s.Failed)
	_, _ = fmt.Fprintf(w, "  Validation:\t%d\n", s.Validation)
	_, _ = fmt.Fprintf(w, "  Transport:\t%d\n", s.Transport)
	_, _ = fmt.Fprintf(w, "  Canceled:\t%d\n", s.Canceled)
	_, _ = fmt.Fprintf(w, "  Stalled:\t%d\n", s.Stalled)
	_, _ = fmt.Fprintf(w, "  Other:\t%d\n", s.OtherFailed)
	_, _ = fmt.Fprintf(w, "Queued:\t%d\n", s.Queued)
	_, _ = fmt.Fprintf(w, "Active:\t%d\n", s.Active)
	if s.AvgDurSecs > 0 {
		_, _ = fmt.Fprintf(w, "Avg duration:\t%.1fs\n", s.AvgDurSecs)
	}
	_, _ = fmt.Fprintf(w, "Tokens in/out:\t%d/%d\n", s.InputTokens, s.OutputTokens)
	if s.Cost > 0 {
		_, _ = fmt.Fprintf(w, "Oracle spend:\t$%.4f\n", s.Cost)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func init() {
	jobsListCmd.Flags().String("status", "", "filter by status (pending, classifying, generating, completed, failed)")
	jobsListCmd.Flags().Int("limit", 50, "max number of jobs to display")
	jobsListCmd.Flags().Int("offset", 0, "number of jobs to skip")
	jobsListCmd.Flags().Bool("oldest-first", false, "list oldest jobs first")

	jobsStatsCmd.Flags().Duration("since", 24*time.Hour, "time window for stats (e.g. 24h, 72h, 168h)")

	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
	jobsCmd.AddCommand(jobsCancelCmd)
	jobsCmd.AddCommand(jobsStatsCmd)
	rootCmd.AddCommand(jobsCmd)
}

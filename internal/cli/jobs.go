package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/raphaelgruber/movie-recommender/internal/service"
	"github.com/spf13/cobra"
)

var jobsCmd = &cobra.Command{
	Use:   "jobs [job-id]",
	Short: "List or inspect embedding build jobs",
	Long: `List all background jobs or inspect a specific job by ID.

Jobs live in the server process, so this command is mainly useful with --server.

Examples:
  movierec jobs --server http://localhost:8000           # List all jobs
  movierec jobs --server http://localhost:8000 abc123    # Show details for job abc123`,
	Args: cobra.MaximumNArgs(1),
	RunE: runJobs,
}

func runJobs(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	b, err := getBackend(ctx)
	if err != nil {
		return err
	}

	if len(args) == 1 {
		job, err := b.GetJob(ctx, args[0])
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}
		printJob(os.Stdout, job)
		return nil
	}

	jobs, err := b.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	printJobs(os.Stdout, jobs)
	return nil
}

func printJobs(w io.Writer, jobs []service.JobInfo) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return
	}

	fmt.Fprintf(w, "%-36s %-20s %-10s %-12s %s\n", "ID", "MODEL", "STATUS", "PROGRESS", "STARTED")
	fmt.Fprintln(w, strings.Repeat("-", 92))

	for _, job := range jobs {
		progress := ""
		if job.Total > 0 {
			progress = fmt.Sprintf("%d/%d", job.Progress, job.Total)
		}
		started := job.StartedAt.Format("15:04:05")
		fmt.Fprintf(w, "%-36s %-20s %-10s %-12s %s\n", job.ID, job.Model, job.Status, progress, started)
	}
}

func printJob(w io.Writer, job *service.JobInfo) {
	fmt.Fprintf(w, "Job: %s\n", job.ID)
	fmt.Fprintf(w, "  Type: %s\n", job.Type)
	fmt.Fprintf(w, "  Model: %s\n", job.Model)
	fmt.Fprintf(w, "  Output: %s\n", job.OutputPath)
	fmt.Fprintf(w, "  Status: %s\n", job.Status)
	if job.Total > 0 {
		fmt.Fprintf(w, "  Progress: %d/%d\n", job.Progress, job.Total)
	}
	fmt.Fprintf(w, "  Started: %s\n", job.StartedAt.Format(time.RFC3339))
	if job.CompletedAt != nil {
		fmt.Fprintf(w, "  Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
		fmt.Fprintf(w, "  Duration: %s\n", job.CompletedAt.Sub(job.StartedAt).Round(time.Second))
	}

	if job.Error != "" {
		fmt.Fprintf(w, "  Error: %s\n", job.Error)
	}

	if job.Result != nil {
		fmt.Fprintln(w, "\nResult:")
		writeBuildResult(w, job.Result, "  ")
	}
}

func writeBuildResult(w io.Writer, r *service.BuildResult, indent string) {
	fmt.Fprintf(w, "%sPath:      %s\n", indent, r.Path)
	fmt.Fprintf(w, "%sRows:      %d\n", indent, r.Rows)
	fmt.Fprintf(w, "%sDimension: %d\n", indent, r.Dimension)
	fmt.Fprintf(w, "%sDuration:  %s\n", indent, (time.Duration(r.DurationMs) * time.Millisecond).Round(time.Millisecond))
}

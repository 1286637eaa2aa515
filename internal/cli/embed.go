package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/raphaelgruber/movie-recommender/internal/service"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	embedOut   string
	embedNoTUI bool
)

var embedCmd = &cobra.Command{
	Use:   "embed <model>",
	Short: "Build the embedding matrix for a model from the catalog",
	Long: `Encode every catalog overview with the model and write the matrix as .npy.

The output defaults to the model's embeddings_path, which replaces the matrix
used for recommendations. s3:// outputs are uploaded to object storage.

With --server the build runs on the server and survives this command exiting.

Examples:
  movierec embed all-MiniLM-L6-v2
  movierec embed minilm --out ./data/minilm-v2.npy
  movierec embed minilm --server http://localhost:8000 --out s3://bucket/minilm.npy`,
	Args: cobra.ExactArgs(1),
	RunE: runEmbed,
}

func init() {
	embedCmd.Flags().StringVarP(&embedOut, "out", "o", "", "output path (default: the model's embeddings_path)")
	embedCmd.Flags().BoolVar(&embedNoTUI, "no-progress", false, "print plain progress lines instead of the progress bar")
}

func runEmbed(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	b, err := getBackend(ctx)
	if err != nil {
		return err
	}

	job, err := b.StartEmbeddingJob(ctx, args[0], embedOut)
	if err != nil {
		return fmt.Errorf("start embedding job: %w", err)
	}

	if !embedNoTUI && term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Printf("Building embeddings for %s → %s\n", job.Model, job.OutputPath)
		return RunJobProgress(b.GetJob, job, remote())
	}

	return waitForJob(ctx, os.Stdout, b.GetJob, job.ID, pollInterval)
}

// waitForJob polls a job until it finishes, printing progress whenever it
// changes.
func waitForJob(ctx context.Context, w io.Writer, fetch jobFetcher, id string, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for {
		job, err := fetch(ctx, id)
		if err != nil {
			return fmt.Errorf("get job: %w", err)
		}

		if job.Progress != last && job.Total > 0 {
			fmt.Fprintf(w, "[%s] %d/%d rows\n", job.Status, job.Progress, job.Total)
			last = job.Progress
		}

		switch job.Status {
		case service.JobStatusCompleted:
			fmt.Fprintln(w, "Completed")
			if job.Result != nil {
				writeBuildResult(w, job.Result, "  ")
			}
			return nil
		case service.JobStatusFailed:
			return fmt.Errorf("job failed: %w", jobError(job))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/raphaelgruber/movie-recommender/internal/client"
	"github.com/raphaelgruber/movie-recommender/internal/service"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	recModel         string
	recTopK          int
	recDateFrom      string
	recDateTo        string
	recMinPopularity float64
	recMaxPopularity float64
	recMinRating     float64
	recMaxRating     float64
	recExclude       []string
	recJSON          bool
)

var recommendCmd = &cobra.Command{
	Use:   "recommend <query>",
	Short: "Recommend movies matching a free-text description",
	Long: `Embed the query with the chosen model and return the catalog movies whose
overview is most similar, after applying the optional filters.

Unset filters use the defaults: release dates 1902-04-17 to 2021-03-24,
popularity 0 to 11702, rating 0 to 10, top 5 results.

Examples:
  movierec recommend "heist movie with a twist" -m all-MiniLM-L6-v2
  movierec recommend "space opera" -m minilm -k 10 --from 1990-01-01
  movierec recommend "romantic comedy" -m minilm --min-rating 7 --exclude "Notting Hill"`,
	Args: cobra.ExactArgs(1),
	RunE: runRecommend,
}

var similarCmd = &cobra.Command{
	Use:   "similar <title>",
	Short: "Recommend movies similar to a catalog movie",
	Long: `Use the overview of a catalog movie as the query. The movie itself is
excluded from the results.

Examples:
  movierec similar "The Matrix" -m minilm
  movierec similar "Heat" -m minilm -k 3 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

func addQueryFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&recModel, "model", "m", "", "model name from the model configuration (required)")
	fs.IntVarP(&recTopK, "top-k", "k", 5, "number of results")
	fs.StringVar(&recDateFrom, "from", "", "earliest release date (YYYY-MM-DD)")
	fs.StringVar(&recDateTo, "to", "", "latest release date (YYYY-MM-DD)")
	fs.Float64Var(&recMinPopularity, "min-popularity", 0, "minimum popularity")
	fs.Float64Var(&recMaxPopularity, "max-popularity", 0, "maximum popularity")
	fs.Float64Var(&recMinRating, "min-rating", 0, "minimum vote average")
	fs.Float64Var(&recMaxRating, "max-rating", 0, "maximum vote average")
	fs.StringSliceVar(&recExclude, "exclude", nil, "titles to exclude")
	fs.BoolVar(&recJSON, "json", false, "print the raw JSON response")
}

func init() {
	addQueryFlags(recommendCmd.Flags())
	addQueryFlags(similarCmd.Flags())
	_ = recommendCmd.MarkFlagRequired("model")
	_ = similarCmd.MarkFlagRequired("model")
}

// buildQuery turns the flags the user actually set into a query, leaving the
// rest to the defaults.
func buildQuery(fs *pflag.FlagSet) client.Query {
	q := client.Query{ModelName: recModel, ExcludeTitles: recExclude}
	if fs.Changed("top-k") {
		q.TopK = &recTopK
	}
	if fs.Changed("from") {
		q.DateFrom = &recDateFrom
	}
	if fs.Changed("to") {
		q.DateTo = &recDateTo
	}
	if fs.Changed("min-popularity") {
		q.MinPopularity = &recMinPopularity
	}
	if fs.Changed("max-popularity") {
		q.MaxPopularity = &recMaxPopularity
	}
	if fs.Changed("min-rating") {
		q.MinRating = &recMinRating
	}
	if fs.Changed("max-rating") {
		q.MaxRating = &recMaxRating
	}
	return q
}

func runRecommend(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	b, err := getBackend(ctx)
	if err != nil {
		return err
	}
	resp, err := b.Recommend(ctx, args[0], buildQuery(cmd.Flags()))
	if err != nil {
		return fmt.Errorf("recommend: %w", err)
	}
	return printResponse(os.Stdout, resp, recJSON)
}

func runSimilar(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	b, err := getBackend(ctx)
	if err != nil {
		return err
	}
	resp, err := b.Similar(ctx, args[0], buildQuery(cmd.Flags()))
	if err != nil {
		return fmt.Errorf("similar: %w", err)
	}
	return printResponse(os.Stdout, resp, recJSON)
}

// printResponse writes ranked results, or the raw response as JSON.
func printResponse(w io.Writer, resp *service.Response, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	if len(resp.Recommendations) == 0 {
		fmt.Fprintln(w, "No movies match the filter criteria.")
		return nil
	}

	fmt.Fprintf(w, "Top %d results from %s:\n\n", len(resp.Recommendations), resp.ModelInfo.ModelName)
	for i, r := range resp.Recommendations {
		fmt.Fprintf(w, "%d. %s (score %.3f)\n", i+1, r.Title, r.Score)
		if overview := truncate(r.Overview, 100); overview != "" {
			fmt.Fprintf(w, "   %s\n", overview)
		}
		if verbose {
			fmt.Fprintf(w, "   popularity %.1f, rating %.1f\n", r.Popularity, r.Rating)
		}
		fmt.Fprintln(w)
	}
	return nil
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/raphaelgruber/movie-recommender/internal/client"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	titlesFilter string
	modelsYAML   bool
)

var titlesCmd = &cobra.Command{
	Use:   "titles",
	Short: "List catalog movie titles",
	Long: `List every movie title in the catalog, in catalog order.

Examples:
  movierec titles
  movierec titles --filter matrix`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		b, err := getBackend(ctx)
		if err != nil {
			return err
		}
		titles, err := b.Titles(ctx)
		if err != nil {
			return fmt.Errorf("list titles: %w", err)
		}
		for _, t := range titles {
			if titlesFilter == "" || strings.Contains(strings.ToLower(t), strings.ToLower(titlesFilter)) {
				fmt.Println(t)
			}
		}
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List configured and loaded models",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		b, err := getBackend(ctx)
		if err != nil {
			return err
		}
		resp, err := b.Models(ctx)
		if err != nil {
			return fmt.Errorf("list models: %w", err)
		}
		if modelsYAML {
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(resp)
		}
		printModels(os.Stdout, resp)
		return nil
	},
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Reload the model configuration",
	Long: `Re-read the model configuration and drop every loaded model and cached
artifact. On failure the previous configuration stays active.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		b, err := getBackend(ctx)
		if err != nil {
			return err
		}
		names, err := b.Reload(ctx)
		if err != nil {
			return fmt.Errorf("reload: %w", err)
		}
		fmt.Printf("Reloaded %d models: %s\n", len(names), strings.Join(names, ", "))
		return nil
	},
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the data cache",
}

var cacheKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "List cached artifacts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		b, err := getBackend(ctx)
		if err != nil {
			return err
		}
		keys, err := b.CacheKeys(ctx)
		if err != nil {
			return fmt.Errorf("cache keys: %w", err)
		}
		if len(keys) == 0 {
			fmt.Println("Cache is empty")
			return nil
		}
		for _, k := range keys {
			fmt.Println(k)
		}
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop cached catalog and embedding data",
	Long:  `Drop the cached catalog and embedding matrices. Loaded models stay loaded.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		b, err := getBackend(ctx)
		if err != nil {
			return err
		}
		if err := b.ClearCache(ctx); err != nil {
			return fmt.Errorf("clear cache: %w", err)
		}
		fmt.Println("Cache cleared")
		return nil
	},
}

func init() {
	titlesCmd.Flags().StringVarP(&titlesFilter, "filter", "f", "", "only show titles containing this text (case-insensitive)")
	modelsCmd.Flags().BoolVar(&modelsYAML, "yaml", false, "print the full model configuration as YAML")

	cacheCmd.AddCommand(cacheKeysCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func printModels(w io.Writer, resp *client.ModelsResponse) {
	if len(resp.Models) == 0 {
		fmt.Fprintln(w, "No models configured")
		return
	}

	loaded := make(map[string]bool, len(resp.Loaded))
	for _, m := range resp.Loaded {
		loaded[m.Name] = true
	}

	names := make([]string, 0, len(resp.Models))
	for name := range resp.Models {
		names = append(names, name)
	}
	slices.Sort(names)

	fmt.Fprintf(w, "%-28s %-18s %-8s %-8s %s\n", "NAME", "TYPE", "RAM(GB)", "LOADED", "EMBEDDINGS")
	fmt.Fprintln(w, strings.Repeat("-", 90))
	for _, name := range names {
		mc := resp.Models[name]
		state := ""
		if loaded[name] {
			state = "yes"
		}
		fmt.Fprintf(w, "%-28s %-18s %-8.2f %-8s %s\n", name, mc.Type, mc.RAM, state, mc.EmbeddingsPath)
	}
}

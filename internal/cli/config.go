package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/raphaelgruber/movie-recommender/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect process configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Print the configuration resolved from the environment and .env, with
secrets masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printConfig(os.Stdout, cfg)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
}

// configView is the printable form of config.Config.
type configView struct {
	MoviesCSVPath    string `yaml:"movies_csv_path"`
	ModelsConfigPath string `yaml:"models_config_path"`
	StagingDir       string `yaml:"staging_dir"`
	UseSSM           bool   `yaml:"use_ssm"`
	SSMParameter     string `yaml:"ssm_parameter,omitempty"`
	ServerPort       string `yaml:"server_port"`
	ServerURL        string `yaml:"server_url,omitempty"`
	ClientTimeout    string `yaml:"client_timeout"`
	RateLimit        int    `yaml:"rate_limit_per_minute"`
	RequestTimeout   string `yaml:"request_timeout"`
	OllamaHost       string `yaml:"ollama_host,omitempty"`
	OpenAIAPIKey     string `yaml:"openai_api_key,omitempty"`
	ONNXRuntimeLib   string `yaml:"onnxruntime_lib,omitempty"`
	LogFile          string `yaml:"log_file,omitempty"`
	LogLevel         string `yaml:"log_level"`
}

func printConfig(w io.Writer, c config.Config) error {
	v := configView{
		MoviesCSVPath:    c.MoviesCSVPath,
		ModelsConfigPath: c.ModelsConfigPath,
		StagingDir:       c.StagingDir,
		UseSSM:           c.UseSSM,
		ServerPort:       c.ServerPort,
		ServerURL:        c.ServerURL,
		ClientTimeout:    c.ClientTimeout.String(),
		RateLimit:        c.RateLimit,
		RequestTimeout:   c.RequestTimeout.String(),
		OllamaHost:       c.OllamaHost,
		OpenAIAPIKey:     mask(c.OpenAIAPIKey),
		ONNXRuntimeLib:   c.ONNXRuntimeLib,
		LogFile:          c.LogFile,
		LogLevel:         c.LogLevel.String(),
	}
	if c.UseSSM {
		v.SSMParameter = c.SSMParameterName()
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return enc.Close()
}

// mask keeps the last four characters of a secret.
func mask(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 4 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

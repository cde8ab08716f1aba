package commands

import (
	"github.com/spf13/cobra"
	"github.com/xupit3r/quantforge/internal/config"
	"github.com/xupit3r/quantforge/internal/logging"
)

var (
	cfgFile string
	verbose bool
	quiet   bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "quantforge",
	Short: "Quantize Hugging Face models to GGUF and publish them",
	Long: `quantforge downloads a model from the Hugging Face Hub, converts it to
GGUF with llama.cpp, builds a fixed set of quantized variants and uploads
them to a model repository together with a generated README.

When calibration text is configured, an importance matrix is computed first
and a second set of calibrated variants is produced.`,
	Version:      version,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.quantforge/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "only log warnings and errors")

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newFormatsCommand())
}

// loadConfig reads the configuration and sets up logging from it. The
// verbosity flags override the configured level.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	switch {
	case verbose:
		level = "debug"
	case quiet:
		level = "warn"
	}

	if err := logging.Init(level, cfg.Logging.File, cfg.Logging.Console); err != nil {
		return nil, err
	}

	if verbose {
		logging.Debugf("configuration: %+v", cfg.Redacted())
	}
	return cfg, nil
}

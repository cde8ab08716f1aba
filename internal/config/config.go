package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/samber/lo"
	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Hub         HubConfig         `mapstructure:"hub"`
	Toolchain   ToolchainConfig   `mapstructure:"toolchain"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Catalog     CatalogConfig     `mapstructure:"catalog"`
	Output      OutputConfig      `mapstructure:"output"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

type HubConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
	Private  bool   `mapstructure:"private"`
}

type ToolchainConfig struct {
	Python          string `mapstructure:"python"`
	GPULayers       int    `mapstructure:"gpu_layers"`
	OutputFrequency int    `mapstructure:"output_frequency"`
}

type CalibrationConfig struct {
	DataPath string        `mapstructure:"data_path"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Grace    time.Duration `mapstructure:"grace"`
}

type CatalogConfig struct {
	Extension       string   `mapstructure:"extension"`
	Standard        []string `mapstructure:"standard"`
	Calibrated      []string `mapstructure:"calibrated"`
	VerifyArtifacts bool     `mapstructure:"verify_artifacts"`
}

type OutputConfig struct {
	Dir     string `mapstructure:"dir"`
	WorkDir string `mapstructure:"work_dir"`
}

type LoggingConfig struct {
	Level   string `mapstructure:"level"`
	File    string `mapstructure:"file"`
	Console bool   `mapstructure:"console"`
}

// DefaultStandardFormats are applied to every model
var DefaultStandardFormats = []string{
	"Q2_K", "Q3_K_S", "Q3_K_M", "Q3_K_L", "Q4_0",
	"Q4_K_S", "Q4_K_M", "Q5_0", "Q5_K_S", "Q5_K_M",
	"Q6_K", "Q8_0",
}

// DefaultCalibratedFormats need an importance matrix
var DefaultCalibratedFormats = []string{
	"IQ3_M", "IQ3_XXS", "Q4_K_M", "Q4_K_S",
	"IQ4_NL", "IQ4_XS", "Q5_K_M", "Q5_K_S",
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Hub: HubConfig{
			Endpoint: "https://huggingface.co",
			Private:  false,
		},
		Toolchain: ToolchainConfig{
			Python:          "python",
			GPULayers:       99,
			OutputFrequency: 10,
		},
		Calibration: CalibrationConfig{
			Timeout: 240 * time.Second,
			Grace:   20 * time.Second,
		},
		Catalog: CatalogConfig{
			Extension:       "gguf",
			Standard:        append([]string(nil), DefaultStandardFormats...),
			Calibrated:      append([]string(nil), DefaultCalibratedFormats...),
			VerifyArtifacts: true,
		},
		Output: OutputConfig{
			Dir: "./quantized_models",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load loads configuration from file, environment, and defaults
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v, DefaultConfig())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("finding home directory: %w", err)
		}

		v.AddConfigPath(filepath.Join(home, ".quantforge"))
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("config")
	}

	v.SetEnvPrefix("QUANTFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The registry token may also come from the variable the HF tooling uses.
	if err := v.BindEnv("hub.token", "QUANTFORGE_HUB_TOKEN", "HF_TOKEN"); err != nil {
		return nil, fmt.Errorf("binding token env: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.ExpandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Hub.Endpoint == "" {
		return errors.New("hub.endpoint must be set")
	}

	if c.Calibration.Timeout <= 0 {
		return errors.New("calibration.timeout must be positive")
	}
	if c.Calibration.Grace <= 0 {
		return errors.New("calibration.grace must be positive")
	}

	if c.Toolchain.OutputFrequency <= 0 {
		return errors.New("toolchain.output_frequency must be positive")
	}

	if c.Catalog.Extension == "" {
		return errors.New("catalog.extension must be set")
	}
	if len(c.Catalog.Standard) == 0 {
		return errors.New("catalog.standard must list at least one format")
	}
	if err := checkTags("catalog.standard", c.Catalog.Standard); err != nil {
		return err
	}
	if err := checkTags("catalog.calibrated", c.Catalog.Calibrated); err != nil {
		return err
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !lo.Contains(validLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level must be one of: %v", validLevels)
	}

	return nil
}

func checkTags(key string, tags []string) error {
	for _, tag := range tags {
		if strings.TrimSpace(tag) == "" {
			return fmt.Errorf("%s contains an empty format", key)
		}
	}
	if dups := lo.FindDuplicates(tags); len(dups) > 0 {
		return fmt.Errorf("%s lists formats more than once: %v", key, dups)
	}
	return nil
}

// Redacted returns a copy safe to print
func (c *Config) Redacted() Config {
	out := *c
	if out.Hub.Token != "" {
		out.Hub.Token = "********"
	}
	return out
}

// ExpandPaths expands ~ and environment variables in paths
func (c *Config) ExpandPaths() {
	c.Calibration.DataPath = expandPath(c.Calibration.DataPath)
	c.Output.Dir = expandPath(c.Output.Dir)
	c.Output.WorkDir = expandPath(c.Output.WorkDir)
	c.Logging.File = expandPath(c.Logging.File)
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("hub.endpoint", cfg.Hub.Endpoint)
	v.SetDefault("hub.token", cfg.Hub.Token)
	v.SetDefault("hub.private", cfg.Hub.Private)

	v.SetDefault("toolchain.python", cfg.Toolchain.Python)
	v.SetDefault("toolchain.gpu_layers", cfg.Toolchain.GPULayers)
	v.SetDefault("toolchain.output_frequency", cfg.Toolchain.OutputFrequency)

	v.SetDefault("calibration.data_path", cfg.Calibration.DataPath)
	v.SetDefault("calibration.timeout", cfg.Calibration.Timeout)
	v.SetDefault("calibration.grace", cfg.Calibration.Grace)

	v.SetDefault("catalog.extension", cfg.Catalog.Extension)
	v.SetDefault("catalog.standard", cfg.Catalog.Standard)
	v.SetDefault("catalog.calibrated", cfg.Catalog.Calibrated)
	v.SetDefault("catalog.verify_artifacts", cfg.Catalog.VerifyArtifacts)

	v.SetDefault("output.dir", cfg.Output.Dir)
	v.SetDefault("output.work_dir", cfg.Output.WorkDir)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
}

// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Components depend on it rather than on *Config so tests can supply mocks.
type Interface interface {
	Logger() LoggerConfig
	Runner() RunnerConfig
	Inputs() InputsConfig
	Browser() BrowserConfig
	Probe() ProbeConfig
	Database() DatabaseConfig

	SetRunnerBatchSize(int)
	SetBrowserHeadless(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	RunnerCfg   RunnerConfig   `mapstructure:"runner" yaml:"runner"`
	InputsCfg   InputsConfig   `mapstructure:"inputs" yaml:"inputs"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	ProbeCfg    ProbeConfig    `mapstructure:"probe" yaml:"probe"`
	DatabaseCfg DatabaseConfig `mapstructure:"database" yaml:"database"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Runner() RunnerConfig     { return c.RunnerCfg }
func (c *Config) Inputs() InputsConfig     { return c.InputsCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Probe() ProbeConfig       { return c.ProbeCfg }
func (c *Config) Database() DatabaseConfig { return c.DatabaseCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetRunnerBatchSize(n int)  { c.RunnerCfg.BatchSize = n }
func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color names used for each log level on the console.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// RunnerConfig configures the batch runner.
type RunnerConfig struct {
	// BatchSize is the number of items run concurrently per group.
	BatchSize int `mapstructure:"batch_size" yaml:"batch_size"`
}

// InputsConfig points at the line-delimited input and output files.
type InputsConfig struct {
	ItemsFile   string `mapstructure:"items_file" yaml:"items_file"`
	ProxiesFile string `mapstructure:"proxies_file" yaml:"proxies_file"`
	OutputFile  string `mapstructure:"output_file" yaml:"output_file"`
}

// BrowserConfig holds settings for the browser instances launched per item.
type BrowserConfig struct {
	ExecPath     string   `mapstructure:"exec_path" yaml:"exec_path"`
	Headless     bool     `mapstructure:"headless" yaml:"headless"`
	Language     string   `mapstructure:"language" yaml:"language"`
	ExtensionDir string   `mapstructure:"extension_dir" yaml:"extension_dir"`
	Args         []string `mapstructure:"args" yaml:"args"`
	// LaunchRate is the number of browser launches allowed per second.
	// Zero or less disables pacing.
	LaunchRate  float64 `mapstructure:"launch_rate" yaml:"launch_rate"`
	LaunchBurst int     `mapstructure:"launch_burst" yaml:"launch_burst"`
}

// ProbeConfig describes the page probe every item runs.
type ProbeConfig struct {
	// TargetTemplate is the URL opened per item; "{item}" is replaced with the
	// query-escaped item.
	TargetTemplate    string        `mapstructure:"target_template" yaml:"target_template"`
	SuccessPrefix     string        `mapstructure:"success_prefix" yaml:"success_prefix"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	SuccessTimeout    time.Duration `mapstructure:"success_timeout" yaml:"success_timeout"`
	PollInterval      time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	TaskTimeout       time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
}

// DatabaseConfig holds the optional run history database connection.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "batchrun")
	v.SetDefault("logger.log_file", "batchrun.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Runner --
	v.SetDefault("runner.batch_size", 7)

	// -- Inputs --
	v.SetDefault("inputs.items_file", "input_items.txt")
	v.SetDefault("inputs.proxies_file", "proxies.txt")
	v.SetDefault("inputs.output_file", "output_items.txt")

	// -- Browser --
	v.SetDefault("browser.exec_path", "")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.language", "en-US")
	v.SetDefault("browser.extension_dir", "")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.launch_rate", 2.0)
	v.SetDefault("browser.launch_burst", 1)

	// -- Probe --
	v.SetDefault("probe.target_template", "")
	v.SetDefault("probe.success_prefix", "")
	v.SetDefault("probe.navigation_timeout", "30s")
	v.SetDefault("probe.success_timeout", "40s")
	v.SetDefault("probe.poll_interval", "5s")
	v.SetDefault("probe.task_timeout", "5m")

	// -- Database --
	v.SetDefault("database.url", "")
}

// EnvPrefix is the prefix of every environment variable read by batchrun.
const EnvPrefix = "BATCHRUN"

// BindEnvironment makes every key known to SetDefaults settable through a
// BATCHRUN_* variable, with dots replaced by underscores
// (browser.exec_path -> BATCHRUN_BROWSER_EXEC_PATH).
func BindEnvironment(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The connection string usually carries a password; keep it out of config files.
	_ = v.BindEnv("database.url", "BATCHRUN_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.RunnerCfg.BatchSize <= 0 {
		return fmt.Errorf("runner.batch_size must be a positive integer")
	}
	if strings.TrimSpace(c.InputsCfg.ItemsFile) == "" {
		return fmt.Errorf("inputs.items_file is required")
	}
	if c.BrowserCfg.LaunchRate > 0 && c.BrowserCfg.LaunchBurst <= 0 {
		return fmt.Errorf("browser.launch_burst must be positive when browser.launch_rate is set")
	}
	if err := c.ProbeCfg.Validate(); err != nil {
		return fmt.Errorf("probe configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the ProbeConfig settings.
func (p *ProbeConfig) Validate() error {
	if p.TargetTemplate == "" {
		return errors.New("target_template is required")
	}
	u, err := url.Parse(strings.ReplaceAll(p.TargetTemplate, "{item}", "x"))
	if err != nil {
		return fmt.Errorf("target_template is not a valid URL: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("target_template must be an absolute URL, got %q", p.TargetTemplate)
	}
	if p.SuccessPrefix == "" {
		return errors.New("success_prefix is required")
	}
	if p.PollInterval <= 0 {
		return errors.New("poll_interval must be a positive duration")
	}
	if p.SuccessTimeout <= 0 {
		return errors.New("success_timeout must be a positive duration")
	}
	return nil
}

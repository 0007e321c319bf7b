// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultStartURL is the EHR login page the browser opens when nothing else is configured.
const DefaultStartURL = "https://static.practicefusion.com/apps/ehr/#/login"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	OpenAI() OpenAIConfig
	Computer() ComputerConfig
	Agent() AgentConfig
	Extraction() ExtractionConfig
	Database() DatabaseConfig

	// CLI overrides
	SetComputerType(string)
	SetComputerHeadless(bool)
	SetStartURL(string)
	SetOutputDir(string)
	SetModel(string)
	SetDebug(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	OpenAICfg     OpenAIConfig     `mapstructure:"openai" yaml:"openai"`
	ComputerCfg   ComputerConfig   `mapstructure:"computer" yaml:"computer"`
	AgentCfg      AgentConfig      `mapstructure:"agent" yaml:"agent"`
	ExtractionCfg ExtractionConfig `mapstructure:"extraction" yaml:"extraction"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) OpenAI() OpenAIConfig         { return c.OpenAICfg }
func (c *Config) Computer() ComputerConfig     { return c.ComputerCfg }
func (c *Config) Agent() AgentConfig           { return c.AgentCfg }
func (c *Config) Extraction() ExtractionConfig { return c.ExtractionCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetComputerType(t string)   { c.ComputerCfg.Type = t }
func (c *Config) SetComputerHeadless(b bool) { c.ComputerCfg.Headless = b }
func (c *Config) SetStartURL(u string)       { c.ExtractionCfg.StartURL = u }
func (c *Config) SetOutputDir(dir string)    { c.ExtractionCfg.OutputDir = dir }
func (c *Config) SetModel(model string)      { c.OpenAICfg.Model = model }

// SetDebug toggles the debug flag recorded in results and lowers the log level.
func (c *Config) SetDebug(b bool) {
	c.ExtractionCfg.Debug = b
	if b {
		c.LoggerCfg.Level = "debug"
	}
}

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

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// OpenAIConfig configures the Responses API client that drives the agent.
type OpenAIConfig struct {
	APIKey     string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL    string        `mapstructure:"base_url" yaml:"base_url"`
	Model      string        `mapstructure:"model" yaml:"model"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// ComputerConfig selects and sizes the browser backend.
type ComputerConfig struct {
	Type          string            `mapstructure:"type" yaml:"type"`
	DisplayWidth  int               `mapstructure:"display_width" yaml:"display_width"`
	DisplayHeight int               `mapstructure:"display_height" yaml:"display_height"`
	Headless      bool              `mapstructure:"headless" yaml:"headless"`
	Args          []string          `mapstructure:"args" yaml:"args"`
	ActionTimeout time.Duration     `mapstructure:"action_timeout" yaml:"action_timeout"`
	Browserbase   BrowserbaseConfig `mapstructure:"browserbase" yaml:"browserbase"`
	Scrapybara    ScrapybaraConfig  `mapstructure:"scrapybara" yaml:"scrapybara"`
}

// BrowserbaseConfig holds credentials for the Browserbase remote browser service.
type BrowserbaseConfig struct {
	APIKey    string `mapstructure:"api_key" yaml:"api_key"`
	ProjectID string `mapstructure:"project_id" yaml:"project_id"`
	BaseURL   string `mapstructure:"base_url" yaml:"base_url"`
	Region    string `mapstructure:"region" yaml:"region"`
}

// ScrapybaraConfig holds credentials for the Scrapybara remote instance service.
type ScrapybaraConfig struct {
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL        string        `mapstructure:"base_url" yaml:"base_url"`
	TimeoutHours   float64       `mapstructure:"timeout_hours" yaml:"timeout_hours"`
	StartupTimeout time.Duration `mapstructure:"startup_timeout" yaml:"startup_timeout"`
}

// AgentConfig tunes the turn loop.
type AgentConfig struct {
	MaxStepsPerTurn int      `mapstructure:"max_steps_per_turn" yaml:"max_steps_per_turn"`
	BlockedDomains  []string `mapstructure:"blocked_domains" yaml:"blocked_domains"`
}

// ExtractionConfig controls where the run starts and where its result lands.
type ExtractionConfig struct {
	StartURL  string `mapstructure:"start_url" yaml:"start_url"`
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir"`
	Debug     bool   `mapstructure:"debug" yaml:"debug"`
}

// DatabaseConfig holds the database connection details. An empty URL disables the sink.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
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
	v.SetDefault("logger.service_name", "ehr-cua")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- OpenAI --
	v.SetDefault("openai.model", "computer-use-preview")
	v.SetDefault("openai.timeout", "2m")
	v.SetDefault("openai.max_retries", 2)

	// -- Computer --
	v.SetDefault("computer.type", "local-playwright")
	v.SetDefault("computer.display_width", 1024)
	v.SetDefault("computer.display_height", 768)
	v.SetDefault("computer.headless", false)
	v.SetDefault("computer.action_timeout", "30s")
	v.SetDefault("computer.browserbase.base_url", "https://api.browserbase.com")
	v.SetDefault("computer.browserbase.region", "us-west-2")
	v.SetDefault("computer.scrapybara.base_url", "https://api.scrapybara.com")
	v.SetDefault("computer.scrapybara.timeout_hours", 1.0)
	v.SetDefault("computer.scrapybara.startup_timeout", "2m")

	// -- Agent --
	v.SetDefault("agent.max_steps_per_turn", 100)
	v.SetDefault("agent.blocked_domains", []string{
		"maliciousbook.com",
		"evilvideos.com",
		"darkwebforum.com",
		"shadytok.com",
		"suspiciouspins.com",
		"ilanbigio.com",
	})

	// -- Extraction --
	v.SetDefault("extraction.start_url", DefaultStartURL)
	v.SetDefault("extraction.output_dir", "./ehr_extractions")
	v.SetDefault("extraction.debug", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind the well-known, unprefixed environment variables.
	_ = v.BindEnv("openai.api_key", "EHRCUA_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("openai.base_url", "EHRCUA_OPENAI_BASE_URL", "OPENAI_BASE_URL")
	_ = v.BindEnv("extraction.start_url", "EHRCUA_EXTRACTION_START_URL", "START_URL")
	_ = v.BindEnv("computer.browserbase.api_key", "EHRCUA_COMPUTER_BROWSERBASE_API_KEY", "BROWSERBASE_API_KEY")
	_ = v.BindEnv("computer.browserbase.project_id", "EHRCUA_COMPUTER_BROWSERBASE_PROJECT_ID", "BROWSERBASE_PROJECT_ID")
	_ = v.BindEnv("computer.scrapybara.api_key", "EHRCUA_COMPUTER_SCRAPYBARA_API_KEY", "SCRAPYBARA_API_KEY")
	_ = v.BindEnv("database.url", "EHRCUA_DATABASE_URL", "DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
// Credentials are checked later, by the components that need them.
func (c *Config) Validate() error {
	if c.ComputerCfg.DisplayWidth <= 0 || c.ComputerCfg.DisplayHeight <= 0 {
		return fmt.Errorf("computer.display_width and computer.display_height must be positive integers")
	}
	if c.AgentCfg.MaxStepsPerTurn <= 0 {
		return fmt.Errorf("agent.max_steps_per_turn must be a positive integer")
	}
	if strings.TrimSpace(c.ExtractionCfg.OutputDir) == "" {
		return fmt.Errorf("extraction.output_dir is a required configuration field")
	}
	if err := c.ExtractionCfg.Validate(); err != nil {
		return fmt.Errorf("extraction configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the extraction settings.
func (e *ExtractionConfig) Validate() error {
	if e.StartURL == "" {
		return nil
	}
	u, err := url.Parse(e.StartURL)
	if err != nil {
		return fmt.Errorf("start_url is not a valid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("start_url must be an absolute URL, got %q", e.StartURL)
	}
	return nil
}

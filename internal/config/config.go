// Package config provides configuration management for the application.
// It supports YAML configuration files with environment variable overrides.
package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/procrasturbate/procrasturbate/consts"
	"github.com/procrasturbate/procrasturbate/pkg/logger"
	"github.com/procrasturbate/procrasturbate/pkg/telemetry"
)

// Default configuration values
const (
	defaultMaxTokensPerReview     = 4096
	defaultInputCostCentsPerM     = 300
	defaultOutputCostCentsPerM    = 1500
	defaultMonthlyBudgetCents     = 10000
	defaultMaxFilesPerReview      = 50
	defaultMaxDiffSizeBytes       = 500000
	defaultReviewDebounceSeconds  = 30
	defaultSchedulerWorkers       = 4
	defaultSchedulerMaxRetries    = 3
	defaultShutdownTimeoutSeconds = 30
	defaultOTLPEndpoint           = "localhost:4317"
	defaultPrometheusPort         = 9090
)

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	GithubApp GithubAppConfig  `yaml:"github_app"`
	AI        AIConfig         `yaml:"ai"`
	Review    ReviewDefaults   `yaml:"review"`
	Scheduler SchedulerConfig  `yaml:"scheduler"`
	Logging   logger.Config    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Debug bool   `yaml:"debug"`
	// AdminToken guards the read-only admin API. Empty disables it.
	AdminToken string `yaml:"admin_token"`
}

// GithubAppConfig holds the GitHub App credentials and webhook settings
type GithubAppConfig struct {
	AppID int64 `yaml:"app_id"`
	// PrivateKey is the PEM-encoded RSA key. PrivateKeyPath takes
	// precedence when both are set.
	PrivateKey     string `yaml:"private_key"`
	PrivateKeyPath string `yaml:"private_key_path"`
	WebhookSecret  string `yaml:"webhook_secret"`
	// BaseURL overrides the API endpoint for GitHub Enterprise
	BaseURL string `yaml:"base_url"`
}

// AIConfig holds the language-model endpoint configuration and pricing
type AIConfig struct {
	APIKey             string `yaml:"api_key"`
	DefaultModel       string `yaml:"default_model"`
	MaxTokensPerReview int    `yaml:"max_tokens_per_review"`
	// Token pricing in cents per million tokens
	InputCostCentsPerMillion  int `yaml:"input_cost_cents_per_million"`
	OutputCostCentsPerMillion int `yaml:"output_cost_cents_per_million"`
}

// ReviewDefaults holds service-wide review defaults. Per-repository
// configuration files override the reviewable subset of these.
type ReviewDefaults struct {
	DefaultMonthlyBudgetCents int      `yaml:"default_monthly_budget_cents"`
	MaxFilesPerReview         int      `yaml:"max_files_per_review"`
	MaxDiffSizeBytes          int      `yaml:"max_diff_size_bytes"`
	EnableLineComments        bool     `yaml:"enable_line_comments"`
	ReviewDebounceSeconds     int      `yaml:"review_debounce_seconds"`
	BotTriggers               []string `yaml:"bot_triggers"`
}

// SchedulerConfig holds worker pool and retry configuration
type SchedulerConfig struct {
	Workers                int `yaml:"workers"`
	MaxRetries             int `yaml:"max_retries"`
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds"`
}

// Default returns a default configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:  "0.0.0.0",
			Port:  8080,
			Debug: false,
		},
		GithubApp: GithubAppConfig{},
		AI: AIConfig{
			DefaultModel:              "claude-sonnet-4-5",
			MaxTokensPerReview:        defaultMaxTokensPerReview,
			InputCostCentsPerMillion:  defaultInputCostCentsPerM,
			OutputCostCentsPerMillion: defaultOutputCostCentsPerM,
		},
		Review: ReviewDefaults{
			DefaultMonthlyBudgetCents: defaultMonthlyBudgetCents,
			MaxFilesPerReview:         defaultMaxFilesPerReview,
			MaxDiffSizeBytes:          defaultMaxDiffSizeBytes,
			EnableLineComments:        true,
			ReviewDebounceSeconds:     defaultReviewDebounceSeconds,
			BotTriggers:               []string{"@reviewer", "@procrasturbate", "it's gooning time"},
		},
		Scheduler: SchedulerConfig{
			Workers:                defaultSchedulerWorkers,
			MaxRetries:             defaultSchedulerMaxRetries,
			ShutdownTimeoutSeconds: defaultShutdownTimeoutSeconds,
		},
		Logging: logger.Config{
			Level:      "info",
			Format:     "text",
			File:       "",
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 5,
			Compress:   false,
		},
		Telemetry: telemetry.Config{
			Enabled:     false,
			ServiceName: consts.ServiceName,
			OTLP: telemetry.OTLPConfig{
				Enabled:  false,
				Endpoint: defaultOTLPEndpoint,
				Insecure: true,
			},
			Prometheus: telemetry.PrometheusConfig{
				Enabled: false,
				Port:    defaultPrometheusPort,
			},
		},
	}
}

// Load loads configuration from a YAML file with environment variable expansion
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables in the configuration
	expanded := expandEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with environment variable values.
// Only matches ${VAR_NAME} format (not $VAR_NAME) to avoid conflicts with
// literal dollar signs in secrets.
func expandEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(content, func(match string) string {
		varName := match[2 : len(match)-1]

		// Support default values: ${VAR_NAME:-default}
		parts := strings.SplitN(varName, ":-", 2)
		varName = parts[0]

		if value := os.Getenv(varName); value != "" {
			return value
		}

		if len(parts) > 1 {
			return parts[1]
		}

		return ""
	})
}

// PrivateKeyPEM returns the App's private key material, reading from
// PrivateKeyPath when set.
func (c *GithubAppConfig) PrivateKeyPEM() ([]byte, error) {
	if c.PrivateKeyPath != "" {
		return os.ReadFile(c.PrivateKeyPath)
	}
	return []byte(c.PrivateKey), nil
}

// Address returns the server address string
func (c *ServerConfig) Address() string {
	return c.Host + ":" + strconv.Itoa(c.Port)
}

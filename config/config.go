package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the rmri service
type Config struct {
	General      GeneralConfig      `mapstructure:"general"`
	Server       ServerConfig       `mapstructure:"server"`
	LLM          LLMConfig          `mapstructure:"llm"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP status server settings
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// LLMConfig contains language model provider configurations
type LLMConfig struct {
	Providers       map[string]LLMProvider `mapstructure:"providers"`
	Routing         LLMRoutingConfig       `mapstructure:"routing"`
	MaxPromptTokens int                    `mapstructure:"max_prompt_tokens"`
}

// LLMProvider represents a single provider configuration
type LLMProvider struct {
	Type        string        `mapstructure:"type"` // openai, anthropic, gemini
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// LLMRoutingConfig lists the default provider order per agent tier
type LLMRoutingConfig struct {
	Micro []string `mapstructure:"micro"`
	Meso  []string `mapstructure:"meso"`
	Meta  []string `mapstructure:"meta"`
}

// Validate checks provider declarations.
func (l LLMConfig) Validate() error {
	for name, p := range l.Providers {
		switch strings.ToLower(strings.TrimSpace(p.Type)) {
		case "openai", "anthropic", "gemini":
		case "":
			return fmt.Errorf("llm.providers.%s.type required", name)
		default:
			return fmt.Errorf("llm.providers.%s.type %q is not supported", name, p.Type)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("llm.providers.%s.timeout cannot be negative", name)
		}
	}
	if l.MaxPromptTokens < 0 {
		return fmt.Errorf("llm.max_prompt_tokens cannot be negative")
	}
	return nil
}

// OrchestratorConfig carries per-run defaults and the process-wide tier limits.
type OrchestratorConfig struct {
	MaxIterations        int           `mapstructure:"max_iterations"`
	ConvergenceThreshold float64       `mapstructure:"convergence_threshold"`
	TopK                 int           `mapstructure:"top_k"`
	MicroConcurrency     int           `mapstructure:"micro_concurrency"`
	MinMicroSuccess      float64       `mapstructure:"min_micro_success"`
	JobTimeout           time.Duration `mapstructure:"job_timeout"`
	// IterationDelay pauses between iterations. Zero takes the default; negative disables it.
	IterationDelay       time.Duration `mapstructure:"iteration_delay"`
	MinProviders         int           `mapstructure:"min_providers"`
	Aggregation          string        `mapstructure:"aggregation"`
	ClusterCount         int           `mapstructure:"cluster_count"`
	MinClusterSize       int           `mapstructure:"min_cluster_size"`
	// Process-wide ceilings shared by all runs.
	QueueConcurrency QueueConcurrency `mapstructure:"queue_concurrency"`
}

// QueueConcurrency bounds the active jobs per tier queue.
type QueueConcurrency struct {
	Micro int `mapstructure:"micro"`
	Meso  int `mapstructure:"meso"`
	Meta  int `mapstructure:"meta"`
}

// Normalize applies defaults for unset orchestrator values.
func (o OrchestratorConfig) Normalize() OrchestratorConfig {
	if o.MaxIterations <= 0 {
		o.MaxIterations = 4
	}
	if o.ConvergenceThreshold <= 0 {
		o.ConvergenceThreshold = 0.70
	}
	if o.TopK <= 0 {
		o.TopK = 10
	}
	if o.MicroConcurrency <= 0 {
		o.MicroConcurrency = 10
	}
	if o.MinMicroSuccess <= 0 {
		o.MinMicroSuccess = 0.5
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 5 * time.Minute
	}
	if o.IterationDelay == 0 {
		o.IterationDelay = 5 * time.Second
	}
	if o.MinProviders <= 0 {
		o.MinProviders = 1
	}
	if strings.TrimSpace(o.Aggregation) == "" {
		o.Aggregation = "consensus"
	}
	if o.ClusterCount <= 0 {
		o.ClusterCount = 5
	}
	if o.MinClusterSize <= 0 {
		o.MinClusterSize = 2
	}
	if o.QueueConcurrency.Micro <= 0 {
		o.QueueConcurrency.Micro = 50
	}
	if o.QueueConcurrency.Meso <= 0 {
		o.QueueConcurrency.Meso = 4
	}
	if o.QueueConcurrency.Meta <= 0 {
		o.QueueConcurrency.Meta = 4
	}
	return o
}

// Validate checks orchestrator bounds.
func (o OrchestratorConfig) Validate() error {
	if o.ConvergenceThreshold > 1 {
		return fmt.Errorf("orchestrator.convergence_threshold must be <= 1")
	}
	if o.MinMicroSuccess > 1 {
		return fmt.Errorf("orchestrator.min_micro_success must be <= 1")
	}
	switch o.Aggregation {
	case "", "all", "best", "consensus":
	default:
		return fmt.Errorf("orchestrator.aggregation %q is not supported", o.Aggregation)
	}
	return nil
}

// TelemetryConfig contains tracing and metrics settings
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	MetricsPath  string `mapstructure:"metrics_path"`
	EventsStream string `mapstructure:"events_stream"`
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis     RedisConfig     `mapstructure:"redis"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
}

// ArtifactsConfig selects the artifact store backend.
type ArtifactsConfig struct {
	Backend  string `mapstructure:"backend"` // memory or redis
	MaxBytes int64  `mapstructure:"max_bytes"`
}

func (a ArtifactsConfig) Validate() error {
	switch a.Backend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("storage.artifacts.backend %q is not supported", a.Backend)
	}
	if a.MaxBytes < 0 {
		return fmt.Errorf("storage.artifacts.max_bytes cannot be negative")
	}
	return nil
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis endpoint is configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether Postgres is configured.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" || !p.Enabled() {
		return nil
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, ".."))
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("RMRI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv() // RMRI_*

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// a missing file is fine when searching; defaults and env still apply
		if path != "" || !errors.As(err, &notFound) {
			panic(fmt.Errorf("fatal error config file: %w", err))
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Orchestrator = config.Orchestrator.Normalize()

	if err := config.Validate(); err != nil {
		panic(err)
	}
	return &config
}

// Validate runs every section validator.
func (c *Config) Validate() error {
	if err := c.LLM.Validate(); err != nil {
		return err
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Redis.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Postgres.Validate(); err != nil {
		return err
	}
	if err := c.Storage.Artifacts.Validate(); err != nil {
		return err
	}
	if c.Storage.Artifacts.Backend == "redis" && !c.Storage.Redis.Enabled() {
		return fmt.Errorf("storage.artifacts.backend=redis requires storage.redis.host")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")
	v.SetDefault("server.address", ":10002")
	v.SetDefault("llm.max_prompt_tokens", 100000)
	v.SetDefault("llm.routing.micro", []string{"openai", "anthropic", "gemini"})
	v.SetDefault("llm.routing.meso", []string{"anthropic", "openai", "gemini"})
	v.SetDefault("llm.routing.meta", []string{"anthropic", "openai", "gemini"})
	v.SetDefault("orchestrator.max_iterations", 4)
	v.SetDefault("orchestrator.convergence_threshold", 0.70)
	v.SetDefault("orchestrator.top_k", 10)
	v.SetDefault("orchestrator.micro_concurrency", 10)
	v.SetDefault("orchestrator.min_micro_success", 0.5)
	v.SetDefault("orchestrator.job_timeout", 5*time.Minute)
	v.SetDefault("orchestrator.iteration_delay", 5*time.Second)
	v.SetDefault("orchestrator.min_providers", 1)
	v.SetDefault("orchestrator.aggregation", "consensus")
	v.SetDefault("storage.artifacts.backend", "memory")
	v.SetDefault("storage.artifacts.max_bytes", 10*1024*1024)
	v.SetDefault("telemetry.metrics_path", "/metrics")
	v.SetDefault("telemetry.events_stream", "rmri.run.events")
}

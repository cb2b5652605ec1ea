package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hjson/hjson-go/v4"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultExternalHTTPTimeout = 60 * time.Second
	defaultStorageKey          = "radiology_cases_v2"
	defaultOpenAIModel         = "gpt-4o-mini"
	defaultAnthropicModel      = "claude-sonnet-4-5-20250929"
)

// Config holds every setting the server needs.  Values come from an optional
// YAML or HJSON file and are then overridden by environment variables.
type Config struct {
	Port string `yaml:"port" json:"port"`

	LLMProvider     string `yaml:"llm_provider" json:"llm_provider"`
	LLMModel        string `yaml:"llm_model" json:"llm_model"`
	LLMBaseURL      string `yaml:"llm_base_url" json:"llm_base_url"`
	LLMMaxTokens    int    `yaml:"llm_max_tokens" json:"llm_max_tokens"`
	OpenAIAPIKey    string `yaml:"openai_api_key" json:"openai_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key" json:"anthropic_api_key"`

	StorageDriver  string `yaml:"storage_driver" json:"storage_driver"`
	DatabaseURL    string `yaml:"database_url" json:"database_url"`
	StorageKey     string `yaml:"storage_key" json:"storage_key"`
	NotifyChannel  string `yaml:"notify_channel" json:"notify_channel"`
	SQLitePath     string `yaml:"sqlite_path" json:"sqlite_path"`
	LoginEmail     string `yaml:"login_email" json:"login_email"`
	LoginPassword  string `yaml:"login_password" json:"login_password"`
	LoginName      string `yaml:"login_name" json:"login_name"`
	Specialization string `yaml:"login_specialization" json:"login_specialization"`

	ExternalHTTPTimeoutSeconds int `yaml:"external_http_timeout_seconds" json:"external_http_timeout_seconds"`
}

// APIKey returns the credential for the configured provider.
func (c Config) APIKey() string {
	if c.LLMProvider == "anthropic" {
		return c.AnthropicAPIKey
	}
	return c.OpenAIAPIKey
}

// ExternalHTTPTimeout converts the configured seconds into a duration.
func (c Config) ExternalHTTPTimeout() time.Duration {
	return time.Duration(c.ExternalHTTPTimeoutSeconds) * time.Second
}

// Load reads the configuration.  A missing file is not an error; a missing
// provider credential is, since nothing useful can happen without it.
func Load() (Config, error) {
	var cfg Config

	envFile := ".env"
	if p := os.Getenv("ENV_FILE"); p != "" {
		envFile = p
	}
	if err := godotenv.Load(envFile); err == nil {
		log.Printf("Loaded environment from %s", envFile)
	}

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := decodeFile(configPath, data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	envOverride(&cfg.Port, "PORT")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.LLMBaseURL, "LLM_BASE_URL")
	if err := envOverrideInt(&cfg.LLMMaxTokens, "LLM_MAX_TOKENS"); err != nil {
		return cfg, err
	}
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.StorageDriver, "STORAGE_DRIVER")
	envOverride(&cfg.DatabaseURL, "DATABASE_URL")
	envOverride(&cfg.StorageKey, "STORAGE_KEY")
	envOverride(&cfg.NotifyChannel, "POSTGRES_NOTIFY_CHANNEL")
	envOverride(&cfg.SQLitePath, "SQLITE_PATH")
	envOverride(&cfg.LoginEmail, "LOGIN_EMAIL")
	envOverride(&cfg.LoginPassword, "LOGIN_PASSWORD")
	envOverride(&cfg.LoginName, "LOGIN_NAME")
	envOverride(&cfg.Specialization, "LOGIN_SPECIALIZATION")
	if err := envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func decodeFile(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".hjson", ".json":
		var raw map[string]interface{}
		if err := hjson.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parse hjson: %w", err)
		}
		jsonData, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("convert to json: %w", err)
		}
		return json.Unmarshal(jsonData, cfg)
	default:
		return yaml.Unmarshal(data, cfg)
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "openai"
	}
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if cfg.LLMModel == "" {
		switch cfg.LLMProvider {
		case "anthropic":
			cfg.LLMModel = defaultAnthropicModel
		default:
			cfg.LLMModel = defaultOpenAIModel
		}
	}
	if cfg.LLMMaxTokens == 0 {
		cfg.LLMMaxTokens = 2048
	}
	if cfg.StorageDriver == "" {
		if cfg.DatabaseURL != "" {
			cfg.StorageDriver = "postgres"
		} else {
			cfg.StorageDriver = "sqlite"
		}
	}
	if cfg.StorageKey == "" {
		cfg.StorageKey = defaultStorageKey
	}
	if cfg.NotifyChannel == "" {
		cfg.NotifyChannel = "case_snapshots"
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "./mammo-assist.db"
	}
	if cfg.LoginEmail == "" {
		cfg.LoginEmail = "radiologist@health.com"
	}
	if cfg.LoginPassword == "" {
		cfg.LoginPassword = "password123"
	}
	if cfg.LoginName == "" {
		cfg.LoginName = "Dr. Radiologist"
	}
	if cfg.Specialization == "" {
		cfg.Specialization = "Radiology"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = int(defaultExternalHTTPTimeout / time.Second)
	}
}

// Validate checks the settings that have no safe default.
func (c Config) Validate() error {
	switch c.LLMProvider {
	case "openai":
		if c.OpenAIAPIKey == "" {
			return fmt.Errorf("openai_api_key is required when llm_provider=openai")
		}
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic_api_key is required when llm_provider=anthropic")
		}
	default:
		return fmt.Errorf("llm_provider must be 'openai' or 'anthropic', got '%s'", c.LLMProvider)
	}
	switch c.StorageDriver {
	case "memory", "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required when storage_driver=postgres")
		}
	default:
		return fmt.Errorf("storage_driver must be 'memory', 'sqlite' or 'postgres', got '%s'", c.StorageDriver)
	}
	if c.LLMMaxTokens < 1 {
		return fmt.Errorf("invalid llm_max_tokens '%d': must be >= 1", c.LLMMaxTokens)
	}
	if c.ExternalHTTPTimeoutSeconds < 1 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 1", c.ExternalHTTPTimeoutSeconds)
	}
	return nil
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}

// Package config loads moviechat configuration from an optional YAML file and
// environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Vector store backends.
const (
	BackendQdrant    = "qdrant"
	BackendSurrealDB = "surrealdb"
	BackendChromem   = "chromem"
)

// Model providers for chat and embeddings.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderBedrock   = "bedrock"
)

// Tool modes for the answering agent.
const (
	ToolModeSearch = "search"
	ToolModeQA     = "qa"
)

// Config holds all configuration values.
type Config struct {
	// Vector store
	VectorBackend   string `yaml:"vector_backend"`
	Collection      string `yaml:"collection"`
	VectorDimension int    `yaml:"vector_dimension"`

	// Qdrant
	QdrantURL    string `yaml:"qdrant_url"`
	QdrantAPIKey string `yaml:"qdrant_api_key"`

	// SurrealDB connection
	SurrealDBURL       string `yaml:"surrealdb_url"`
	SurrealDBNamespace string `yaml:"surrealdb_namespace"`
	SurrealDBDatabase  string `yaml:"surrealdb_database"`
	SurrealDBUser      string `yaml:"surrealdb_user"`
	SurrealDBPass      string `yaml:"surrealdb_pass"`
	SurrealDBAuthLevel string `yaml:"surrealdb_auth_level"`

	// chromem (embedded); empty path keeps the collection in memory
	ChromemPath string `yaml:"chromem_path"`

	// Language model
	LLMProvider    string  `yaml:"llm_provider"`
	LLMModel       string  `yaml:"llm_model"`
	LLMTemperature float64 `yaml:"llm_temperature"`

	// Embeddings
	EmbedProvider string `yaml:"embed_provider"`
	EmbedModel    string `yaml:"embed_model"`

	// Provider credentials and endpoints
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OllamaHost      string `yaml:"ollama_host"`
	AWSRegion       string `yaml:"aws_region"`

	// Retrieval and agent limits
	RetrievalK      int           `yaml:"retrieval_k"`
	ContextChars    int           `yaml:"context_chars"`
	MaxToolCalls    int           `yaml:"max_tool_calls"`
	MaxTurnDuration time.Duration `yaml:"-"`
	ToolMode        string        `yaml:"tool_mode"`
	MemoryMaxTurns  int           `yaml:"memory_max_turns"`

	// Server
	ServerPort string `yaml:"server_port"`
	ServerURL  string `yaml:"server_url"`

	// Logging
	LogFile  string     `yaml:"log_file"`
	LogLevel slog.Level `yaml:"-"`
}

// fileConfig mirrors the YAML fields that need parsing beyond plain values.
type fileConfig struct {
	Config         `yaml:",inline"`
	MaxTurnSeconds int    `yaml:"max_turn_seconds"`
	LogLevelName   string `yaml:"log_level"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() Config {
	return Config{
		VectorBackend:   BackendQdrant,
		Collection:      "imdb_movies",
		VectorDimension: 1536,

		SurrealDBURL:       "ws://localhost:8000/rpc",
		SurrealDBNamespace: "moviechat",
		SurrealDBDatabase:  "movies",
		SurrealDBUser:      "root",
		SurrealDBAuthLevel: "root",

		LLMProvider:    ProviderOpenAI,
		LLMModel:       "gpt-4o-mini",
		LLMTemperature: 0.4,
		EmbedProvider:  ProviderOpenAI,
		EmbedModel:     "text-embedding-3-small",
		OllamaHost:     "http://localhost:11434",

		RetrievalK:      3,
		ContextChars:    4000,
		MaxToolCalls:    6,
		MaxTurnDuration: 60 * time.Second,
		ToolMode:        ToolModeSearch,

		ServerPort: "8484",
		ServerURL:  "http://localhost:8484",

		LogFile:  "/tmp/moviechat.log",
		LogLevel: slog.LevelInfo,
	}
}

// Load builds the configuration from defaults, the optional YAML file and the
// environment, in that order, and validates it.
// A *ConfigurationError is returned when required credentials are missing.
func Load() (Config, error) {
	cfg := Defaults()

	path := getEnv("MOVIECHAT_CONFIG", defaultConfigPath())
	if err := loadFile(path, &cfg); err != nil {
		return cfg, err
	}

	if err := applyEnv(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".moviechat", "config.yaml")
}

// loadFile overlays the YAML file at path onto cfg. A missing file is not an error.
func loadFile(path string, cfg *Config) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	fc := fileConfig{Config: *cfg}
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if fc.MaxTurnSeconds > 0 {
		fc.Config.MaxTurnDuration = time.Duration(fc.MaxTurnSeconds) * time.Second
	}
	if fc.LogLevelName != "" {
		fc.Config.LogLevel = parseLogLevel(fc.LogLevelName)
	}
	*cfg = fc.Config
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.VectorBackend = strings.ToLower(getEnv("MOVIECHAT_VECTOR_BACKEND", cfg.VectorBackend))
	cfg.Collection = getEnv("MOVIECHAT_COLLECTION", cfg.Collection)

	cfg.QdrantURL = getEnv("QDRANT_URL", cfg.QdrantURL)
	cfg.QdrantAPIKey = getEnv("QDRANT_API_KEY", cfg.QdrantAPIKey)

	cfg.SurrealDBURL = getEnv("SURREALDB_URL", cfg.SurrealDBURL)
	cfg.SurrealDBNamespace = getEnv("SURREALDB_NAMESPACE", cfg.SurrealDBNamespace)
	cfg.SurrealDBDatabase = getEnv("SURREALDB_DATABASE", cfg.SurrealDBDatabase)
	cfg.SurrealDBUser = getEnv("SURREALDB_USER", cfg.SurrealDBUser)
	cfg.SurrealDBPass = getEnv("SURREALDB_PASS", cfg.SurrealDBPass)
	cfg.SurrealDBAuthLevel = getEnv("SURREALDB_AUTH_LEVEL", cfg.SurrealDBAuthLevel)

	cfg.ChromemPath = getEnv("CHROMEM_PATH", cfg.ChromemPath)

	cfg.LLMProvider = strings.ToLower(getEnv("MOVIECHAT_LLM_PROVIDER", cfg.LLMProvider))
	cfg.LLMModel = getEnv("MOVIECHAT_LLM_MODEL", cfg.LLMModel)
	cfg.EmbedProvider = strings.ToLower(getEnv("MOVIECHAT_EMBED_PROVIDER", cfg.EmbedProvider))
	cfg.EmbedModel = getEnv("MOVIECHAT_EMBED_MODEL", cfg.EmbedModel)

	cfg.OpenAIAPIKey = getEnv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.AnthropicAPIKey = getEnv("ANTHROPIC_API_KEY", cfg.AnthropicAPIKey)
	cfg.OllamaHost = getEnv("OLLAMA_HOST", cfg.OllamaHost)
	cfg.AWSRegion = getEnv("AWS_REGION", cfg.AWSRegion)

	cfg.ToolMode = strings.ToLower(getEnv("MOVIECHAT_TOOL_MODE", cfg.ToolMode))
	cfg.ServerPort = getEnv("MOVIECHAT_SERVER_PORT", cfg.ServerPort)
	cfg.ServerURL = getEnv("MOVIECHAT_SERVER_URL", cfg.ServerURL)
	cfg.LogFile = getEnv("MOVIECHAT_LOG_FILE", cfg.LogFile)
	if lvl := os.Getenv("MOVIECHAT_LOG_LEVEL"); lvl != "" {
		cfg.LogLevel = parseLogLevel(lvl)
	}

	var err error
	if cfg.VectorDimension, err = getEnvInt("MOVIECHAT_VECTOR_DIMENSION", cfg.VectorDimension); err != nil {
		return err
	}
	if cfg.RetrievalK, err = getEnvInt("MOVIECHAT_RETRIEVAL_K", cfg.RetrievalK); err != nil {
		return err
	}
	if cfg.ContextChars, err = getEnvInt("MOVIECHAT_CONTEXT_CHARS", cfg.ContextChars); err != nil {
		return err
	}
	if cfg.MaxToolCalls, err = getEnvInt("MOVIECHAT_MAX_TOOL_CALLS", cfg.MaxToolCalls); err != nil {
		return err
	}
	if cfg.MemoryMaxTurns, err = getEnvInt("MOVIECHAT_MEMORY_MAX_TURNS", cfg.MemoryMaxTurns); err != nil {
		return err
	}
	seconds, err := getEnvInt("MOVIECHAT_MAX_TURN_SECONDS", int(cfg.MaxTurnDuration/time.Second))
	if err != nil {
		return err
	}
	cfg.MaxTurnDuration = time.Duration(seconds) * time.Second

	if t := os.Getenv("MOVIECHAT_LLM_TEMPERATURE"); t != "" {
		temp, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return &ConfigurationError{Invalid: []string{"MOVIECHAT_LLM_TEMPERATURE"}}
		}
		cfg.LLMTemperature = temp
	}
	return nil
}

// Validate reports every missing credential and invalid value at once.
func (c Config) Validate() error {
	var missing, invalid []string

	switch c.VectorBackend {
	case BackendQdrant:
		if c.QdrantURL == "" {
			missing = append(missing, "QDRANT_URL")
		}
		if c.QdrantAPIKey == "" {
			missing = append(missing, "QDRANT_API_KEY")
		}
	case BackendSurrealDB:
		if c.SurrealDBURL == "" {
			missing = append(missing, "SURREALDB_URL")
		}
		if c.SurrealDBPass == "" {
			missing = append(missing, "SURREALDB_PASS")
		}
	case BackendChromem:
	default:
		invalid = append(invalid, "MOVIECHAT_VECTOR_BACKEND")
	}

	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			missing = append(missing, "ANTHROPIC_API_KEY")
		}
	case ProviderOllama, ProviderBedrock:
	default:
		invalid = append(invalid, "MOVIECHAT_LLM_PROVIDER")
	}

	switch c.EmbedProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" && c.LLMProvider != ProviderOpenAI {
			missing = append(missing, "OPENAI_API_KEY")
		}
	case ProviderOllama, ProviderBedrock:
	default:
		invalid = append(invalid, "MOVIECHAT_EMBED_PROVIDER")
	}

	if c.ToolMode != ToolModeSearch && c.ToolMode != ToolModeQA {
		invalid = append(invalid, "MOVIECHAT_TOOL_MODE")
	}
	if c.VectorDimension <= 0 {
		invalid = append(invalid, "MOVIECHAT_VECTOR_DIMENSION")
	}
	if c.RetrievalK <= 0 {
		invalid = append(invalid, "MOVIECHAT_RETRIEVAL_K")
	}
	if c.MaxToolCalls <= 0 {
		invalid = append(invalid, "MOVIECHAT_MAX_TOOL_CALLS")
	}
	if c.MaxTurnDuration <= 0 {
		invalid = append(invalid, "MOVIECHAT_MAX_TURN_SECONDS")
	}
	if c.MemoryMaxTurns < 0 {
		invalid = append(invalid, "MOVIECHAT_MEMORY_MAX_TURNS")
	}

	if len(missing) > 0 || len(invalid) > 0 {
		return &ConfigurationError{Missing: missing, Invalid: invalid}
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, &ConfigurationError{Invalid: []string{key}}
	}
	return n, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

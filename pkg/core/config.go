package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config contains the complete configuration for a soulcore instance.
//
// It covers the API surface, the model backends, the retrieval router, the
// reranker, the store, the heartbeat loop, and the persona. The zero value is
// not usable; start from DefaultConfig and override.
type Config struct {
	// API contains HTTP server configuration.
	API APIConfig `mapstructure:"api" json:"api"`

	// Provider contains the primary model backend configuration.
	Provider ProviderConfig `mapstructure:"provider" json:"provider"`

	// Embedder contains the embedding backend configuration, used by the
	// embedding reranker mode.
	Embedder EmbedderConfig `mapstructure:"embedder" json:"embedder"`

	// Router contains retrieval-decision configuration.
	Router RouterConfig `mapstructure:"router" json:"router"`

	// Reranker contains relevance-filter configuration.
	Reranker RerankerConfig `mapstructure:"reranker" json:"reranker"`

	// Search contains web retrieval configuration.
	Search SearchConfig `mapstructure:"search" json:"search"`

	// Store contains persistence configuration.
	Store StoreConfig `mapstructure:"store" json:"store"`

	// Heartbeat contains scheduler loop configuration.
	Heartbeat HeartbeatConfig `mapstructure:"heartbeat" json:"heartbeat"`

	// Memory contains memory assembly configuration.
	Memory MemoryConfig `mapstructure:"memory" json:"memory"`

	// Persona contains the model's identity block.
	Persona PersonaConfig `mapstructure:"persona" json:"persona"`

	// Delivery contains proactive message delivery configuration.
	Delivery DeliveryConfig `mapstructure:"delivery" json:"delivery"`

	// Logging contains log level configuration.
	Logging LoggingConfig `mapstructure:"logging" json:"logging"`
}

// APIConfig contains HTTP server configuration.
type APIConfig struct {
	// Host is the listen address.
	Host string `mapstructure:"host" json:"host"`

	// Port is the listen port.
	Port int `mapstructure:"port" json:"port"`
}

// ProviderConfig contains configuration for a model backend.
//
// Supported providers: ollama, openai, anthropic
type ProviderConfig struct {
	// Provider is the backend name (ollama, openai, anthropic).
	Provider string `mapstructure:"provider" json:"provider"`

	// APIKey is the API key, where the backend needs one.
	APIKey string `mapstructure:"api_key" json:"api_key"`

	// Model is the model name (e.g. "gemma3:12b", "gpt-4").
	Model string `mapstructure:"model" json:"model"`

	// BaseURL is the base URL for the API (optional, uses provider default if empty).
	BaseURL string `mapstructure:"base_url" json:"base_url,omitempty"`
}

// EmbedderConfig contains configuration for the embedding backend.
//
// Supported providers: ollama, openai
type EmbedderConfig struct {
	// Provider is the backend name (ollama, openai).
	Provider string `mapstructure:"provider" json:"provider"`

	// APIKey is the API key, where the backend needs one.
	APIKey string `mapstructure:"api_key" json:"api_key"`

	// Model is the embedding model name.
	Model string `mapstructure:"model" json:"model"`

	// BaseURL is the base URL for the API (optional).
	BaseURL string `mapstructure:"base_url" json:"base_url,omitempty"`

	// Dimensions is the embedding vector size.
	Dimensions int `mapstructure:"dimensions" json:"dimensions,omitempty"`
}

// RouterConfig contains retrieval-decision configuration.
type RouterConfig struct {
	// Model is the small model that makes the search/no-search decision.
	// Empty means the primary model decides.
	Model string `mapstructure:"model" json:"model"`

	// MinWords is the minimum query word count considered for retrieval;
	// shorter messages skip the decision entirely.
	MinWords int `mapstructure:"min_words" json:"min_words"`

	// DefaultSearch selects the behavior when the decision call itself
	// fails: true falls back to retrieval, false answers from memory alone.
	DefaultSearch bool `mapstructure:"default_search" json:"default_search"`
}

// RerankerConfig contains relevance-filter configuration.
type RerankerConfig struct {
	// Enabled toggles the filter; disabled passes all passages through.
	Enabled bool `mapstructure:"enabled" json:"enabled"`

	// Mode selects the scorer: "http" for an external cross-encoder service,
	// "embedding" for local cosine similarity.
	Mode string `mapstructure:"mode" json:"mode"`

	// URL is the scoring endpoint for http mode.
	URL string `mapstructure:"url" json:"url,omitempty"`

	// Threshold is the minimum score a passage must reach to survive.
	Threshold float64 `mapstructure:"threshold" json:"threshold"`
}

// SearchConfig contains web retrieval configuration.
type SearchConfig struct {
	// URL is the SearXNG instance address.
	URL string `mapstructure:"url" json:"url"`

	// MaxResults caps the result count per search.
	MaxResults int `mapstructure:"max_results" json:"max_results"`

	// CacheTTLMinutes is the search cache entry lifetime in minutes.
	// Zero or negative disables caching.
	CacheTTLMinutes int `mapstructure:"cache_ttl_minutes" json:"cache_ttl_minutes"`
}

// StoreConfig contains persistence configuration.
//
// Supported providers: sqlite, mysql, postgres
type StoreConfig struct {
	// Provider is the backend name (sqlite, mysql, postgres).
	Provider string `mapstructure:"provider" json:"provider"`

	// Path is the database file path (sqlite only).
	Path string `mapstructure:"path" json:"path,omitempty"`

	// Host is the database server host (mysql, postgres).
	Host string `mapstructure:"host" json:"host,omitempty"`

	// Port is the database server port (mysql, postgres).
	Port int `mapstructure:"port" json:"port,omitempty"`

	// User is the database user (mysql, postgres).
	User string `mapstructure:"user" json:"user,omitempty"`

	// Password is the database password (mysql, postgres).
	Password string `mapstructure:"password" json:"password,omitempty"`

	// Database is the database name (mysql, postgres).
	Database string `mapstructure:"database" json:"database,omitempty"`
}

// HeartbeatConfig contains scheduler loop configuration.
type HeartbeatConfig struct {
	// IntervalSeconds is the tick period in seconds.
	IntervalSeconds int `mapstructure:"interval_seconds" json:"interval_seconds"`

	// ReflectEvery triggers a reflection pass every Nth tick; zero disables
	// reflection.
	ReflectEvery int `mapstructure:"reflect_every" json:"reflect_every"`

	// SentryModel is the small gate model that decides whether a reflection
	// pass is warranted.
	SentryModel string `mapstructure:"sentry_model" json:"sentry_model"`

	// ScribeModel is the small model that writes reflections and executes
	// low-priority tasks.
	ScribeModel string `mapstructure:"scribe_model" json:"scribe_model"`

	// Protocol is the protocol tag written on reflection entries.
	Protocol string `mapstructure:"protocol" json:"protocol"`
}

// MemoryConfig contains memory assembly configuration.
type MemoryConfig struct {
	// NoteLimit caps cross-conversation note recall in unscoped mode.
	NoteLimit int `mapstructure:"note_limit" json:"note_limit"`
}

// PersonaConfig contains the model's identity block.
type PersonaConfig struct {
	// Name is the model's display identity.
	Name string `mapstructure:"name" json:"name"`

	// System is the persona text prepended to every system prompt.
	System string `mapstructure:"system" json:"system"`
}

// DeliveryConfig contains proactive message delivery configuration.
type DeliveryConfig struct {
	// Mode selects the deliverer: "store" appends to the channel transcript,
	// "webhook" POSTs to an external endpoint.
	Mode string `mapstructure:"mode" json:"mode"`

	// WebhookURL is the destination for webhook mode.
	WebhookURL string `mapstructure:"webhook_url" json:"webhook_url,omitempty"`
}

// LoggingConfig contains log level configuration.
type LoggingConfig struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string `mapstructure:"level" json:"level"`
}

// DefaultConfig returns a configuration with workable local defaults:
// Ollama backends, embedded SQLite, a local SearXNG instance, and the
// embedding reranker mode.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Provider: ProviderConfig{
			Provider: "ollama",
			Model:    "gemma3:12b",
		},
		Embedder: EmbedderConfig{
			Provider: "ollama",
		},
		Router: RouterConfig{
			Model:         "gemma3:4b",
			MinWords:      3,
			DefaultSearch: false,
		},
		Reranker: RerankerConfig{
			Enabled:   true,
			Mode:      "embedding",
			Threshold: 0.15,
		},
		Search: SearchConfig{
			URL:             "http://localhost:8888",
			MaxResults:      5,
			CacheTTLMinutes: 60,
		},
		Store: StoreConfig{
			Provider: "sqlite",
			Path:     "./soulcore.db",
		},
		Heartbeat: HeartbeatConfig{
			IntervalSeconds: 60,
			ReflectEvery:    10,
			SentryModel:     "gemma3:4b",
			ScribeModel:     "gemma3:4b",
			Protocol:        "idle-reflection",
		},
		Memory: MemoryConfig{
			NoteLimit: 5,
		},
		Persona: PersonaConfig{
			Name: "soulcore",
		},
		Delivery: DeliveryConfig{
			Mode: "store",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for a .env file (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Applies environment variables over DefaultConfig
//
// Supported environment variables:
//   - API_HOST, API_PORT
//   - PROVIDER, PROVIDER_API_KEY, PROVIDER_MODEL, PROVIDER_BASE_URL
//   - EMBEDDER_PROVIDER, EMBEDDER_API_KEY, EMBEDDER_MODEL, EMBEDDER_BASE_URL
//   - ROUTER_MODEL, ROUTER_MIN_WORDS, ROUTER_DEFAULT_SEARCH
//   - RERANKER_ENABLED, RERANKER_MODE, RERANKER_URL, RERANKER_THRESHOLD
//   - SEARCH_URL, SEARCH_MAX_RESULTS, SEARCH_CACHE_TTL_MINUTES
//   - STORE_PROVIDER, STORE_PATH, STORE_HOST, STORE_PORT, STORE_USER,
//     STORE_PASSWORD, STORE_DATABASE
//   - HEARTBEAT_INTERVAL_SECONDS, HEARTBEAT_REFLECT_EVERY,
//     HEARTBEAT_SENTRY_MODEL, HEARTBEAT_SCRIBE_MODEL
//   - PERSONA_NAME, PERSONA_SYSTEM
//   - DELIVERY_MODE, DELIVERY_WEBHOOK_URL
//   - LOG_LEVEL
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()

	cfg.API.Host = getEnvOrDefault("API_HOST", cfg.API.Host)
	cfg.API.Port = getEnvInt("API_PORT", cfg.API.Port)

	cfg.Provider.Provider = getEnvOrDefault("PROVIDER", cfg.Provider.Provider)
	cfg.Provider.APIKey = os.Getenv("PROVIDER_API_KEY")
	cfg.Provider.Model = getEnvOrDefault("PROVIDER_MODEL", cfg.Provider.Model)
	cfg.Provider.BaseURL = os.Getenv("PROVIDER_BASE_URL")

	cfg.Embedder.Provider = getEnvOrDefault("EMBEDDER_PROVIDER", cfg.Embedder.Provider)
	cfg.Embedder.APIKey = os.Getenv("EMBEDDER_API_KEY")
	cfg.Embedder.Model = getEnvOrDefault("EMBEDDER_MODEL", cfg.Embedder.Model)
	cfg.Embedder.BaseURL = os.Getenv("EMBEDDER_BASE_URL")
	cfg.Embedder.Dimensions = getEnvInt("EMBEDDER_DIMENSIONS", cfg.Embedder.Dimensions)

	cfg.Router.Model = getEnvOrDefault("ROUTER_MODEL", cfg.Router.Model)
	cfg.Router.MinWords = getEnvInt("ROUTER_MIN_WORDS", cfg.Router.MinWords)
	cfg.Router.DefaultSearch = getEnvBool("ROUTER_DEFAULT_SEARCH", cfg.Router.DefaultSearch)

	cfg.Reranker.Enabled = getEnvBool("RERANKER_ENABLED", cfg.Reranker.Enabled)
	cfg.Reranker.Mode = getEnvOrDefault("RERANKER_MODE", cfg.Reranker.Mode)
	cfg.Reranker.URL = os.Getenv("RERANKER_URL")
	cfg.Reranker.Threshold = getEnvFloat("RERANKER_THRESHOLD", cfg.Reranker.Threshold)

	cfg.Search.URL = getEnvOrDefault("SEARCH_URL", cfg.Search.URL)
	cfg.Search.MaxResults = getEnvInt("SEARCH_MAX_RESULTS", cfg.Search.MaxResults)
	cfg.Search.CacheTTLMinutes = getEnvInt("SEARCH_CACHE_TTL_MINUTES", cfg.Search.CacheTTLMinutes)

	cfg.Store.Provider = getEnvOrDefault("STORE_PROVIDER", cfg.Store.Provider)
	cfg.Store.Path = getEnvOrDefault("STORE_PATH", cfg.Store.Path)
	cfg.Store.Host = getEnvOrDefault("STORE_HOST", cfg.Store.Host)
	cfg.Store.Port = getEnvInt("STORE_PORT", cfg.Store.Port)
	cfg.Store.User = getEnvOrDefault("STORE_USER", cfg.Store.User)
	cfg.Store.Password = os.Getenv("STORE_PASSWORD")
	cfg.Store.Database = getEnvOrDefault("STORE_DATABASE", cfg.Store.Database)

	cfg.Heartbeat.IntervalSeconds = getEnvInt("HEARTBEAT_INTERVAL_SECONDS", cfg.Heartbeat.IntervalSeconds)
	cfg.Heartbeat.ReflectEvery = getEnvInt("HEARTBEAT_REFLECT_EVERY", cfg.Heartbeat.ReflectEvery)
	cfg.Heartbeat.SentryModel = getEnvOrDefault("HEARTBEAT_SENTRY_MODEL", cfg.Heartbeat.SentryModel)
	cfg.Heartbeat.ScribeModel = getEnvOrDefault("HEARTBEAT_SCRIBE_MODEL", cfg.Heartbeat.ScribeModel)

	cfg.Memory.NoteLimit = getEnvInt("MEMORY_NOTE_LIMIT", cfg.Memory.NoteLimit)

	cfg.Persona.Name = getEnvOrDefault("PERSONA_NAME", cfg.Persona.Name)
	cfg.Persona.System = getEnvOrDefault("PERSONA_SYSTEM", cfg.Persona.System)

	cfg.Delivery.Mode = getEnvOrDefault("DELIVERY_MODE", cfg.Delivery.Mode)
	cfg.Delivery.WebhookURL = os.Getenv("DELIVERY_WEBHOOK_URL")

	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigFromYAML loads configuration from a YAML file, applied over
// DefaultConfig so partial files work.
func LoadConfigFromYAML(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, NewCoreError("LoadConfigFromYAML", err)
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, NewCoreError("LoadConfigFromYAML", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for unusable values.
func (c *Config) Validate() error {
	if c.Provider.Provider == "" {
		return NewCoreError("Validate", fmt.Errorf("%w: provider is required", ErrInvalidConfig))
	}
	if c.Store.Provider == "" {
		return NewCoreError("Validate", fmt.Errorf("%w: store provider is required", ErrInvalidConfig))
	}
	if c.Store.Provider == "sqlite" && c.Store.Path == "" {
		return NewCoreError("Validate", fmt.Errorf("%w: sqlite store requires a path", ErrInvalidConfig))
	}
	if c.Reranker.Enabled && c.Reranker.Mode == "http" && c.Reranker.URL == "" {
		return NewCoreError("Validate", fmt.Errorf("%w: http reranker requires a url", ErrInvalidConfig))
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return NewCoreError("Validate", fmt.Errorf("%w: api port out of range", ErrInvalidConfig))
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getEnvFloat gets a float environment variable or returns the default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// FindEnvFile searches for a .env file.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}

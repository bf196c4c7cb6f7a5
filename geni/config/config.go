package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	internal "github.com/ZanzyTHEbar/iam-geni/geni"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config stores all configuration of the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Graph   GraphConfig   `mapstructure:"graph"`
	QA      QAConfig      `mapstructure:"qa"`
	LLM     LLMConfig     `mapstructure:"llm"`
	Router  RouterConfig  `mapstructure:"router"`
	Session SessionConfig `mapstructure:"session"`
	Log     LogConfig     `mapstructure:"log"`
	Chat    ChatConfig    `mapstructure:"chat"`
}

// ServerConfig stores the HTTP API settings.
type ServerConfig struct {
	ListenAddr      string        `mapstructure:"listen_addr"`      // Address the API binds to
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`     // Per-request read timeout
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`    // Per-request write timeout
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"` // Graceful shutdown budget
	EagerInit       bool          `mapstructure:"eager_init"`       // Build capability adapters at startup
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`  // CORS origins of the chat UI
}

// AuthConfig stores bearer token validation settings.
type AuthConfig struct {
	Enabled  bool          `mapstructure:"enabled"`   // Require a bearer token on API calls
	TenantID string        `mapstructure:"tenant_id"` // Directory tenant
	ClientID string        `mapstructure:"client_id"` // Expected audience
	Issuer   string        `mapstructure:"issuer"`    // Derived from tenant_id when empty
	JWKSURL  string        `mapstructure:"jwks_url"`  // Derived from tenant_id when empty
	CacheTTL time.Duration `mapstructure:"cache_ttl"` // JWKS refresh interval
}

// GraphConfig stores the directory (Graph REST) adapter settings.
type GraphConfig struct {
	BaseURL          string        `mapstructure:"base_url"`          // Graph v1.0 root
	TenantID         string        `mapstructure:"tenant_id"`         // App registration tenant
	ClientID         string        `mapstructure:"client_id"`         // App registration client
	ClientSecret     string        `mapstructure:"client_secret"`     // App registration secret
	TokenURL         string        `mapstructure:"token_url"`         // Derived from tenant_id when empty
	Scopes           []string      `mapstructure:"scopes"`            // Client credential scopes
	Timeout          time.Duration `mapstructure:"timeout"`           // Per-request HTTP timeout
	OwnerConcurrency int           `mapstructure:"owner_concurrency"` // Parallel owner checks in ownerless scans
}

// QAConfig stores the documentation QA adapter settings.
type QAConfig struct {
	SearchEndpoint   string `mapstructure:"search_endpoint"`    // Search service root URL
	SearchIndex      string `mapstructure:"search_index"`       // Index holding IAM documents
	SearchAPIKey     string `mapstructure:"search_api_key"`     // Query key
	SearchAPIVersion string `mapstructure:"search_api_version"` // Search REST API version
	ContentField     string `mapstructure:"content_field"`      // Document field with the text
	TitleField       string `mapstructure:"title_field"`        // Document field with the title
	TopK             int    `mapstructure:"top_k"`              // Documents retrieved per question
	MaxContextTokens int    `mapstructure:"max_context_tokens"` // Context packing budget
	HistoryTurns     int    `mapstructure:"history_turns"`      // Thread turns replayed to the model
}

// LLMConfig stores the chat completion endpoint settings.
type LLMConfig struct {
	Flavor      string        `mapstructure:"flavor"`      // "azure" or "openai"
	Endpoint    string        `mapstructure:"endpoint"`    // Service root URL
	APIKey      string        `mapstructure:"api_key"`     // API key
	Model       string        `mapstructure:"model"`       // Model or deployment name
	APIVersion  string        `mapstructure:"api_version"` // Azure API version
	Temperature float64       `mapstructure:"temperature"` // Sampling temperature
	MaxTokens   int           `mapstructure:"max_tokens"`  // Max completion tokens
	Timeout     time.Duration `mapstructure:"timeout"`     // Per-request HTTP timeout
}

// RouterConfig stores intent router settings.
type RouterConfig struct {
	Classifier      string        `mapstructure:"classifier"`        // "rules" or "llm"
	InvokeTimeout   time.Duration `mapstructure:"invoke_timeout"`    // Budget for one capability call
	MaxHistoryTurns int           `mapstructure:"max_history_turns"` // History window given to the classifier

	// Cache settings
	CacheEnabled    bool `mapstructure:"cache_enabled"`     // Cache classifier decisions
	CacheCapacity   int  `mapstructure:"cache_capacity"`    // LRU cache capacity
	CacheTTLSeconds int  `mapstructure:"cache_ttl_seconds"` // Cache entry TTL

	// Rate limiting
	RateLimitEnabled    bool          `mapstructure:"rate_limit_enabled"`     // Per-thread admission control
	RateLimitCapacity   int           `mapstructure:"rate_limit_capacity"`    // Token bucket capacity
	RateLimitRefillRate time.Duration `mapstructure:"rate_limit_refill_rate"` // Refill rate

	// Safety and validation
	EnableGuardrails  bool     `mapstructure:"enable_guardrails"`  // Validate operation arguments
	AllowedOperations []string `mapstructure:"allowed_operations"` // Whitelist of provisioning operations

	// Telemetry
	EnableTracing bool   `mapstructure:"enable_tracing"` // Enable tracing
	Tracer        string `mapstructure:"tracer"`         // "zerolog" or "otel"
}

// SessionConfig stores thread store settings.
type SessionConfig struct {
	Database DatabaseConfig `mapstructure:"database"`
}

// DatabaseConfig stores database connection details.
type DatabaseConfig struct {
	DSN  string `mapstructure:"dsn"`
	Type string `mapstructure:"type"` // "sqlite" or "libsql"
	// Embedded-only configuration
	DataDir string `mapstructure:"data_dir"` // Directory for database files
}

// LogConfig stores logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // zerolog level name
	Pretty bool   `mapstructure:"pretty"` // Console writer instead of JSON
}

// ChatConfig stores terminal client settings.
type ChatConfig struct {
	APIBase string        `mapstructure:"api_base"` // Base URL of the API
	Token   string        `mapstructure:"token"`    // Bearer token sent to the API
	Timeout time.Duration `mapstructure:"timeout"`  // Per-request timeout
}

var AppConfig Config

// activeViper is the instance that produced AppConfig; Watch attaches to it.
var activeViper *viper.Viper

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("..")
		v.AddConfigPath(filepath.Join("etc", internal.DefaultAppName))
		v.AddConfigPath(internal.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.AutomaticEnv()
	// Replace dots with underscores in env var names e.g. graph.client_secret becomes GRAPH_CLIENT_SECRET
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}
	cfg.derive()

	AppConfig = cfg
	activeViper = v
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.listen_addr", internal.DefaultListenAddr)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.eager_init", false)
	v.SetDefault("server.allowed_origins", []string{"http://localhost:8501"})

	// Auth defaults (off until a tenant is configured)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.cache_ttl", "1h")

	// Graph defaults
	v.SetDefault("graph.base_url", internal.DefaultGraphBaseURL)
	v.SetDefault("graph.scopes", []string{"https://graph.microsoft.com/.default"})
	v.SetDefault("graph.timeout", "30s")
	v.SetDefault("graph.owner_concurrency", 8)

	// QA defaults
	v.SetDefault("qa.search_index", internal.DefaultSearchIndex)
	v.SetDefault("qa.search_api_version", "2023-11-01")
	v.SetDefault("qa.content_field", "content")
	v.SetDefault("qa.title_field", "title")
	v.SetDefault("qa.top_k", 5)
	v.SetDefault("qa.max_context_tokens", 2048)
	v.SetDefault("qa.history_turns", 10)

	// LLM defaults
	v.SetDefault("llm.flavor", "azure")
	v.SetDefault("llm.model", "gpt-4o")
	v.SetDefault("llm.api_version", "2024-06-01")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.max_tokens", 1024)
	v.SetDefault("llm.timeout", "60s")

	// Router defaults
	v.SetDefault("router.classifier", "rules")
	v.SetDefault("router.invoke_timeout", "90s")
	v.SetDefault("router.max_history_turns", 40)
	v.SetDefault("router.cache_enabled", false)
	v.SetDefault("router.cache_capacity", 1000)
	v.SetDefault("router.cache_ttl_seconds", 600)
	v.SetDefault("router.rate_limit_enabled", true)
	v.SetDefault("router.rate_limit_capacity", 4)
	v.SetDefault("router.rate_limit_refill_rate", "1s")
	v.SetDefault("router.enable_guardrails", true)
	v.SetDefault("router.allowed_operations", []string{}) // Empty means allow all by default
	v.SetDefault("router.enable_tracing", true)
	v.SetDefault("router.tracer", "zerolog")

	// Session store defaults
	v.SetDefault("session.database.dsn", internal.DefaultDatabaseDSN)
	v.SetDefault("session.database.type", internal.DefaultDatabaseType)
	v.SetDefault("session.database.data_dir", internal.DefaultDatabaseDir)

	// Logging defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	// Chat client defaults
	v.SetDefault("chat.api_base", "http://localhost"+internal.DefaultListenAddr)
	v.SetDefault("chat.timeout", "120s")
}

// derive fills values computed from other settings.
func (c *Config) derive() {
	if c.Auth.TenantID != "" {
		if c.Auth.Issuer == "" {
			c.Auth.Issuer = fmt.Sprintf("https://login.microsoftonline.com/%s/v2.0", c.Auth.TenantID)
		}
		if c.Auth.JWKSURL == "" {
			c.Auth.JWKSURL = fmt.Sprintf("https://login.microsoftonline.com/%s/discovery/v2.0/keys", c.Auth.TenantID)
		}
	}
	if c.Graph.TokenURL == "" && c.Graph.TenantID != "" {
		c.Graph.TokenURL = fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", c.Graph.TenantID)
	}
}

// Watch re-reads the active config file whenever it changes and hands the new
// values to onChange. It is a no-op when no file was loaded.
func Watch(onChange func(*Config)) {
	v := activeViper
	if v == nil || v.ConfigFileUsed() == "" {
		return
	}
	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			return
		}
		cfg.derive()
		onChange(&cfg)
	})
	v.WatchConfig()
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/gonkalabs/pii-anonymizer/internal/anonymize"
)

// Cfg holds all runtime configuration loaded from environment variables.
type Cfg struct {
	// Server
	Port            string        `envconfig:"PORT" default:"8080"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
	RateLimitRPS    float64       `envconfig:"RATE_LIMIT_RPS" default:"20"`  // 0 disables limiting
	RateLimitBurst  int           `envconfig:"RATE_LIMIT_BURST" default:"40"`

	// Logging and telemetry
	LogLevel         string `envconfig:"LOG_LEVEL" default:"info"`  // debug|info|warn|error
	LogFormat        string `envconfig:"LOG_FORMAT" default:"text"` // text|json
	OTelEnabled      bool   `envconfig:"OTEL_ENABLED" default:"false"`
	MetricsNamespace string `envconfig:"METRICS_NAMESPACE" default:"anonymizer"`

	// Anonymization
	Entities        []string      `envconfig:"ANONYMIZER_ENTITIES"` // empty = all default entities
	Language        string        `envconfig:"ANONYMIZER_LANGUAGE" default:"en"`
	DefaultStrategy string        `envconfig:"DEFAULT_STRATEGY" default:"Redact"`
	FakeConsistent  bool          `envconfig:"FAKE_CONSISTENT" default:"false"`
	DetectBudget    time.Duration `envconfig:"DETECT_BUDGET" default:"120s"`

	// Built-in regex recognizers
	PatternsEnabled  bool    `envconfig:"PATTERNS_ENABLED" default:"true"`
	PatternsFile     string  `envconfig:"PATTERNS_FILE"` // extra Presidio-format recognizer YAML
	PatternsMinScore float64 `envconfig:"PATTERNS_MIN_SCORE" default:"0.4"`

	// NER sidecar (Presidio-compatible /analyze)
	NEREnabled    bool     `envconfig:"NER_ENABLED" default:"false"`
	NERURLs       []string `envconfig:"NER_URL" default:"http://presidio-analyzer:3000"` // comma-separated replicas
	NERMaxRetries int      `envconfig:"NER_MAX_RETRIES" default:"2"`

	// LLM classifier layer
	LLMEnabled bool    `envconfig:"LLM_ENABLED" default:"false"`
	LLMURL     string  `envconfig:"LLM_URL" default:"http://ollama:11434"`
	LLMModel   string  `envconfig:"LLM_MODEL" default:"qwen3:4b"`
	LLMScore   float64 `envconfig:"LLM_SCORE" default:"0.6"`
}

// ListenAddr returns the address the HTTP server binds to.
func (c *Cfg) ListenAddr() string { return ":" + c.Port }

// Load reads .env (if present) then environment variables and returns Cfg.
func Load() (*Cfg, error) {
	// Best-effort: load .env from current directory
	_ = godotenv.Load()

	var cfg Cfg
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Cfg) normalize() {
	urls := c.NERURLs[:0]
	for _, u := range c.NERURLs {
		if u = strings.TrimRight(strings.TrimSpace(u), "/"); u != "" {
			urls = append(urls, u)
		}
	}
	c.NERURLs = urls
	c.LLMURL = strings.TrimRight(strings.TrimSpace(c.LLMURL), "/")
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))

	entities := c.Entities[:0]
	for _, e := range c.Entities {
		if e = strings.ToUpper(strings.TrimSpace(e)); e != "" {
			entities = append(entities, e)
		}
	}
	c.Entities = entities
}

// Validate checks values envconfig cannot check by type alone.
func (c *Cfg) Validate() error {
	if _, err := anonymize.ParseStrategy(c.DefaultStrategy); err != nil {
		return fmt.Errorf("config: DEFAULT_STRATEGY: %w", err)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: LOG_LEVEL must be debug, info, warn or error, got %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	if c.RateLimitRPS < 0 {
		return fmt.Errorf("config: RATE_LIMIT_RPS must not be negative")
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		return fmt.Errorf("config: RATE_LIMIT_BURST must be at least 1 when limiting is on")
	}
	if c.DetectBudget <= 0 {
		return fmt.Errorf("config: DETECT_BUDGET must be positive")
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("config: SHUTDOWN_TIMEOUT must be positive")
	}
	if c.NERMaxRetries < 0 {
		return fmt.Errorf("config: NER_MAX_RETRIES must not be negative")
	}
	if c.LLMScore <= 0 || c.LLMScore > 1 {
		return fmt.Errorf("config: LLM_SCORE must be in (0,1]")
	}
	if c.PatternsMinScore < 0 || c.PatternsMinScore > 1 {
		return fmt.Errorf("config: PATTERNS_MIN_SCORE must be in [0,1]")
	}
	if c.NEREnabled && len(c.NERURLs) == 0 {
		return fmt.Errorf("config: NER_URL is required when NER_ENABLED is set")
	}
	if c.LLMEnabled && (c.LLMURL == "" || c.LLMModel == "") {
		return fmt.Errorf("config: LLM_URL and LLM_MODEL are required when LLM_ENABLED is set")
	}
	return nil
}

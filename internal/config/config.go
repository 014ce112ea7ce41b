package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Vector        VectorConfig        `mapstructure:"vector"`
	Crawler       CrawlerConfig       `mapstructure:"crawler"`
	Chunker       ChunkerConfig       `mapstructure:"chunker"`
	Ingest        IngestConfig        `mapstructure:"ingest"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	Log           LogConfig           `mapstructure:"log"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`

	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`

	// RequestsPerMinute caps API calls across completions and embeddings.
	// Zero disables the limiter.
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// EmbeddingConfig selects the embedding backend. Provider/APIKey/BaseURL fall
// back to the LLM section when empty, so a single OpenAI-compatible endpoint
// can serve both roles.
type EmbeddingConfig struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	APIKey    string `mapstructure:"api_key"`
	BaseURL   string `mapstructure:"base_url"`
	Dimension int    `mapstructure:"dimension"`
}

type VectorConfig struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
}

type CrawlerConfig struct {
	MaxPages          int           `mapstructure:"max_pages"`
	MaxPagesLimit     int           `mapstructure:"max_pages_limit"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

type ChunkerConfig struct {
	Size    int `mapstructure:"size"`
	Overlap int `mapstructure:"overlap"`
}

type IngestConfig struct {
	EmbeddingsOnly bool `mapstructure:"embeddings_only"`
	SnippetLength  int  `mapstructure:"snippet_length"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	Environment  string  `mapstructure:"environment"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ResolveEmbedding returns the embedding backend settings with LLM-section
// fallbacks applied.
func (c *Config) ResolveEmbedding() EmbeddingConfig {
	resolved := c.Embedding
	if resolved.Provider == "" {
		resolved.Provider = c.LLM.Provider
	}
	if resolved.APIKey == "" {
		resolved.APIKey = c.LLM.APIKey
	}
	if resolved.BaseURL == "" {
		resolved.BaseURL = c.LLM.BaseURL
	}
	return resolved
}

// Validate checks configuration for issues and returns warnings.
func (c *Config) Validate() []string {
	var warnings []string

	if c.LLM.Provider != "" && c.LLM.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("LLM provider '%s' is configured but api_key is empty", c.LLM.Provider))
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2.0 {
		warnings = append(warnings, fmt.Sprintf("LLM temperature %.2f is outside recommended range [0.0, 2.0]", c.LLM.Temperature))
	}

	if c.Embedding.Dimension <= 0 {
		warnings = append(warnings, fmt.Sprintf("embedding dimension %d is not positive; vectors cannot be validated against the collection", c.Embedding.Dimension))
	}

	if c.Chunker.Size <= c.Chunker.Overlap {
		warnings = append(warnings, fmt.Sprintf("chunker size %d must exceed overlap %d", c.Chunker.Size, c.Chunker.Overlap))
	}

	if c.Crawler.MaxPages < 1 {
		warnings = append(warnings, fmt.Sprintf("crawler max_pages %d is below 1", c.Crawler.MaxPages))
	}

	if c.Crawler.MaxPagesLimit > 0 && c.Crawler.MaxPages > c.Crawler.MaxPagesLimit {
		warnings = append(warnings, fmt.Sprintf("crawler max_pages %d exceeds max_pages_limit %d", c.Crawler.MaxPages, c.Crawler.MaxPagesLimit))
	}

	return warnings
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 5*time.Minute) // streaming responses can be slow
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.timeout", 2*time.Minute)
	// Upstream failures surface to the caller; retries are opt-in.
	v.SetDefault("llm.max_retries", 0)
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.dimension", 1536)
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6334)
	v.SetDefault("vector.collection", "default")
	v.SetDefault("crawler.max_pages", 5)
	v.SetDefault("crawler.max_pages_limit", 100)
	v.SetDefault("crawler.request_timeout", 15*time.Second)
	v.SetDefault("crawler.user_agent", "sift-crawler/0.1")
	v.SetDefault("crawler.requests_per_second", 2.0)
	v.SetDefault("chunker.size", 1000)
	v.SetDefault("chunker.overlap", 200)
	v.SetDefault("ingest.embeddings_only", false)
	v.SetDefault("ingest.snippet_length", 500)
	v.SetDefault("observability.sample_rate", 1.0)
	v.SetDefault("observability.environment", "development")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from file and environment. An empty path loads
// defaults plus environment overrides only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("SIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// Validate configuration and print warnings
	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}

// Package config loads pistas settings from an optional YAML file and the
// process environment. Environment variables win over the file; the file
// wins over the defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/koustreak/pistas/internal/catalog"
	"github.com/koustreak/pistas/internal/errs"
	"github.com/koustreak/pistas/internal/filestore"
	"github.com/koustreak/pistas/internal/logger"
	"github.com/koustreak/pistas/internal/search"
)

// Config is the complete runtime configuration.
type Config struct {
	Provider   string `yaml:"provider"`
	Credential string `yaml:"credential"`
	BucketID   string `yaml:"bucket_id"`
	BucketName string `yaml:"bucket_name"`
	AuthURL    string `yaml:"auth_url"`

	// S3-compatible endpoint settings, used when Provider is "s3".
	Endpoint string `yaml:"endpoint"`
	Region   string `yaml:"region"`
	UseSSL   bool   `yaml:"use_ssl"`

	PageSize       int           `yaml:"page_size"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	SessionTTL     time.Duration `yaml:"session_ttl"`
	CatalogTTL     time.Duration `yaml:"catalog_ttl"`
	CrawlTimeout   time.Duration `yaml:"crawl_timeout"`
	CrawlRateLimit float64       `yaml:"crawl_rate_limit"`

	Search SearchConfig `yaml:"search"`
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
}

// SearchConfig tunes the search engine.
type SearchConfig struct {
	MaxResults int            `yaml:"max_results"`
	Threshold  float64        `yaml:"threshold"`
	Boosts     []search.Boost `yaml:"boosts"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// PublicURL is the externally visible base URL used to build stream links.
	PublicURL string `yaml:"public_url"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Provider:       string(filestore.ProviderB2),
		BucketName:     "pistas",
		AuthURL:        filestore.DefaultAuthURL,
		UseSSL:         true,
		PageSize:       filestore.DefaultPageSize,
		RequestTimeout: filestore.DefaultRequestTimeout,
		SessionTTL:     filestore.DefaultSessionTTL,
		CatalogTTL:     catalog.DefaultTTL,
		CrawlTimeout:   catalog.DefaultCrawlTimeout,
		Search: SearchConfig{
			MaxResults: search.DefaultMaxResults,
			Threshold:  search.DefaultThreshold,
		},
		Server: ServerConfig{
			Port:            3001,
			PublicURL:       "http://localhost:3001",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    0, // streams can run for as long as the track
			ShutdownTimeout: 10 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (skipped when empty), applies environment overrides and
// validates the result. A missing credential is not an error here: it
// surfaces on the first call that needs the remote.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindConfig, "read config file", err)
		}
		if err := yaml.Unmarshal([]byte(os.Expand(string(data), expandFrom(lookup))), cfg); err != nil {
			return nil, errs.Wrap(errs.ErrKindConfig, "parse config file "+path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func expandFrom(lookup func(string) (string, bool)) func(string) string {
	return func(name string) string {
		v, _ := lookup(name)
		return v
	}
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"PISTAS_PROVIDER":    &c.Provider,
		"B2_APPLICATION_KEY": &c.Credential,
		"B2_BUCKET_ID":       &c.BucketID,
		"B2_BUCKET_NAME":     &c.BucketName,
		"B2_ENDPOINT":        &c.Endpoint,
		"B2_REGION":          &c.Region,
		"API_URL":            &c.Server.PublicURL,
		"LOG_LEVEL":          &c.Log.Level,
		"LOG_FORMAT":         &c.Log.Format,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errs.Wrap(errs.ErrKindConfig, "PORT is not a number", err)
		}
		c.Server.Port = port
	}
	return nil
}

// Validate checks the values that would otherwise fail far from their source.
func (c *Config) Validate() error {
	switch filestore.Provider(strings.ToLower(c.Provider)) {
	case filestore.ProviderB2, filestore.ProviderS3:
		c.Provider = strings.ToLower(c.Provider)
	default:
		return errs.New(errs.ErrKindConfig, fmt.Sprintf("unknown provider %q (must be b2 or s3)", c.Provider))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errs.New(errs.ErrKindConfig, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.PageSize < 0 {
		return errs.New(errs.ErrKindConfig, "page_size must be non-negative")
	}
	if c.CrawlRateLimit < 0 {
		return errs.New(errs.ErrKindConfig, "crawl_rate_limit must be non-negative")
	}
	if c.Search.Threshold < 0 {
		return errs.New(errs.ErrKindConfig, "search.threshold must be non-negative")
	}
	for name, d := range map[string]time.Duration{
		"request_timeout": c.RequestTimeout,
		"session_ttl":     c.SessionTTL,
		"catalog_ttl":     c.CatalogTTL,
		"crawl_timeout":   c.CrawlTimeout,
	} {
		if d < 0 {
			return errs.New(errs.ErrKindConfig, name+" must be non-negative")
		}
	}
	for i, b := range c.Search.Boosts {
		if strings.TrimSpace(b.Pattern) == "" {
			return errs.New(errs.ErrKindConfig, fmt.Sprintf("search.boosts[%d]: empty pattern", i))
		}
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Filestore returns the driver configuration.
func (c *Config) Filestore() *filestore.Config {
	return &filestore.Config{
		Provider:       filestore.Provider(c.Provider),
		Credential:     c.Credential,
		BucketID:       c.BucketID,
		BucketName:     c.BucketName,
		AuthURL:        c.AuthURL,
		Endpoint:       c.Endpoint,
		Region:         c.Region,
		UseSSL:         c.UseSSL,
		PageSize:       c.PageSize,
		RequestTimeout: c.RequestTimeout,
		SessionTTL:     c.SessionTTL,
	}
}

// Catalog returns the catalog cache options.
func (c *Config) Catalog() catalog.Options {
	return catalog.Options{
		TTL:          c.CatalogTTL,
		CrawlTimeout: c.CrawlTimeout,
		PageSize:     c.PageSize,
		RateLimit:    c.CrawlRateLimit,
	}
}

// SearchOptions returns the search engine options.
func (c *Config) SearchOptions() search.Options {
	return search.Options{
		Threshold:  c.Search.Threshold,
		Boosts:     c.Search.Boosts,
		MaxResults: c.Search.MaxResults,
	}
}

// Logger returns the logger configuration.
func (c *Config) Logger() *logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = c.Log.Format
	return lc
}

// Package config loads configuration from environment variables and an
// optional config file.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/fruitsalade/fruitstatic/internal/index"
)

// Preset is a named index capacity/TTL pair.
type Preset struct {
	Capacity int
	TTL      time.Duration
}

// Presets. Explicit INDEX_CAPACITY / INDEX_TTL override them.
var Presets = map[string]Preset{
	"small": {Capacity: 500, TTL: 20 * time.Minute},
	"large": {Capacity: 1000, TTL: 50 * time.Hour},
}

// Header is one constant response header added to full-content responses.
type Header struct {
	Name  string
	Value string
}

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Origin ("local" or "s3")
	Source      string
	RootDir     string
	S3Endpoint  string
	S3Bucket    string
	S3Prefix    string
	S3AccessKey string
	S3SecretKey string
	S3Region    string

	// Metadata index
	IndexMode     index.Mode
	IndexCapacity int
	IndexTTL      time.Duration
	// IndexRefresh re-walks the origin in eager mode; 0 disables.
	IndexRefresh time.Duration

	// Freshness and ranges
	TokenCapacity int
	MaxAge        time.Duration
	NoCache       bool
	ChunkSize     int64
	ConfineToRoot bool
	ExtraHeaders  []Header

	// Tracing (empty endpoint disables export)
	OTelEndpoint string
	OTelInsecure bool

	Preset string
	// Gzip is accepted for compatibility and has no effect.
	Gzip bool
}

// Load reads configuration from the environment. If CONFIG_FILE is set, the
// file is read first and environment variables take precedence over it.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("LISTEN_ADDR", ":8080")
	v.SetDefault("METRICS_ADDR", ":9090")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("SOURCE", "local")
	v.SetDefault("ROOT_DIR", ".")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("INDEX_MODE", string(index.ModeEager))
	v.SetDefault("TOKEN_CAPACITY", 500)
	v.SetDefault("MAX_AGE", 1200)
	v.SetDefault("NO_CACHE", true)
	v.SetDefault("CHUNK_SIZE", 3145728)
	v.SetDefault("CONFINE_TO_ROOT", true)
	v.SetDefault("OTEL_INSECURE", true)
	v.SetDefault("PRESET", "small")
	v.SetDefault("GZIP", false)
	// INDEX_CAPACITY and INDEX_TTL have no defaults: unset means "use the preset".
}

func fromViper(v *viper.Viper) (*Config, error) {
	mode, err := index.ParseMode(v.GetString("INDEX_MODE"))
	if err != nil {
		return nil, err
	}

	presetName := strings.ToLower(v.GetString("PRESET"))
	preset, ok := Presets[presetName]
	if !ok {
		return nil, fmt.Errorf("unknown PRESET %q", presetName)
	}

	headers, err := ParseHeaders(v.GetString("EXTRA_HEADERS"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddr:    v.GetString("LISTEN_ADDR"),
		MetricsAddr:   v.GetString("METRICS_ADDR"),
		LogLevel:      v.GetString("LOG_LEVEL"),
		LogFormat:     v.GetString("LOG_FORMAT"),
		Source:        strings.ToLower(v.GetString("SOURCE")),
		RootDir:       v.GetString("ROOT_DIR"),
		S3Endpoint:    v.GetString("S3_ENDPOINT"),
		S3Bucket:      v.GetString("S3_BUCKET"),
		S3Prefix:      v.GetString("S3_PREFIX"),
		S3AccessKey:   v.GetString("S3_ACCESS_KEY"),
		S3SecretKey:   v.GetString("S3_SECRET_KEY"),
		S3Region:      v.GetString("S3_REGION"),
		IndexMode:     mode,
		IndexCapacity: preset.Capacity,
		IndexTTL:      preset.TTL,
		IndexRefresh:  v.GetDuration("INDEX_REFRESH"),
		TokenCapacity: v.GetInt("TOKEN_CAPACITY"),
		MaxAge:        time.Duration(v.GetInt64("MAX_AGE")) * time.Second,
		NoCache:       v.GetBool("NO_CACHE"),
		ChunkSize:     v.GetInt64("CHUNK_SIZE"),
		ConfineToRoot: v.GetBool("CONFINE_TO_ROOT"),
		ExtraHeaders:  headers,
		OTelEndpoint:  v.GetString("OTEL_ENDPOINT"),
		OTelInsecure:  v.GetBool("OTEL_INSECURE"),
		Preset:        presetName,
		Gzip:          v.GetBool("GZIP"),
	}
	if v.IsSet("INDEX_CAPACITY") {
		cfg.IndexCapacity = v.GetInt("INDEX_CAPACITY")
	}
	if v.IsSet("INDEX_TTL") {
		cfg.IndexTTL = v.GetDuration("INDEX_TTL")
	}
	if !v.IsSet("INDEX_REFRESH") && mode == index.ModeEager {
		cfg.IndexRefresh = cfg.IndexTTL / 2
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Source {
	case "local":
		if c.RootDir == "" {
			return fmt.Errorf("ROOT_DIR is required for the local source")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required for the s3 source")
		}
	default:
		return fmt.Errorf("unknown SOURCE %q", c.Source)
	}
	if c.IndexCapacity <= 0 {
		return fmt.Errorf("INDEX_CAPACITY must be positive, got %d", c.IndexCapacity)
	}
	if c.IndexTTL < 0 || c.IndexRefresh < 0 {
		return fmt.Errorf("INDEX_TTL and INDEX_REFRESH must not be negative")
	}
	if c.TokenCapacity <= 0 {
		return fmt.Errorf("TOKEN_CAPACITY must be positive, got %d", c.TokenCapacity)
	}
	if c.MaxAge <= 0 {
		return fmt.Errorf("MAX_AGE must be positive, got %s", c.MaxAge)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	return nil
}

// ParseHeaders parses "Name=Value,Name2=Value2". Order is preserved.
func ParseHeaders(s string) ([]Header, error) {
	var headers []Header
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid EXTRA_HEADERS entry %q, want Name=Value", pair)
		}
		headers = append(headers, Header{Name: name, Value: strings.TrimSpace(value)})
	}
	return headers, nil
}

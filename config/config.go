// Package config provides configuration management for memoria.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for memoria.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the HTTP API configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Storage is the persistence configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Metrics is the Prometheus configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the OpenTelemetry configuration.
	Tracing TracingConfig `mapstructure:"tracing"`

	// Memory tunes the memory engine.
	Memory MemoryConfig `mapstructure:"memory"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"env"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	// Enabled starts the HTTP API.
	Enabled bool `mapstructure:"enabled"`

	// Host is the bind address.
	Host string `mapstructure:"host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// HTTP holds HTTP timeouts and limits.
	HTTP HTTPConfig `mapstructure:"http"`

	// RateLimit throttles write endpoints.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`

	// GRPC is the gRPC transport configuration.
	GRPC GRPCConfig `mapstructure:"grpc"`
}

// GRPCConfig holds gRPC-specific settings.
type GRPCConfig struct {
	// Enabled starts the gRPC server.
	Enabled bool `mapstructure:"enabled"`

	// Port is the gRPC server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`

	// MaxConnections caps concurrent streams per connection.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// MaxRecvMsgSize is the maximum message size the server can receive (bytes).
	MaxRecvMsgSize int `mapstructure:"max_recv_msg_size" validate:"min=0"`

	// MaxSendMsgSize is the maximum message size the server can send (bytes).
	MaxSendMsgSize int `mapstructure:"max_send_msg_size" validate:"min=0"`

	// EnableHealthCheck registers the grpc.health.v1 service.
	EnableHealthCheck bool `mapstructure:"enable_health_check"`

	// TLS is the TLS/mTLS configuration.
	TLS GRPCTLSConfig `mapstructure:"tls"`

	// Keepalive is the keepalive configuration.
	Keepalive GRPCKeepaliveConfig `mapstructure:"keepalive"`
}

// GRPCTLSConfig holds gRPC TLS/mTLS settings.
type GRPCTLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`

	// CAFile verifies client certificates when ClientAuth is set.
	CAFile     string `mapstructure:"ca_file"`
	ClientAuth bool   `mapstructure:"client_auth"`
}

// GRPCKeepaliveConfig holds gRPC keepalive settings in seconds.
type GRPCKeepaliveConfig struct {
	MaxIdleSeconds      int  `mapstructure:"max_idle_seconds" validate:"min=0"`
	MaxAgeSeconds       int  `mapstructure:"max_age_seconds" validate:"min=0"`
	MaxAgeGraceSeconds  int  `mapstructure:"max_age_grace_seconds" validate:"min=0"`
	TimeSeconds         int  `mapstructure:"time_seconds" validate:"min=0"`
	TimeoutSeconds      int  `mapstructure:"timeout_seconds" validate:"min=0"`
	MinTimeSeconds      int  `mapstructure:"min_time_seconds" validate:"min=0"`
	PermitWithoutStream bool `mapstructure:"permit_without_stream"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RequestTimeout bounds each request handler.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes" validate:"min=0"`

	// MaxBodyBytes limits the size of request bodies.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" validate:"min=0"`
}

// RateLimitConfig holds the token bucket applied to write routes.
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" validate:"min=0"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// Badger holds long-term memories and the entity switch ledger.
	Badger BadgerConfig `mapstructure:"badger"`

	// SQLite backs the embeddings cache by default.
	SQLite SQLiteConfig `mapstructure:"sqlite"`

	// Redis is the alternative embeddings cache backend.
	Redis RedisConfig `mapstructure:"redis"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// InMemory runs badger without touching disk.
	InMemory bool `mapstructure:"in_memory"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size" validate:"min=0"`

	// NumVersionsToKeep is the number of versions to keep per key.
	NumVersionsToKeep int `mapstructure:"num_versions_to_keep" validate:"min=0"`
}

// SQLiteConfig holds the embeddings cache database settings.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string `mapstructure:"path"`

	// BusyTimeout is how long a writer waits on a locked database.
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	Address   string `mapstructure:"address"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"min=0"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the metrics server port.
	Port int `mapstructure:"port" validate:"min=1,max=65535"`
}

// TracingConfig holds OpenTelemetry tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter kind (otlp).
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=otlp"`

	// Endpoint is the collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Timeout bounds each export.
	Timeout time.Duration `mapstructure:"timeout"`

	// Headers are sent with every export request.
	Headers map[string]string `mapstructure:"headers"`

	// Sampler is always_on, always_off or ratio.
	Sampler string `mapstructure:"sampler" validate:"omitempty,oneof=always_on always_off ratio"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// MemoryConfig tunes the memory engine.
type MemoryConfig struct {
	ShortTerm     ShortTermConfig     `mapstructure:"short_term"`
	Promotion     PromotionConfig     `mapstructure:"promotion"`
	Decay         DecayConfig         `mapstructure:"decay"`
	Consolidation ConsolidationConfig `mapstructure:"consolidation"`
	Recall        RecallConfig        `mapstructure:"recall"`
	Sharing       SharingConfig       `mapstructure:"sharing"`
	Embedding     EmbeddingConfig     `mapstructure:"embedding"`
	Cache         CacheConfig         `mapstructure:"cache"`

	// RetrieveTopK is how many long-term hits Retrieve considers.
	RetrieveTopK int `mapstructure:"retrieve_top_k" validate:"min=1"`

	// MinSimilarity is the cosine floor for retrieval hits.
	MinSimilarity float64 `mapstructure:"min_similarity" validate:"min=0,max=1"`

	// MaxContextChars bounds the rendered context block.
	MaxContextChars int `mapstructure:"max_context_chars" validate:"min=64"`

	// QueryTimeout bounds a retrieval.
	QueryTimeout time.Duration `mapstructure:"query_timeout"`

	// StorageTimeout bounds every persistent write.
	StorageTimeout time.Duration `mapstructure:"storage_timeout"`
}

// ShortTermConfig sizes the short-term buffer.
type ShortTermConfig struct {
	MaxSize          int           `mapstructure:"max_size" validate:"min=1"`
	TTL              time.Duration `mapstructure:"ttl"`
	MinContentLength int           `mapstructure:"min_content_length" validate:"min=1"`
}

// PromotionConfig holds promotion thresholds.
type PromotionConfig struct {
	// ImportanceThreshold makes an entry promotable on importance alone.
	ImportanceThreshold float64 `mapstructure:"importance_threshold" validate:"min=0,max=1"`

	// AccessThreshold makes an entry promotable after repeated access.
	AccessThreshold int `mapstructure:"access_threshold" validate:"min=1"`

	// ImmediateThreshold schedules promotion on write.
	ImmediateThreshold float64 `mapstructure:"immediate_threshold" validate:"min=0,max=1"`

	// DedupThreshold merges promoted entries into near-identical long-term ones.
	DedupThreshold float64 `mapstructure:"dedup_threshold" validate:"min=0,max=1"`

	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	QueueSize     int           `mapstructure:"queue_size" validate:"min=1"`
}

// DecayConfig holds per-category half-lives.
type DecayConfig struct {
	UserInfo   time.Duration `mapstructure:"user_info"`
	Preference time.Duration `mapstructure:"preference"`
	Fact       time.Duration `mapstructure:"fact"`
	Event      time.Duration `mapstructure:"event"`
	Task       time.Duration `mapstructure:"task"`
	Emotion    time.Duration `mapstructure:"emotion"`
	Context    time.Duration `mapstructure:"context"`
	Default    time.Duration `mapstructure:"default"`

	// RelevanceFloor hides entries whose decayed score drops below it.
	RelevanceFloor float64 `mapstructure:"relevance_floor" validate:"min=0,max=1"`
}

// ConsolidationConfig controls periodic near-duplicate merging.
type ConsolidationConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Threshold float64       `mapstructure:"threshold" validate:"min=0,max=1"`
	Interval  time.Duration `mapstructure:"interval"`
}

// RecallConfig controls proactive recall.
type RecallConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Cooldown       time.Duration `mapstructure:"cooldown"`
	MinSimilarity  float64       `mapstructure:"min_similarity" validate:"min=0,max=1"`
	MaxPromptChars int           `mapstructure:"max_prompt_chars" validate:"min=16"`
}

// SharingConfig controls cross-entity sharing.
type SharingConfig struct {
	// Categories is the shareable allow-list.
	Categories []string `mapstructure:"categories" validate:"dive,oneof=fact preference emotion event user_info context task"`

	// AutoShare shares promoted entries of allow-listed categories.
	AutoShare bool `mapstructure:"auto_share"`
}

// EmbeddingConfig selects the encoder.
type EmbeddingConfig struct {
	// Provider is the encoder implementation (hash).
	Provider string `mapstructure:"provider" validate:"oneof=hash"`

	// Dimension is the vector length.
	Dimension int `mapstructure:"dimension" validate:"min=8,max=8192"`
}

// CacheConfig controls the embeddings cache.
type CacheConfig struct {
	// Backend is sqlite, redis or none.
	Backend string `mapstructure:"backend" validate:"oneof=sqlite redis none"`

	// HotEntries sizes the in-process tier.
	HotEntries int64 `mapstructure:"hot_entries" validate:"min=0"`

	// MaxAge is the age at which cached rows are purged.
	MaxAge time.Duration `mapstructure:"max_age"`

	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, Cache: %s}",
		c.App.Name, c.Server.Port, c.App.Environment, c.Memory.Cache.Backend)
}

package config

import "time"

const day = 24 * time.Hour

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "memoria",
			Version:     "dev",
			Environment: "development",
		},
		Server: ServerConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			HTTP: HTTPConfig{
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    30 * time.Second,
				IdleTimeout:     120 * time.Second,
				ShutdownTimeout: 15 * time.Second,
				RequestTimeout:  10 * time.Second,
				MaxHeaderBytes:  1 << 20,
				MaxBodyBytes:    1 << 20,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 50,
				Burst:             100,
			},
			GRPC: GRPCConfig{
				Enabled:           false,
				Port:              9090,
				MaxConnections:    1000,
				MaxRecvMsgSize:    4 << 20,
				MaxSendMsgSize:    4 << 20,
				EnableHealthCheck: true,
				Keepalive: GRPCKeepaliveConfig{
					MaxIdleSeconds:     300,
					MaxAgeSeconds:      3600,
					MaxAgeGraceSeconds: 60,
					TimeSeconds:        60,
					TimeoutSeconds:     20,
					MinTimeSeconds:     30,
				},
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:              "./data/badger",
				SyncWrites:        true,
				ValueLogFileSize:  1 << 28, // 256MB
				NumVersionsToKeep: 1,
			},
			SQLite: SQLiteConfig{
				Path:        "./data/embeddings.db",
				BusyTimeout: 5 * time.Second,
			},
			Redis: RedisConfig{
				Address:   "localhost:6379",
				KeyPrefix: "memoria:emb:",
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    9091,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlp",
			Endpoint:   "localhost:4317",
			Timeout:    5 * time.Second,
			Sampler:    "ratio",
			SampleRate: 0.1,
		},
		Memory: MemoryConfig{
			ShortTerm: ShortTermConfig{
				MaxSize:          50,
				TTL:              30 * time.Minute,
				MinContentLength: 10,
			},
			Promotion: PromotionConfig{
				ImportanceThreshold: 0.7,
				AccessThreshold:     3,
				ImmediateThreshold:  0.85,
				DedupThreshold:      0.95,
				SweepInterval:       5 * time.Minute,
				QueueSize:           64,
			},
			Decay: DecayConfig{
				UserInfo:       365 * day,
				Preference:     180 * day,
				Fact:           180 * day,
				Event:          30 * day,
				Task:           14 * day,
				Emotion:        7 * day,
				Context:        3 * day,
				Default:        30 * day,
				RelevanceFloor: 0.05,
			},
			Consolidation: ConsolidationConfig{
				Enabled:   true,
				Threshold: 0.92,
				Interval:  6 * time.Hour,
			},
			Recall: RecallConfig{
				Enabled:        true,
				Cooldown:       2 * time.Minute,
				MinSimilarity:  0.3,
				MaxPromptChars: 300,
			},
			Sharing: SharingConfig{
				Categories: []string{"user_info", "preference", "fact"},
				AutoShare:  true,
			},
			Embedding: EmbeddingConfig{
				Provider:  "hash",
				Dimension: 384,
			},
			Cache: CacheConfig{
				Backend:         "sqlite",
				HotEntries:      10000,
				MaxAge:          30 * day,
				CleanupInterval: 24 * time.Hour,
			},
			RetrieveTopK:    5,
			MinSimilarity:   0.2,
			MaxContextChars: 1500,
			QueryTimeout:    2 * time.Second,
			StorageTimeout:  3 * time.Second,
		},
	}
}

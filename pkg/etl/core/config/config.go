// Package config provides structures and utilities for managing application configuration.
package config

import (
	"time"
)

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// Config is the root configuration document.
type Config struct {
	ETL EtlConfig `yaml:"etl"`
}

// EtlConfig holds every section of the engine configuration.
type EtlConfig struct {
	System    SystemConfig                 `yaml:"system"`
	Database  DatabaseConfig               `yaml:"database"`
	Scheduler SchedulerConfig              `yaml:"scheduler"`
	Engine    EngineConfig                 `yaml:"engine"`
	Matcher   MatcherConfig                `yaml:"matcher"`
	Cache     CacheConfig                  `yaml:"cache"`
	Events    EventsConfig                 `yaml:"events"`
	Metrics   MetricsConfig                `yaml:"metrics"`
	Tracing   TracingConfig                `yaml:"tracing"`
	Export    ExportConfig                 `yaml:"export"`
	Storage   map[string]StorageConfig     `yaml:"storage"`
	Lookups   map[string]map[string]string `yaml:"lookups"`
	// Catalog is the path of the job catalog loaded at startup. Empty disables it.
	Catalog string `yaml:"catalog"`
}

// SystemConfig holds process-wide settings.
type SystemConfig struct {
	Timezone string        `yaml:"timezone"`
	Logging  LoggingConfig `yaml:"logging"`
}

// LoggingConfig selects log verbosity and encoding.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // DEBUG, INFO, WARN, ERROR, SILENT
	Format string `yaml:"format"` // json or console
}

// DatabaseConfig selects and configures the store.
type DatabaseConfig struct {
	// Type is one of memory, sqlite, postgres, mysql.
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
	// Path is the sqlite database file; ":memory:" keeps it in process.
	Path            string        `yaml:"path"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	// AutoMigrate creates the schema at startup.
	AutoMigrate bool `yaml:"autoMigrate"`
	// MigrationMode is "migrate" (versioned SQL) or "gorm" (AutoMigrate).
	MigrationMode string `yaml:"migrationMode"`
}

// QueueConfig describes one named worker queue.
type QueueConfig struct {
	Name        string `yaml:"name"`
	Concurrency int    `yaml:"concurrency"`
	// SoftTimeLimit asks the running job to stop; zero disables it.
	SoftTimeLimit time.Duration `yaml:"softTimeLimit"`
	// HardTimeLimit abandons the run and marks it FAILED; zero disables it.
	HardTimeLimit time.Duration `yaml:"hardTimeLimit"`
}

// SchedulerConfig holds the queue topology and routing table.
type SchedulerConfig struct {
	Queues       []QueueConfig `yaml:"queues"`
	DefaultQueue string        `yaml:"defaultQueue"`
	// Routes maps a job type (EXTRACT, TRANSFORM, LOAD, FULL_ETL) to a queue name.
	Routes map[string]string `yaml:"routes"`
	// RecoverStaleAfter is the age past which an unowned PENDING or RUNNING
	// execution found at startup is failed. Zero fails every one of them.
	RecoverStaleAfter time.Duration `yaml:"recoverStaleAfter"`
}

// Queue returns the named queue configuration.
func (c SchedulerConfig) Queue(name string) (QueueConfig, bool) {
	for _, q := range c.Queues {
		if q.Name == name {
			return q, true
		}
	}
	return QueueConfig{}, false
}

// EngineConfig tunes the execution phases.
type EngineConfig struct {
	BatchSize        int `yaml:"batchSize"`
	TransformWorkers int `yaml:"transformWorkers"`
	// QualityAlertThreshold raises a QualityAlert when the pass rate falls below it.
	QualityAlertThreshold float64 `yaml:"qualityAlertThreshold"`
	// ExtractSkipLimit bounds skipped unreadable rows per execution; -1 means no limit.
	ExtractSkipLimit int `yaml:"extractSkipLimit"`
}

// MatcherConfig tunes entity resolution.
type MatcherConfig struct {
	DuplicateThreshold   float64 `yaml:"duplicateThreshold"`
	CandidateLimit       int     `yaml:"candidateLimit"`
	BlockingPrefixLength int     `yaml:"blockingPrefixLength"`
}

// CacheConfig configures the optional read-through cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

// EventsConfig configures the asynchronous event publisher.
type EventsConfig struct {
	BufferSize int `yaml:"bufferSize"`
}

// MetricsConfig selects the metrics backend.
type MetricsConfig struct {
	// Backend is prometheus, otlp or none.
	Backend       string `yaml:"backend"`
	Namespace     string `yaml:"namespace"`
	ListenAddress string `yaml:"listenAddress"`
	// Protocol is grpc or http, used when Backend is otlp.
	Protocol       string        `yaml:"protocol"`
	Endpoint       string        `yaml:"endpoint"`
	Insecure       bool          `yaml:"insecure"`
	ExportInterval time.Duration `yaml:"exportInterval"`
	// AsyncBufferSize queues metric observations off the hot path; 0 records inline.
	AsyncBufferSize int `yaml:"asyncBufferSize"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is otlp-grpc, otlp-http or none.
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	ServiceName string  `yaml:"serviceName"`
	SampleRatio float64 `yaml:"sampleRatio"`
}

// ExportConfig configures audit exports.
type ExportConfig struct {
	// Storage names the storage connection exports are written to.
	Storage     string `yaml:"storage"`
	Prefix      string `yaml:"prefix"`
	Compression string `yaml:"compression"` // snappy, gzip or none
}

// StorageConfig describes one named storage connection.
type StorageConfig struct {
	// Type is local or gcs.
	Type            string `yaml:"type"`
	BasePath        string `yaml:"basePath"`
	Bucket          string `yaml:"bucket"`
	ProjectID       string `yaml:"projectId"`
	CredentialsFile string `yaml:"credentialsFile"`
}

// NewConfig returns a Config populated with defaults.
func NewConfig() *Config {
	return &Config{
		ETL: EtlConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO", Format: "console"},
			},
			Database: DatabaseConfig{
				Type:          "memory",
				MaxOpenConns:  10,
				MaxIdleConns:  5,
				AutoMigrate:   true,
				MigrationMode: "migrate",
			},
			Scheduler: SchedulerConfig{
				Queues:       []QueueConfig{{Name: "default", Concurrency: 2}},
				DefaultQueue: "default",
				Routes:       map[string]string{},
			},
			Engine: EngineConfig{
				BatchSize:             100,
				TransformWorkers:      4,
				QualityAlertThreshold: 0.9,
				ExtractSkipLimit:      -1,
			},
			Matcher: MatcherConfig{
				DuplicateThreshold:   0.85,
				CandidateLimit:       50,
				BlockingPrefixLength: 3,
			},
			Cache:   CacheConfig{Enabled: true, Size: 1024, TTL: 5 * time.Minute},
			Events:  EventsConfig{BufferSize: 256},
			Metrics: MetricsConfig{Backend: "none", Namespace: "etl", ListenAddress: ":9090", Protocol: "grpc", ExportInterval: 15 * time.Second},
			Tracing: TracingConfig{Exporter: "none", ServiceName: "etlcore", SampleRatio: 1},
			Export:  ExportConfig{Prefix: "audit", Compression: "snappy"},
			Storage: map[string]StorageConfig{},
			Lookups: map[string]map[string]string{},
		},
	}
}

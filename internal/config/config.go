// Package config loads logxpy's one-shot pipeline configuration: an
// optional YAML file, then environment variable overrides, then
// validation, in that order, mirroring the teacher's
// internal/config/config.go LoadConfig sequence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/logxpy/logxpy-go/pkg/errors"
)

// QueueConfig configures the bounded queue (spec §4.5/§4.7).
type QueueConfig struct {
	Capacity int    `yaml:"capacity"`
	Policy   string `yaml:"policy"` // block | drop_oldest | drop_newest | warn

	OverflowEnabled   bool   `yaml:"overflow_enabled"`
	OverflowDirectory string `yaml:"overflow_directory"`
}

// FlushConfig configures the flush controller (spec §4.6, component C8).
type FlushConfig struct {
	Mode             string        `yaml:"mode"` // trigger | loop | manual
	BatchSize        int           `yaml:"batch_size"`
	BatchInterval    time.Duration `yaml:"batch_interval"`
	MaxRecordAge     time.Duration `yaml:"max_record_age"`
	LoopTickInterval time.Duration `yaml:"loop_tick_interval"`

	AdaptiveEnabled  bool          `yaml:"adaptive_enabled"`
	AdaptiveMinBatch int           `yaml:"adaptive_min_batch"`
	AdaptiveMaxBatch int           `yaml:"adaptive_max_batch"`
	AdaptiveMinWait  time.Duration `yaml:"adaptive_min_wait"`
	AdaptiveMaxWait  time.Duration `yaml:"adaptive_max_wait"`
}

// SupervisorConfig configures restart backoff and sync-fallback (spec §4.8).
type SupervisorConfig struct {
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	MaxAttempts    int           `yaml:"max_attempts"`
	ShutdownDrain  time.Duration `yaml:"shutdown_drain"`
}

// CircuitConfig configures the per-destination circuit breaker (spec §4.8).
type CircuitConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`
}

// DLQConfig configures the dead-letter spill path.
type DLQConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Directory     string        `yaml:"directory"`
	QueueSize     int           `yaml:"queue_size"`
	MaxFiles      int           `yaml:"max_files"`
	MaxFileSizeMB int64         `yaml:"max_file_size_mb"`
	RetentionDays int           `yaml:"retention_days"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// BackpressureConfig configures the optional adaptive admission advisory
// (spec §4.7 enrichment; off by default, never overrides the four queue
// policies themselves).
type BackpressureConfig struct {
	Enabled           bool    `yaml:"enabled"`
	LowThreshold      float64 `yaml:"low_threshold"`
	MediumThreshold   float64 `yaml:"medium_threshold"`
	HighThreshold     float64 `yaml:"high_threshold"`
	CriticalThreshold float64 `yaml:"critical_threshold"`
}

// FileDestinationConfig configures one of the three local file strategies.
type FileDestinationConfig struct {
	Enabled bool   `yaml:"enabled"`
	Name    string `yaml:"name"`
	Path    string `yaml:"path"`
	Variant string `yaml:"variant"` // line | block | mmap
}

// KafkaDestinationConfig mirrors pkg/destination.KafkaConfig.
type KafkaDestinationConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Name         string   `yaml:"name"`
	Brokers      []string `yaml:"brokers"`
	Topic        string   `yaml:"topic"`
	ClientID     string   `yaml:"client_id"`
	RequiredAcks int      `yaml:"required_acks"`
	SASLEnabled  bool     `yaml:"sasl_enabled"`
	SASLUser     string   `yaml:"sasl_user"`
	SASLPassword string   `yaml:"sasl_password"`
	SASLMechanism string  `yaml:"sasl_mechanism"` // plain | scram-sha-256 | scram-sha-512
	TLSEnabled   bool     `yaml:"tls_enabled"`
	TLSCertFile  string   `yaml:"tls_cert_file"`
	TLSKeyFile   string   `yaml:"tls_key_file"`
	TLSCAFile    string   `yaml:"tls_ca_file"`
}

// LokiDestinationConfig mirrors pkg/destination.LokiConfig.
type LokiDestinationConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Name         string            `yaml:"name"`
	URL          string            `yaml:"url"`
	PushEndpoint string            `yaml:"push_endpoint"`
	TenantID     string            `yaml:"tenant_id"`
	Labels       map[string]string `yaml:"labels"`
	Headers      map[string]string `yaml:"headers"`
	Timeout      time.Duration     `yaml:"timeout"`
	TLSEnabled   bool              `yaml:"tls_enabled"`
}

// ElasticsearchDestinationConfig mirrors pkg/destination.ElasticsearchConfig.
type ElasticsearchDestinationConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Name       string        `yaml:"name"`
	URL        string        `yaml:"url"`
	IndexName  string        `yaml:"index_name"`
	Username   string        `yaml:"username"`
	Password   string        `yaml:"password"`
	APIKey     string        `yaml:"api_key"`
	Pipeline   string        `yaml:"pipeline"`
	Timeout    time.Duration `yaml:"timeout"`
	TLSEnabled bool          `yaml:"tls_enabled"`
}

// SplunkDestinationConfig mirrors pkg/destination.SplunkConfig.
type SplunkDestinationConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Name       string        `yaml:"name"`
	HECURL     string        `yaml:"hec_url"`
	Token      string        `yaml:"token"`
	Index      string        `yaml:"index"`
	Source     string        `yaml:"source"`
	SourceType string        `yaml:"source_type"`
	Host       string        `yaml:"host"`
	Timeout    time.Duration `yaml:"timeout"`
	TLSEnabled bool          `yaml:"tls_enabled"`
}

// DestinationsConfig lists every configured destination. Multiple file
// destinations may be configured (e.g. one line-flushed, one block-buffered)
// since spec §4.4 does not limit the pipeline to a single sink.
type DestinationsConfig struct {
	Files          []FileDestinationConfig          `yaml:"files"`
	Kafka          []KafkaDestinationConfig         `yaml:"kafka"`
	Loki           []LokiDestinationConfig          `yaml:"loki"`
	Elasticsearch  []ElasticsearchDestinationConfig `yaml:"elasticsearch"`
	Splunk         []SplunkDestinationConfig        `yaml:"splunk"`
}

// Config is the full, validated logxpy pipeline configuration.
type Config struct {
	AppName     string `yaml:"app_name"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`

	Sync        bool `yaml:"sync"`        // LOGXPY_SYNC: disable async writer, start in sync-fallback
	Distributed bool `yaml:"distributed"` // LOGXPY_DISTRIBUTED: 128-bit random task ids

	Queue        QueueConfig         `yaml:"queue"`
	Flush        FlushConfig         `yaml:"flush"`
	Supervisor   SupervisorConfig    `yaml:"supervisor"`
	Circuit      CircuitConfig       `yaml:"circuit"`
	DLQ          DLQConfig           `yaml:"dlq"`
	Backpressure BackpressureConfig  `yaml:"backpressure"`
	Destinations DestinationsConfig  `yaml:"destinations"`

	MetricsEnabled bool `yaml:"metrics_enabled"`
}

// Load reads configFile (if non-empty), applies defaults for anything left
// unset, applies LOGXPY_* environment overrides, and validates the result,
// mirroring the teacher's load-file -> defaults -> env -> validate order.
func Load(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		if err := loadFile(configFile, cfg); err != nil {
			return nil, errors.New(errors.CodeSerializationError, "config", "load_file", fmt.Sprintf("failed to load config file %s", configFile)).Wrap(err)
		}
	}

	applyDefaults(cfg)
	applyEnvironmentOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.AppName == "" {
		cfg.AppName = "logxpy"
	}
	if cfg.Environment == "" {
		cfg.Environment = "production"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if cfg.Queue.Capacity == 0 {
		cfg.Queue.Capacity = 10000
	}
	if cfg.Queue.Policy == "" {
		cfg.Queue.Policy = "block"
	}

	if cfg.Flush.Mode == "" {
		cfg.Flush.Mode = "trigger"
	}
	if cfg.Flush.BatchSize == 0 {
		cfg.Flush.BatchSize = 100
	}
	if cfg.Flush.BatchInterval == 0 {
		cfg.Flush.BatchInterval = time.Second
	}

	if cfg.Supervisor.InitialBackoff == 0 {
		cfg.Supervisor.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.Supervisor.MaxBackoff == 0 {
		cfg.Supervisor.MaxBackoff = 30 * time.Second
	}
	if cfg.Supervisor.MaxAttempts == 0 {
		cfg.Supervisor.MaxAttempts = 10
	}
	if cfg.Supervisor.ShutdownDrain == 0 {
		cfg.Supervisor.ShutdownDrain = 5 * time.Second
	}

	if cfg.Circuit.FailureThreshold == 0 {
		cfg.Circuit.FailureThreshold = 5
	}
	if cfg.Circuit.SuccessThreshold == 0 {
		cfg.Circuit.SuccessThreshold = 3
	}
	if cfg.Circuit.Timeout == 0 {
		cfg.Circuit.Timeout = 60 * time.Second
	}
	if cfg.Circuit.HalfOpenMaxCalls == 0 {
		cfg.Circuit.HalfOpenMaxCalls = 10
	}

	if cfg.DLQ.QueueSize == 0 {
		cfg.DLQ.QueueSize = 10000
	}
	if cfg.DLQ.MaxFiles == 0 {
		cfg.DLQ.MaxFiles = 10
	}
	if cfg.DLQ.MaxFileSizeMB == 0 {
		cfg.DLQ.MaxFileSizeMB = 100
	}
	if cfg.DLQ.RetentionDays == 0 {
		cfg.DLQ.RetentionDays = 7
	}
	if cfg.DLQ.FlushInterval == 0 {
		cfg.DLQ.FlushInterval = 5 * time.Second
	}

	if cfg.Backpressure.LowThreshold == 0 {
		cfg.Backpressure.LowThreshold = 0.6
	}
	if cfg.Backpressure.MediumThreshold == 0 {
		cfg.Backpressure.MediumThreshold = 0.75
	}
	if cfg.Backpressure.HighThreshold == 0 {
		cfg.Backpressure.HighThreshold = 0.9
	}
	if cfg.Backpressure.CriticalThreshold == 0 {
		cfg.Backpressure.CriticalThreshold = 0.95
	}

	if len(cfg.Destinations.Files) == 0 && len(cfg.Destinations.Kafka) == 0 &&
		len(cfg.Destinations.Loki) == 0 && len(cfg.Destinations.Elasticsearch) == 0 &&
		len(cfg.Destinations.Splunk) == 0 {
		cfg.Destinations.Files = []FileDestinationConfig{
			{Enabled: true, Name: "default", Path: "logxpy.log", Variant: "block"},
		}
	}
}

// applyEnvironmentOverrides applies LOGXPY_* env vars over whatever the
// file/defaults produced, following the teacher's "env always wins last"
// ordering.
func applyEnvironmentOverrides(cfg *Config) {
	cfg.AppName = getEnvString("LOGXPY_APP_NAME", cfg.AppName)
	cfg.Environment = getEnvString("LOGXPY_ENVIRONMENT", cfg.Environment)
	cfg.LogLevel = getEnvString("LOGXPY_LOG_LEVEL", cfg.LogLevel)
	cfg.Sync = getEnvBool("LOGXPY_SYNC", cfg.Sync)
	cfg.Distributed = getEnvBool("LOGXPY_DISTRIBUTED", cfg.Distributed)

	cfg.Queue.Capacity = getEnvInt("LOGXPY_QUEUE_CAPACITY", cfg.Queue.Capacity)
	cfg.Queue.Policy = getEnvString("LOGXPY_QUEUE_POLICY", cfg.Queue.Policy)
	cfg.Queue.OverflowEnabled = getEnvBool("LOGXPY_QUEUE_OVERFLOW_ENABLED", cfg.Queue.OverflowEnabled)
	cfg.Queue.OverflowDirectory = getEnvString("LOGXPY_QUEUE_OVERFLOW_DIR", cfg.Queue.OverflowDirectory)

	cfg.Flush.Mode = getEnvString("LOGXPY_FLUSH_MODE", cfg.Flush.Mode)
	cfg.Flush.BatchSize = getEnvInt("LOGXPY_FLUSH_BATCH_SIZE", cfg.Flush.BatchSize)
	cfg.Flush.BatchInterval = getEnvDuration("LOGXPY_FLUSH_BATCH_INTERVAL", cfg.Flush.BatchInterval)
	cfg.Flush.MaxRecordAge = getEnvDuration("LOGXPY_FLUSH_MAX_RECORD_AGE", cfg.Flush.MaxRecordAge)
	cfg.Flush.AdaptiveEnabled = getEnvBool("LOGXPY_FLUSH_ADAPTIVE", cfg.Flush.AdaptiveEnabled)

	cfg.Supervisor.InitialBackoff = getEnvDuration("LOGXPY_SUPERVISOR_INITIAL_BACKOFF", cfg.Supervisor.InitialBackoff)
	cfg.Supervisor.MaxBackoff = getEnvDuration("LOGXPY_SUPERVISOR_MAX_BACKOFF", cfg.Supervisor.MaxBackoff)
	cfg.Supervisor.MaxAttempts = getEnvInt("LOGXPY_SUPERVISOR_MAX_ATTEMPTS", cfg.Supervisor.MaxAttempts)

	cfg.DLQ.Enabled = getEnvBool("LOGXPY_DLQ_ENABLED", cfg.DLQ.Enabled)
	cfg.DLQ.Directory = getEnvString("LOGXPY_DLQ_DIRECTORY", cfg.DLQ.Directory)

	cfg.Backpressure.Enabled = getEnvBool("LOGXPY_BACKPRESSURE_ENABLED", cfg.Backpressure.Enabled)

	cfg.MetricsEnabled = getEnvBool("LOGXPY_METRICS_ENABLED", cfg.MetricsEnabled)
}

func getEnvString(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}


package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TLSConfig holds TLS-specific configurations.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ServerConfig holds server-specific configurations.
type ServerConfig struct {
	GRPCPort            int       `yaml:"grpc_port"`
	WorkerPoolSize      int       `yaml:"worker_pool_size"`
	WorkerQueueSize     int       `yaml:"worker_queue_size"`
	HealthCheckInterval string    `yaml:"health_check_interval"`
	TLS                 TLSConfig `yaml:"tls"`
}

// DatabaseConfig describes the relational source of loan records.
type DatabaseConfig struct {
	Driver        string  `yaml:"driver"` // "mysql" or "sqlite"
	DSN           string  `yaml:"dsn"`
	MinLoanAmount float64 `yaml:"min_loan_amount"` // exclusive
	MaxLoanAmount float64 `yaml:"max_loan_amount"` // exclusive
}

// HDFSConfig holds file store configurations.
type HDFSConfig struct {
	Backend              string `yaml:"backend"` // "hdfs" or "local"
	NameNode             string `yaml:"namenode"`
	User                 string `yaml:"user"`
	WebHDFSURL           string `yaml:"webhdfs_url"`
	MetadataTimeout      string `yaml:"metadata_timeout"`
	BreakerFailures      uint32 `yaml:"breaker_failures"`
	BreakerCooldown      string `yaml:"breaker_cooldown"`
	LocalRoot            string `yaml:"local_root"`
	MainDatasetPath      string `yaml:"main_dataset_path"`
	PartitionDir         string `yaml:"partition_dir"`
	MainReplication      int    `yaml:"main_replication"`
	PartitionReplication int    `yaml:"partition_replication"`
	BlockSizeBytes       int64  `yaml:"block_size_bytes"`
	Compression          string `yaml:"compression"`
	RowGroupSize         int64  `yaml:"row_group_size"`
}

// MaterializeConfig holds the retry policy of MaterializeDataset.
type MaterializeConfig struct {
	MaxAttempts int    `yaml:"max_attempts"`
	Backoff     string `yaml:"backoff"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// DebugConfig holds debugging-related configurations.
type DebugConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ListenAddress   string `yaml:"listen_address"`
	PProfEnabled    bool   `yaml:"pprof_enabled"`
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	StatsvizEnabled bool   `yaml:"statsviz_enabled"`
}

type SelfMonitoringConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Interval string `yaml:"interval"`
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// OutlierConfig bounds the partition averages considered normal.
type OutlierConfig struct {
	Enabled bool    `yaml:"enabled"`
	Min     float64 `yaml:"min"`
	Max     float64 `yaml:"max"`
}

// HooksConfig selects the built-in listeners.
type HooksConfig struct {
	CorruptionAlerts bool          `yaml:"corruption_alerts"`
	LatencyTracking  bool          `yaml:"latency_tracking"`
	AverageOutlier   OutlierConfig `yaml:"average_outlier"`
}

// Config is the top-level configuration struct.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	HDFS           HDFSConfig           `yaml:"hdfs"`
	Materialize    MaterializeConfig    `yaml:"materialize"`
	Debug          DebugConfig          `yaml:"debug"`
	Logging        LoggingConfig        `yaml:"logging"`
	SelfMonitoring SelfMonitoringConfig `yaml:"self_monitoring"`
	Tracing        TracingConfig        `yaml:"tracing"`
	Hooks          HooksConfig          `yaml:"hooks"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	// Set default values
	cfg := &Config{
		Server: ServerConfig{
			GRPCPort:            5000,
			WorkerPoolSize:      10,
			WorkerQueueSize:     64,
			HealthCheckInterval: "5s",
			TLS: TLSConfig{
				Enabled:  false,
				CertFile: "certs/server.crt",
				KeyFile:  "certs/server.key",
			},
		},
		Database: DatabaseConfig{
			Driver:        "mysql",
			DSN:           "root:abc@tcp(mysql:3306)/CS544",
			MinLoanAmount: 30000,
			MaxLoanAmount: 800000,
		},
		HDFS: HDFSConfig{
			Backend:              "hdfs",
			NameNode:             "boss:9000",
			User:                 "root",
			WebHDFSURL:           "http://boss:9870",
			MetadataTimeout:      "10s",
			BreakerFailures:      5,
			BreakerCooldown:      "30s",
			LocalRoot:            "./data",
			MainDatasetPath:      "/hdma-wi-2021.parquet",
			PartitionDir:         "/partitions",
			MainReplication:      2,
			PartitionReplication: 1,
			BlockSizeBytes:       1024 * 1024, // 1 MiB
			Compression:          "snappy",
			RowGroupSize:         16 * 1024,
		},
		Materialize: MaterializeConfig{
			MaxAttempts: 5,
			Backoff:     "10s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
			File:   "lender.log",
		},
		SelfMonitoring: SelfMonitoringConfig{
			Enabled:  true,
			Interval: "15s",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Debug: DebugConfig{
			Enabled:         true,
			ListenAddress:   "0.0.0.0:6060",
			PProfEnabled:    true,
			MetricsEnabled:  true,
			StatsvizEnabled: true,
		},
		Hooks: HooksConfig{
			CorruptionAlerts: true,
			LatencyTracking:  true,
			AverageOutlier: OutlierConfig{
				Enabled: false,
				Min:     30000,
				Max:     800000,
			},
		},
	}

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	// Read all data from the reader
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}

	// If data is empty, return defaults.
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

// Validate rejects settings the service cannot start with.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.GRPCPort <= 0 || c.Server.GRPCPort > 65535 {
		errs = append(errs, fmt.Errorf("server.grpc_port out of range: %d", c.Server.GRPCPort))
	}
	if c.Server.WorkerPoolSize < 1 {
		errs = append(errs, errors.New("server.worker_pool_size must be at least 1"))
	}
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("database.driver must be mysql or sqlite, got %q", c.Database.Driver))
	}
	if c.Database.MinLoanAmount >= c.Database.MaxLoanAmount {
		errs = append(errs, errors.New("database.min_loan_amount must be below max_loan_amount"))
	}
	switch c.HDFS.Backend {
	case "hdfs", "local":
	default:
		errs = append(errs, fmt.Errorf("hdfs.backend must be hdfs or local, got %q", c.HDFS.Backend))
	}
	if c.HDFS.MainReplication < 1 || c.HDFS.PartitionReplication < 1 {
		errs = append(errs, errors.New("hdfs replication factors must be at least 1"))
	}
	if c.Materialize.MaxAttempts < 1 {
		errs = append(errs, errors.New("materialize.max_attempts must be at least 1"))
	}
	return errors.Join(errs...)
}

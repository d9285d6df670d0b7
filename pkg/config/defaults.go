package config

import "time"

// Default values for configuration fields.
const (
	// Export defaults
	DefaultExportFormat    = "xlsx"
	DefaultExportDisk      = "local"
	DefaultExportChunkSize = 1000

	// Disk defaults
	DefaultDiskDriver     = "local"
	DefaultDiskRoot       = "data/exports"
	DefaultDiskSQLitePath = "data/exports.db"
	DefaultDiskVisibility = "private"

	// Queue defaults
	DefaultQueueDriver          = "local"
	DefaultQueueWorkers         = 2
	DefaultQueueBufferSize      = 100
	DefaultQueueJobTimeout      = 30 * time.Minute
	DefaultJobStatusDriver      = "memory"
	DefaultJobStatusPath        = "data/jobs.db"
	DefaultJobStatusBusyTimeout = 5 * time.Second
	DefaultJobStatusRetention   = 7 * 24 * time.Hour
	DefaultJobStatusPrune       = "0 * * * *"
	DefaultRedisAddr            = "localhost:6379"
	DefaultRedisKey             = "tabula:jobs"
	DefaultRedisPollTimeout     = 5 * time.Second

	// Dataset defaults
	DefaultDatasetDriver = "sqlite3"

	// Server defaults
	DefaultListenAddress   = "127.0.0.1:8080"
	DefaultReadTimeout     = 30 * time.Second
	DefaultWriteTimeout    = 5 * time.Minute
	DefaultIdleTimeout     = 120 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxHeaderBytes  = 1048576 // 1MB
	DefaultAuthHeader      = "X-API-Key"
	DefaultTLSMinVersion   = "1.2"
	DefaultTLSReload       = 5 * time.Minute

	// Telemetry defaults
	DefaultLoggingLevel      = "info"
	DefaultLoggingFormat     = "json"
	DefaultLoggingRedact     = true
	DefaultLogFileMaxSizeMB  = 100
	DefaultLogFileMaxBackups = 5
	DefaultLogFileMaxAgeDays = 30
	DefaultLogFileCompress   = true
	DefaultMetricsEnabled    = true
	DefaultPrometheusPath    = "/metrics"
	DefaultMetricsNamespace  = "tabula"
	DefaultMetricsSubsystem  = "export"
	DefaultTracingSampler    = "ratio"
	DefaultTracingRatio      = 0.1
	DefaultTracingEndpoint   = "localhost:4317"
	DefaultTracingTimeout    = 10 * time.Second
	DefaultTracingService    = "tabula"
)

// Default histogram buckets.
var (
	DefaultDurationBuckets = []float64{0.05, 0.1, 0.5, 1, 5, 15, 60, 300}
	DefaultRowBuckets      = []float64{10, 100, 1000, 10000, 100000, 1000000}
)

// presetBoolDefaults sets boolean fields whose default is true. It runs
// before YAML decoding so an explicit false in the file still wins.
func presetBoolDefaults(cfg *Config) {
	cfg.Telemetry.Logging.RedactSecrets = DefaultLoggingRedact
	cfg.Telemetry.Logging.File.Compress = DefaultLogFileCompress
	cfg.Telemetry.Metrics.Enabled = DefaultMetricsEnabled
}

// NewDefault returns a configuration with every default applied.
func NewDefault() *Config {
	cfg := &Config{}
	presetBoolDefaults(cfg)
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Export defaults
	if cfg.Export.DefaultFormat == "" {
		cfg.Export.DefaultFormat = DefaultExportFormat
	}
	if cfg.Export.DefaultDisk == "" {
		cfg.Export.DefaultDisk = DefaultExportDisk
	}
	if cfg.Export.ChunkSize == 0 {
		cfg.Export.ChunkSize = DefaultExportChunkSize
	}

	// Disk defaults - the default disk always exists
	if cfg.Disks == nil {
		cfg.Disks = make(map[string]DiskConfig)
	}
	if _, ok := cfg.Disks[cfg.Export.DefaultDisk]; !ok {
		cfg.Disks[cfg.Export.DefaultDisk] = DiskConfig{}
	}
	for name, disk := range cfg.Disks {
		if disk.Driver == "" {
			disk.Driver = DefaultDiskDriver
		}
		switch disk.Driver {
		case "local":
			if disk.Root == "" {
				disk.Root = DefaultDiskRoot
			}
		case "sqlite":
			if disk.Path == "" {
				disk.Path = DefaultDiskSQLitePath
			}
		}
		if disk.Visibility == "" {
			disk.Visibility = DefaultDiskVisibility
		}
		cfg.Disks[name] = disk
	}

	// Queue defaults
	if cfg.Queue.Driver == "" {
		cfg.Queue.Driver = DefaultQueueDriver
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = DefaultQueueWorkers
	}
	if cfg.Queue.BufferSize == 0 {
		cfg.Queue.BufferSize = DefaultQueueBufferSize
	}
	if cfg.Queue.JobTimeout == 0 {
		cfg.Queue.JobTimeout = DefaultQueueJobTimeout
	}
	if cfg.Queue.Status.Driver == "" {
		cfg.Queue.Status.Driver = DefaultJobStatusDriver
	}
	if cfg.Queue.Status.Path == "" {
		cfg.Queue.Status.Path = DefaultJobStatusPath
	}
	if cfg.Queue.Status.BusyTimeout == 0 {
		cfg.Queue.Status.BusyTimeout = DefaultJobStatusBusyTimeout
	}
	if cfg.Queue.Status.Retention == 0 {
		cfg.Queue.Status.Retention = DefaultJobStatusRetention
	}
	if cfg.Queue.Status.PruneSchedule == "" {
		cfg.Queue.Status.PruneSchedule = DefaultJobStatusPrune
	}
	if cfg.Queue.Redis.Addr == "" {
		cfg.Queue.Redis.Addr = DefaultRedisAddr
	}
	if cfg.Queue.Redis.Key == "" {
		cfg.Queue.Redis.Key = DefaultRedisKey
	}
	if cfg.Queue.Redis.PollTimeout == 0 {
		cfg.Queue.Redis.PollTimeout = DefaultRedisPollTimeout
	}

	// Dataset defaults
	for name, ds := range cfg.Datasets {
		if ds.Driver == "" {
			ds.Driver = DefaultDatasetDriver
		}
		cfg.Datasets[name] = ds
	}

	// Schedule defaults
	for i := range cfg.Schedules {
		if cfg.Schedules[i].Name == "" {
			cfg.Schedules[i].Name = cfg.Schedules[i].Dataset
		}
	}

	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.MaxHeaderBytes == 0 {
		cfg.Server.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if cfg.Server.Auth.Header == "" {
		cfg.Server.Auth.Header = DefaultAuthHeader
	}
	if cfg.Server.TLS.MinVersion == "" {
		cfg.Server.TLS.MinVersion = DefaultTLSMinVersion
	}
	if cfg.Server.TLS.ReloadInterval == 0 {
		cfg.Server.TLS.ReloadInterval = DefaultTLSReload
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Logging.File.MaxSizeMB == 0 {
		cfg.Telemetry.Logging.File.MaxSizeMB = DefaultLogFileMaxSizeMB
	}
	if cfg.Telemetry.Logging.File.MaxBackups == 0 {
		cfg.Telemetry.Logging.File.MaxBackups = DefaultLogFileMaxBackups
	}
	if cfg.Telemetry.Logging.File.MaxAgeDays == 0 {
		cfg.Telemetry.Logging.File.MaxAgeDays = DefaultLogFileMaxAgeDays
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultPrometheusPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.Subsystem == "" {
		cfg.Telemetry.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(cfg.Telemetry.Metrics.DurationBuckets) == 0 {
		cfg.Telemetry.Metrics.DurationBuckets = append([]float64(nil), DefaultDurationBuckets...)
	}
	if len(cfg.Telemetry.Metrics.RowBuckets) == 0 {
		cfg.Telemetry.Metrics.RowBuckets = append([]float64(nil), DefaultRowBuckets...)
	}
	if cfg.Telemetry.Tracing.Sampler == "" {
		cfg.Telemetry.Tracing.Sampler = DefaultTracingSampler
		if cfg.Telemetry.Tracing.SampleRatio == 0 {
			cfg.Telemetry.Tracing.SampleRatio = DefaultTracingRatio
		}
	}
	if cfg.Telemetry.Tracing.Endpoint == "" {
		cfg.Telemetry.Tracing.Endpoint = DefaultTracingEndpoint
	}
	if cfg.Telemetry.Tracing.Timeout == 0 {
		cfg.Telemetry.Tracing.Timeout = DefaultTracingTimeout
	}
	if cfg.Telemetry.Tracing.ServiceName == "" {
		cfg.Telemetry.Tracing.ServiceName = DefaultTracingService
	}
}

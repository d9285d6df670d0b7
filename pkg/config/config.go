package config

import "time"

// Config is the root configuration structure for tabula.
// It contains all configuration sections for the export engine, storage disks,
// the job queue, configured datasets and schedules, the HTTP server and
// telemetry.
type Config struct {
	// Export contains engine-wide export defaults such as the default format,
	// the default disk and encoder settings.
	Export ExportConfig `yaml:"export"`

	// Disks contains the storage backends exports can be stored on.
	// Keys are disk identifiers (e.g., "local", "archive").
	Disks map[string]DiskConfig `yaml:"disks"`

	// Queue contains configuration for the background job system that runs
	// queued exports.
	Queue QueueConfig `yaml:"queue"`

	// Datasets contains the SQL-backed exports served by the HTTP server,
	// the CLI and schedules. Keys are dataset names.
	Datasets map[string]DatasetConfig `yaml:"datasets"`

	// Schedules contains cron schedules that queue dataset exports.
	Schedules []ScheduleConfig `yaml:"schedules"`

	// Server contains HTTP server configuration.
	Server ServerConfig `yaml:"server"`

	// Telemetry contains configuration for logging and metrics.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ExportConfig contains engine-wide export defaults.
type ExportConfig struct {
	// DefaultFormat is used when neither the caller nor the exporter names a
	// format and the file name has no known extension.
	// Options: "xlsx", "csv", "tsv", "json"
	// Default: "xlsx"
	DefaultFormat string `yaml:"default_format"`

	// DefaultDisk is the disk used by store and queue when none is given.
	// Default: "local"
	DefaultDisk string `yaml:"default_disk"`

	// TempDir is where spool files and XLSX row buffers are written.
	// Default: "" (os.TempDir)
	TempDir string `yaml:"temp_dir"`

	// ChunkSize is the number of rows encoded between two flushes.
	// Default: 1000
	ChunkSize int `yaml:"chunk_size"`

	// CSV contains default settings for CSV and TSV output.
	CSV CSVConfig `yaml:"csv"`
}

// CSVConfig contains default settings for the text-delimited encoders.
type CSVConfig struct {
	// Delimiter is the field separator. Empty means "," for CSV and tab for TSV.
	Delimiter string `yaml:"delimiter"`

	// UseBOM prefixes the output with a UTF-8 byte order mark.
	// Default: false
	UseBOM bool `yaml:"use_bom"`

	// UseCRLF terminates lines with \r\n.
	// Default: false
	UseCRLF bool `yaml:"use_crlf"`
}

// DiskConfig contains configuration for a single storage backend.
type DiskConfig struct {
	// Driver selects the backend implementation.
	// Options: "local", "memory", "sqlite"
	// Default: "local"
	Driver string `yaml:"driver"`

	// Root is the base directory of a local disk.
	// Default: "data/exports"
	Root string `yaml:"root"`

	// Path is the database file of a sqlite disk.
	// Default: "data/exports.db"
	Path string `yaml:"path"`

	// Visibility is the default visibility of stored files ("public" or "private").
	// Default: "private"
	Visibility string `yaml:"visibility"`
}

// QueueConfig contains configuration for the background job system.
type QueueConfig struct {
	// Driver selects the job transport.
	// Options: "local" (in-process worker pool), "redis"
	// Default: "local"
	Driver string `yaml:"driver"`

	// Workers is the number of concurrent export workers.
	// Default: 2
	Workers int `yaml:"workers"`

	// BufferSize is the capacity of the local job channel.
	// Default: 100
	BufferSize int `yaml:"buffer_size"`

	// JobTimeout bounds the run time of a single job (0 = no limit).
	// Default: 30m
	JobTimeout time.Duration `yaml:"job_timeout"`

	// Status contains configuration for job status tracking.
	Status JobStatusConfig `yaml:"status"`

	// Redis contains configuration for the redis driver.
	Redis RedisConfig `yaml:"redis"`
}

// JobStatusConfig contains configuration for the job status store.
type JobStatusConfig struct {
	// Driver selects the status store.
	// Options: "memory", "sqlite"
	// Default: "memory"
	Driver string `yaml:"driver"`

	// Path is the database file of the sqlite status store.
	// Default: "data/jobs.db"
	Path string `yaml:"path"`

	// BusyTimeout is how long sqlite waits for locks.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// Retention is how long finished job statuses are kept (0 = forever).
	// Default: 168h
	Retention time.Duration `yaml:"retention"`

	// PruneSchedule is the cron expression for pruning finished statuses.
	// Empty disables pruning.
	// Default: "0 * * * *"
	PruneSchedule string `yaml:"prune_schedule"`
}

// RedisConfig contains configuration for the redis job transport.
type RedisConfig struct {
	// Addr is the redis server address.
	// Default: "localhost:6379"
	Addr string `yaml:"addr"`

	// Password is the redis password.
	Password string `yaml:"password"`

	// DB is the redis database number.
	// Default: 0
	DB int `yaml:"db"`

	// Key is the list key jobs are pushed to.
	// Default: "tabula:jobs"
	Key string `yaml:"key"`

	// PollTimeout is the blocking pop timeout of a worker.
	// Default: 5s
	PollTimeout time.Duration `yaml:"poll_timeout"`
}

// DatasetConfig describes a SQL-backed export.
type DatasetConfig struct {
	// Driver is the database/sql driver name.
	// Options: "sqlite3", "sqlite"
	// Default: "sqlite3"
	Driver string `yaml:"driver"`

	// DSN is the data source name passed to sql.Open.
	DSN string `yaml:"dsn"`

	// Query is the SELECT statement producing the rows.
	Query string `yaml:"query"`

	// Headings is the optional heading row. When empty the column names of
	// the query are used if IncludeColumnNames is set.
	Headings []string `yaml:"headings"`

	// IncludeColumnNames writes the query's column names as the heading row.
	// Default: false
	IncludeColumnNames bool `yaml:"include_column_names"`

	// FileName is the default download name.
	FileName string `yaml:"file_name"`

	// Format is the default format of the dataset.
	Format string `yaml:"format"`

	// Path is the default store destination.
	Path string `yaml:"path"`

	// Disk is the default store disk.
	Disk string `yaml:"disk"`

	// Title is the XLSX worksheet name.
	Title string `yaml:"title"`

	// PageSize pages the query with LIMIT/OFFSET when greater than zero.
	// Default: 0 (single query)
	PageSize int `yaml:"page_size"`
}

// ScheduleConfig describes a recurring queued export.
type ScheduleConfig struct {
	// Name identifies the schedule in logs and metrics.
	Name string `yaml:"name"`

	// Dataset is the dataset to export.
	Dataset string `yaml:"dataset"`

	// Cron is a standard 5-field cron expression.
	Cron string `yaml:"cron"`

	// Path is the store destination. It may contain a time layout between
	// braces, e.g. "exports/users-{2006-01-02}.csv".
	Path string `yaml:"path"`

	// Disk is the store disk. Empty uses the dataset's or the default disk.
	Disk string `yaml:"disk"`

	// Format overrides the dataset's format.
	Format string `yaml:"format"`
}

// ServerConfig contains configuration for the HTTP server.
type ServerConfig struct {
	// ListenAddress is the address and port to listen on.
	// Default: "127.0.0.1:8080"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 30s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response. Large downloads need a generous value.
	// Default: 5m
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxHeaderBytes limits request header size.
	// Default: 1048576 (1MB)
	MaxHeaderBytes int `yaml:"max_header_bytes"`

	// MaxConcurrentExports bounds the number of downloads and stores
	// encoding at the same time. Further requests get 429. Zero means
	// unlimited. Queued exports are bounded by queue.workers instead.
	// Default: 0
	MaxConcurrentExports int `yaml:"max_concurrent_exports"`

	// Auth protects the dataset, export and job routes with API keys.
	Auth AuthConfig `yaml:"auth"`

	// TLS serves HTTPS instead of plain HTTP.
	TLS TLSConfig `yaml:"tls"`
}

// TLSConfig contains HTTPS settings for the server.
type TLSConfig struct {
	// Enabled serves HTTPS with CertFile and KeyFile.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// CertFile is the PEM certificate chain.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the PEM private key.
	KeyFile string `yaml:"key_file"`

	// MinVersion is the lowest accepted protocol version.
	// Options: "1.2", "1.3"
	// Default: "1.2"
	MinVersion string `yaml:"min_version"`

	// ClientCAFile enables mutual TLS: clients must present a certificate
	// signed by one of these CAs.
	ClientCAFile string `yaml:"client_ca_file"`

	// ReloadInterval is how often the certificate files are checked for
	// changes. Renewed certificates are picked up without a restart.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"reload_interval"`
}

// AuthConfig contains API key authentication settings.
type AuthConfig struct {
	// Enabled requires a valid API key on dataset, export and job routes.
	// Health, version and metrics routes stay open.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Header is an additional header carrying the raw key. The
	// Authorization header with the Bearer scheme is always accepted.
	// Default: "X-API-Key"
	Header string `yaml:"header"`

	// Keys lists the accepted API keys.
	Keys []APIKeyConfig `yaml:"keys"`
}

// APIKeyConfig describes one API key.
type APIKeyConfig struct {
	// Name identifies the key in logs. Required.
	Name string `yaml:"name"`

	// Key is the secret value. Either Key or KeyEnv is required.
	Key string `yaml:"key"`

	// KeyEnv names an environment variable holding the secret.
	KeyEnv string `yaml:"key_env"`

	// Datasets restricts the key to these datasets. Empty allows all.
	Datasets []string `yaml:"datasets"`

	// Disabled rejects the key without removing it.
	Disabled bool `yaml:"disabled"`

	// RequestsPerMinute throttles the key. Zero means unlimited.
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// Burst is the number of requests allowed at once above the steady
	// rate. Default: 1 when RequestsPerMinute is set.
	Burst int `yaml:"burst"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains OpenTelemetry tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactSecrets masks credentials (DSN passwords, tokens) in log fields.
	// Default: true
	RedactSecrets bool `yaml:"redact_secrets"`

	// File writes logs to a rotating file instead of stdout.
	File LogFileConfig `yaml:"file"`
}

// LogFileConfig contains configuration for rotating log files.
type LogFileConfig struct {
	// Path is the log file. Empty logs to stdout.
	Path string `yaml:"path"`

	// MaxSizeMB is the size at which the file is rotated.
	// Default: 100
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep.
	// Default: 5
	MaxBackups int `yaml:"max_backups"`

	// MaxAgeDays is the number of days to keep rotated files.
	// Default: 30
	MaxAgeDays int `yaml:"max_age_days"`

	// Compress gzips rotated files.
	// Default: true
	Compress bool `yaml:"compress"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "tabula"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "export"
	Subsystem string `yaml:"subsystem"`

	// DurationBuckets defines histogram buckets for export duration (seconds).
	// Default: [0.05, 0.1, 0.5, 1, 5, 15, 60, 300]
	DurationBuckets []float64 `yaml:"duration_buckets"`

	// RowBuckets defines histogram buckets for exported row counts.
	// Default: [10, 100, 1000, 10000, 100000, 1000000]
	RowBuckets []float64 `yaml:"row_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether spans are exported.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector address.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the collector connection.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout bounds each export to the collector.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// ServiceName is the service.name resource attribute.
	// Default: "tabula"
	ServiceName string `yaml:"service_name"`
}

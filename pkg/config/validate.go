package config

import (
	"fmt"
	"net"
	"strings"
	"unicode/utf8"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// validFormats lists the accepted format identifiers.
var validFormats = map[string]bool{"xlsx": true, "csv": true, "tsv": true, "json": true}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateExport(&cfg.Export, cfg.Disks)...)
	errs = append(errs, validateDisks(cfg.Disks)...)
	errs = append(errs, validateQueue(&cfg.Queue)...)
	errs = append(errs, validateDatasets(cfg.Datasets, cfg.Disks)...)
	errs = append(errs, validateSchedules(cfg.Schedules, cfg.Datasets, cfg.Disks)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateExport validates engine-wide export settings.
func validateExport(cfg *ExportConfig, disks map[string]DiskConfig) []FieldError {
	var errs []FieldError

	if !validFormats[strings.ToLower(cfg.DefaultFormat)] {
		errs = append(errs, FieldError{
			Field:   "export.default_format",
			Message: fmt.Sprintf("unsupported format %q (expected xlsx, csv, tsv or json)", cfg.DefaultFormat),
		})
	}

	if _, ok := disks[cfg.DefaultDisk]; !ok {
		errs = append(errs, FieldError{
			Field:   "export.default_disk",
			Message: fmt.Sprintf("disk %q is not configured", cfg.DefaultDisk),
		})
	}

	if cfg.ChunkSize < 1 {
		errs = append(errs, FieldError{
			Field:   "export.chunk_size",
			Message: "chunk size must be at least 1",
		})
	}

	if cfg.CSV.Delimiter != "" {
		r, size := utf8.DecodeRuneInString(cfg.CSV.Delimiter)
		if size != len(cfg.CSV.Delimiter) || r == '"' || r == '\r' || r == '\n' || r == utf8.RuneError {
			errs = append(errs, FieldError{
				Field:   "export.csv.delimiter",
				Message: "delimiter must be a single character other than quote or line break",
			})
		}
	}

	return errs
}

// validateDisks validates storage backend configuration.
func validateDisks(disks map[string]DiskConfig) []FieldError {
	var errs []FieldError

	for name, disk := range disks {
		prefix := fmt.Sprintf("disks.%s", name)

		switch disk.Driver {
		case "local":
			if disk.Root == "" {
				errs = append(errs, FieldError{Field: prefix + ".root", Message: "root is required for local disks"})
			}
		case "sqlite":
			if disk.Path == "" {
				errs = append(errs, FieldError{Field: prefix + ".path", Message: "path is required for sqlite disks"})
			}
		case "memory":
		default:
			errs = append(errs, FieldError{
				Field:   prefix + ".driver",
				Message: fmt.Sprintf("unsupported driver %q (expected local, memory or sqlite)", disk.Driver),
			})
		}

		if disk.Visibility != "public" && disk.Visibility != "private" {
			errs = append(errs, FieldError{
				Field:   prefix + ".visibility",
				Message: fmt.Sprintf("visibility must be public or private, got %q", disk.Visibility),
			})
		}
	}

	return errs
}

// validateQueue validates job system configuration.
func validateQueue(cfg *QueueConfig) []FieldError {
	var errs []FieldError

	if cfg.Driver != "local" && cfg.Driver != "redis" {
		errs = append(errs, FieldError{
			Field:   "queue.driver",
			Message: fmt.Sprintf("unsupported driver %q (expected local or redis)", cfg.Driver),
		})
	}
	if cfg.Workers < 1 {
		errs = append(errs, FieldError{Field: "queue.workers", Message: "at least one worker is required"})
	}
	if cfg.BufferSize < 0 {
		errs = append(errs, FieldError{Field: "queue.buffer_size", Message: "buffer size cannot be negative"})
	}
	if cfg.JobTimeout < 0 {
		errs = append(errs, FieldError{Field: "queue.job_timeout", Message: "job timeout cannot be negative"})
	}

	switch cfg.Status.Driver {
	case "memory":
	case "sqlite":
		if cfg.Status.Path == "" {
			errs = append(errs, FieldError{Field: "queue.status.path", Message: "path is required for the sqlite status store"})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "queue.status.driver",
			Message: fmt.Sprintf("unsupported driver %q (expected memory or sqlite)", cfg.Status.Driver),
		})
	}

	if cfg.Status.Retention < 0 {
		errs = append(errs, FieldError{Field: "queue.status.retention", Message: "retention cannot be negative"})
	}
	if cfg.Status.PruneSchedule != "" {
		if _, err := cron.ParseStandard(cfg.Status.PruneSchedule); err != nil {
			errs = append(errs, FieldError{Field: "queue.status.prune_schedule", Message: fmt.Sprintf("invalid cron expression: %v", err)})
		}
	}

	if cfg.Driver == "redis" {
		if _, _, err := net.SplitHostPort(cfg.Redis.Addr); err != nil {
			errs = append(errs, FieldError{Field: "queue.redis.addr", Message: fmt.Sprintf("invalid address: %v", err)})
		}
		if cfg.Redis.Key == "" {
			errs = append(errs, FieldError{Field: "queue.redis.key", Message: "key is required"})
		}
	}

	return errs
}

// validateDatasets validates configured datasets.
func validateDatasets(datasets map[string]DatasetConfig, disks map[string]DiskConfig) []FieldError {
	var errs []FieldError

	for name, ds := range datasets {
		prefix := fmt.Sprintf("datasets.%s", name)

		if ds.Driver != "sqlite3" && ds.Driver != "sqlite" {
			errs = append(errs, FieldError{
				Field:   prefix + ".driver",
				Message: fmt.Sprintf("unsupported driver %q (expected sqlite3 or sqlite)", ds.Driver),
			})
		}
		if ds.DSN == "" {
			errs = append(errs, FieldError{Field: prefix + ".dsn", Message: "dsn is required"})
		}
		if strings.TrimSpace(ds.Query) == "" {
			errs = append(errs, FieldError{Field: prefix + ".query", Message: "query is required"})
		}
		if ds.Format != "" && !validFormats[strings.ToLower(ds.Format)] {
			errs = append(errs, FieldError{
				Field:   prefix + ".format",
				Message: fmt.Sprintf("unsupported format %q", ds.Format),
			})
		}
		if ds.Disk != "" {
			if _, ok := disks[ds.Disk]; !ok {
				errs = append(errs, FieldError{Field: prefix + ".disk", Message: fmt.Sprintf("disk %q is not configured", ds.Disk)})
			}
		}
		if ds.PageSize < 0 {
			errs = append(errs, FieldError{Field: prefix + ".page_size", Message: "page size cannot be negative"})
		}
		if len(ds.Headings) > 0 && ds.IncludeColumnNames {
			errs = append(errs, FieldError{
				Field:   prefix + ".include_column_names",
				Message: "cannot be combined with explicit headings",
			})
		}
	}

	return errs
}

// validateSchedules validates cron schedules.
func validateSchedules(schedules []ScheduleConfig, datasets map[string]DatasetConfig, disks map[string]DiskConfig) []FieldError {
	var errs []FieldError
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	seen := make(map[string]bool)

	for i, s := range schedules {
		prefix := fmt.Sprintf("schedules[%d]", i)

		if seen[s.Name] {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate schedule name %q", s.Name)})
		}
		seen[s.Name] = true

		ds, ok := datasets[s.Dataset]
		if !ok {
			errs = append(errs, FieldError{Field: prefix + ".dataset", Message: fmt.Sprintf("dataset %q is not configured", s.Dataset)})
		}
		if _, err := parser.Parse(s.Cron); err != nil {
			errs = append(errs, FieldError{Field: prefix + ".cron", Message: fmt.Sprintf("invalid cron expression: %v", err)})
		}
		if s.Path == "" && ds.Path == "" {
			errs = append(errs, FieldError{Field: prefix + ".path", Message: "path is required when the dataset declares none"})
		}
		if s.Disk != "" {
			if _, ok := disks[s.Disk]; !ok {
				errs = append(errs, FieldError{Field: prefix + ".disk", Message: fmt.Sprintf("disk %q is not configured", s.Disk)})
			}
		}
		if s.Format != "" && !validFormats[strings.ToLower(s.Format)] {
			errs = append(errs, FieldError{Field: prefix + ".format", Message: fmt.Sprintf("unsupported format %q", s.Format)})
		}
	}

	return errs
}

// validateServer validates HTTP server configuration.
func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "listen address is required"})
	} else if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address format: %v", err),
		})
	}

	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout cannot be negative"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout cannot be negative"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "shutdown timeout cannot be negative"})
	}
	if cfg.MaxHeaderBytes < 0 {
		errs = append(errs, FieldError{Field: "server.max_header_bytes", Message: "max header bytes cannot be negative"})
	}

	if cfg.MaxConcurrentExports < 0 {
		errs = append(errs, FieldError{Field: "server.max_concurrent_exports", Message: "max concurrent exports cannot be negative"})
	}

	errs = append(errs, validateAuth(&cfg.Auth)...)
	errs = append(errs, validateTLS(&cfg.TLS)...)

	return errs
}

// validateTLS validates HTTPS configuration.
func validateTLS(cfg *TLSConfig) []FieldError {
	var errs []FieldError

	switch cfg.MinVersion {
	case "", "1.2", "1.3":
	default:
		errs = append(errs, FieldError{
			Field:   "server.tls.min_version",
			Message: fmt.Sprintf("unsupported TLS version %q (expected 1.2 or 1.3)", cfg.MinVersion),
		})
	}
	if cfg.ReloadInterval < 0 {
		errs = append(errs, FieldError{Field: "server.tls.reload_interval", Message: "reload interval cannot be negative"})
	}

	if !cfg.Enabled {
		return errs
	}
	if cfg.CertFile == "" {
		errs = append(errs, FieldError{Field: "server.tls.cert_file", Message: "certificate file is required when TLS is enabled"})
	}
	if cfg.KeyFile == "" {
		errs = append(errs, FieldError{Field: "server.tls.key_file", Message: "key file is required when TLS is enabled"})
	}

	return errs
}

// validateAuth validates API key configuration.
func validateAuth(cfg *AuthConfig) []FieldError {
	var errs []FieldError

	if cfg.Enabled && len(cfg.Keys) == 0 {
		errs = append(errs, FieldError{Field: "server.auth.keys", Message: "at least one key is required when auth is enabled"})
	}

	names := make(map[string]bool, len(cfg.Keys))
	for i, k := range cfg.Keys {
		prefix := fmt.Sprintf("server.auth.keys[%d]", i)
		if k.Name == "" {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: "key name is required"})
		} else if names[k.Name] {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate key name %q", k.Name)})
		}
		names[k.Name] = true

		if k.Key == "" && k.KeyEnv == "" {
			errs = append(errs, FieldError{Field: prefix + ".key", Message: "key or key_env is required"})
		}
		if k.RequestsPerMinute < 0 {
			errs = append(errs, FieldError{Field: prefix + ".requests_per_minute", Message: "rate cannot be negative"})
		}
		if k.Burst < 0 {
			errs = append(errs, FieldError{Field: prefix + ".burst", Message: "burst cannot be negative"})
		}
	}

	return errs
}

// validateTelemetry validates logging, metrics and tracing configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (expected debug, info, warn or error)", cfg.Logging.Level),
		})
	}

	switch strings.ToLower(cfg.Logging.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (expected json, text or console)", cfg.Logging.Format),
		})
	}

	if cfg.Logging.File.Path != "" && cfg.Logging.File.MaxSizeMB < 1 {
		errs = append(errs, FieldError{Field: "telemetry.logging.file.max_size_mb", Message: "max size must be at least 1"})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{Field: "telemetry.metrics.path", Message: "metrics path must start with /"})
	}

	switch cfg.Tracing.Sampler {
	case "always", "never":
	case "ratio":
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sample_ratio",
				Message: fmt.Sprintf("sample ratio must be between 0 and 1, got %g", cfg.Tracing.SampleRatio),
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("unsupported sampler %q (expected always, never or ratio)", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Tracing.Endpoint); err != nil {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: fmt.Sprintf("invalid address: %v", err)})
		}
	}

	return errs
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of environment variable overrides.
const EnvPrefix = "TABULA_"

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML configuration and applies defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	presetBoolDefaults(&cfg)

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention TABULA_SECTION_FIELD (e.g., TABULA_SERVER_LISTEN_ADDRESS).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	// Overrides may introduce new disks or change drivers
	ApplyDefaults(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Export overrides
	envString("EXPORT_DEFAULT_FORMAT", &cfg.Export.DefaultFormat)
	envString("EXPORT_DEFAULT_DISK", &cfg.Export.DefaultDisk)
	envString("EXPORT_TEMP_DIR", &cfg.Export.TempDir)
	envInt("EXPORT_CHUNK_SIZE", &cfg.Export.ChunkSize)
	envString("EXPORT_CSV_DELIMITER", &cfg.Export.CSV.Delimiter)
	envBool("EXPORT_CSV_USE_BOM", &cfg.Export.CSV.UseBOM)
	envBool("EXPORT_CSV_USE_CRLF", &cfg.Export.CSV.UseCRLF)

	// Disk overrides - only for disks that are already declared
	for name := range cfg.Disks {
		applyDiskEnvOverrides(cfg, name)
	}

	// Queue overrides
	envString("QUEUE_DRIVER", &cfg.Queue.Driver)
	envInt("QUEUE_WORKERS", &cfg.Queue.Workers)
	envInt("QUEUE_BUFFER_SIZE", &cfg.Queue.BufferSize)
	envDuration("QUEUE_JOB_TIMEOUT", &cfg.Queue.JobTimeout)
	envString("QUEUE_STATUS_DRIVER", &cfg.Queue.Status.Driver)
	envString("QUEUE_STATUS_PATH", &cfg.Queue.Status.Path)
	envString("QUEUE_REDIS_ADDR", &cfg.Queue.Redis.Addr)
	envString("QUEUE_REDIS_PASSWORD", &cfg.Queue.Redis.Password)
	envInt("QUEUE_REDIS_DB", &cfg.Queue.Redis.DB)
	envString("QUEUE_REDIS_KEY", &cfg.Queue.Redis.Key)

	// Dataset overrides - DSNs usually carry credentials
	for name, ds := range cfg.Datasets {
		envString("DATASETS_"+envName(name)+"_DSN", &ds.DSN)
		cfg.Datasets[name] = ds
	}

	// Server overrides
	envString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	envDuration("SERVER_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SERVER_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SERVER_IDLE_TIMEOUT", &cfg.Server.IdleTimeout)
	envDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	envInt("SERVER_MAX_HEADER_BYTES", &cfg.Server.MaxHeaderBytes)
	envInt("SERVER_MAX_CONCURRENT_EXPORTS", &cfg.Server.MaxConcurrentExports)
	envBool("SERVER_AUTH_ENABLED", &cfg.Server.Auth.Enabled)
	envBool("SERVER_TLS_ENABLED", &cfg.Server.TLS.Enabled)
	envString("SERVER_TLS_CERT_FILE", &cfg.Server.TLS.CertFile)
	envString("SERVER_TLS_KEY_FILE", &cfg.Server.TLS.KeyFile)

	// Telemetry overrides
	envString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envString("TELEMETRY_LOGGING_FILE_PATH", &cfg.Telemetry.Logging.File.Path)
	envBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envString("TELEMETRY_TRACING_SAMPLER", &cfg.Telemetry.Tracing.Sampler)
}

// applyDiskEnvOverrides applies environment variable overrides for a specific disk.
// Disk environment variables follow the format TABULA_DISKS_<NAME>_<FIELD>
// where NAME is the uppercase disk name.
func applyDiskEnvOverrides(cfg *Config, name string) {
	disk := cfg.Disks[name]
	prefix := "DISKS_" + envName(name) + "_"

	envString(prefix+"DRIVER", &disk.Driver)
	envString(prefix+"ROOT", &disk.Root)
	envString(prefix+"PATH", &disk.Path)
	envString(prefix+"VISIBILITY", &disk.Visibility)

	cfg.Disks[name] = disk
}

// envName converts a map key to its environment variable form.
func envName(name string) string {
	return strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

func envString(key string, dst *string) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		*dst = val
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(EnvPrefix + key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}

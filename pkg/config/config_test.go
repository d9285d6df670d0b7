package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

const validConfig = `
export:
  default_format: csv
  chunk_size: 500
  csv:
    delimiter: ";"
    use_bom: true

disks:
  local:
    root: "%ROOT%"
  archive:
    driver: sqlite
    path: "%ROOT%/archive.db"
    visibility: public

queue:
  workers: 4

datasets:
  users:
    dsn: "file:users.db"
    query: "SELECT id, email FROM users"
    headings: [id, email]
    path: exports/users.csv

schedules:
  - dataset: users
    cron: "0 3 * * *"
    disk: archive

server:
  listen_address: "0.0.0.0:9090"
  read_timeout: 10s

telemetry:
  logging:
    level: debug
    format: text
    redact_secrets: false
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "tabula.yaml")
	content = strings.ReplaceAll(content, "%ROOT%", dir)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Export.DefaultFormat != "csv" {
		t.Errorf("expected default format csv, got %q", cfg.Export.DefaultFormat)
	}
	if cfg.Export.ChunkSize != 500 {
		t.Errorf("expected chunk size 500, got %d", cfg.Export.ChunkSize)
	}
	if !cfg.Export.CSV.UseBOM || cfg.Export.CSV.Delimiter != ";" {
		t.Errorf("unexpected csv settings %+v", cfg.Export.CSV)
	}
	if cfg.Disks["local"].Driver != "local" {
		t.Errorf("expected local driver default, got %q", cfg.Disks["local"].Driver)
	}
	if cfg.Disks["archive"].Visibility != "public" {
		t.Errorf("expected public archive, got %q", cfg.Disks["archive"].Visibility)
	}
	if cfg.Queue.Workers != 4 || cfg.Queue.Driver != "local" {
		t.Errorf("unexpected queue config %+v", cfg.Queue)
	}
	if cfg.Datasets["users"].Driver != DefaultDatasetDriver {
		t.Errorf("expected dataset driver default, got %q", cfg.Datasets["users"].Driver)
	}
	if cfg.Schedules[0].Name != "users" {
		t.Errorf("expected schedule name to default to dataset, got %q", cfg.Schedules[0].Name)
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("expected read timeout 10s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Telemetry.Logging.RedactSecrets {
		t.Error("expected explicit redact_secrets: false to win")
	}
	if !cfg.Telemetry.Metrics.Enabled {
		t.Error("expected metrics enabled by default")
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})

	t.Run("invalid yaml", func(t *testing.T) {
		if _, err := LoadConfig(writeConfig(t, "export: [")); err == nil {
			t.Error("expected parse error")
		}
	})
}

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if err := Validate(cfg); err != nil {
		t.Fatalf("expected default config to validate: %v", err)
	}
	if cfg.Export.DefaultFormat != DefaultExportFormat {
		t.Errorf("expected %s, got %s", DefaultExportFormat, cfg.Export.DefaultFormat)
	}
	if _, ok := cfg.Disks[DefaultExportDisk]; !ok {
		t.Error("expected default disk to exist")
	}
	if !cfg.Telemetry.Logging.RedactSecrets || !cfg.Telemetry.Logging.File.Compress {
		t.Error("expected boolean defaults to be true")
	}
	if tr := cfg.Telemetry.Tracing; tr.Enabled || tr.Sampler != DefaultTracingSampler || tr.SampleRatio != DefaultTracingRatio {
		t.Errorf("unexpected tracing defaults %+v", tr)
	}

	// ApplyDefaults is idempotent
	before := *cfg
	ApplyDefaults(cfg)
	if !reflect.DeepEqual(cfg.Server, before.Server) || !reflect.DeepEqual(cfg.Queue, before.Queue) {
		t.Error("expected ApplyDefaults to be idempotent")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "bad default format", mutate: func(c *Config) { c.Export.DefaultFormat = "ods" }, field: "export.default_format"},
		{name: "unknown default disk", mutate: func(c *Config) { c.Export.DefaultDisk = "s3" }, field: "export.default_disk"},
		{name: "chunk size", mutate: func(c *Config) { c.Export.ChunkSize = 0 }, field: "export.chunk_size"},
		{name: "delimiter", mutate: func(c *Config) { c.Export.CSV.Delimiter = ";;" }, field: "export.csv.delimiter"},
		{name: "disk driver", mutate: func(c *Config) { c.Disks["local"] = DiskConfig{Driver: "ftp", Visibility: "private"} }, field: "disks.local.driver"},
		{name: "disk visibility", mutate: func(c *Config) {
			d := c.Disks["local"]
			d.Visibility = "secret"
			c.Disks["local"] = d
		}, field: "disks.local.visibility"},
		{name: "queue driver", mutate: func(c *Config) { c.Queue.Driver = "kafka" }, field: "queue.driver"},
		{name: "queue workers", mutate: func(c *Config) { c.Queue.Workers = 0 }, field: "queue.workers"},
		{name: "status driver", mutate: func(c *Config) { c.Queue.Status.Driver = "postgres" }, field: "queue.status.driver"},
		{name: "redis addr", mutate: func(c *Config) {
			c.Queue.Driver = "redis"
			c.Queue.Redis.Addr = "nohost"
		}, field: "queue.redis.addr"},
		{name: "dataset dsn", mutate: func(c *Config) {
			c.Datasets = map[string]DatasetConfig{"users": {Driver: "sqlite3", Query: "SELECT 1"}}
		}, field: "datasets.users.dsn"},
		{name: "dataset headings and column names", mutate: func(c *Config) {
			c.Datasets = map[string]DatasetConfig{"users": {Driver: "sqlite3", DSN: "x", Query: "SELECT 1", Headings: []string{"a"}, IncludeColumnNames: true}}
		}, field: "datasets.users.include_column_names"},
		{name: "schedule dataset", mutate: func(c *Config) {
			c.Schedules = []ScheduleConfig{{Name: "nightly", Dataset: "missing", Cron: "0 3 * * *", Path: "a.csv"}}
		}, field: "schedules[0].dataset"},
		{name: "schedule cron", mutate: func(c *Config) {
			c.Datasets = map[string]DatasetConfig{"users": {Driver: "sqlite3", DSN: "x", Query: "SELECT 1"}}
			c.Schedules = []ScheduleConfig{{Name: "nightly", Dataset: "users", Cron: "every day", Path: "a.csv"}}
		}, field: "schedules[0].cron"},
		{name: "schedule path", mutate: func(c *Config) {
			c.Datasets = map[string]DatasetConfig{"users": {Driver: "sqlite3", DSN: "x", Query: "SELECT 1"}}
			c.Schedules = []ScheduleConfig{{Name: "nightly", Dataset: "users", Cron: "@daily"}}
		}, field: "schedules[0].path"},
		{name: "listen address", mutate: func(c *Config) { c.Server.ListenAddress = "8080" }, field: "server.listen_address"},
		{name: "log level", mutate: func(c *Config) { c.Telemetry.Logging.Level = "trace" }, field: "telemetry.logging.level"},
		{name: "metrics path", mutate: func(c *Config) { c.Telemetry.Metrics.Path = "metrics" }, field: "telemetry.metrics.path"},
		{name: "tracing sampler", mutate: func(c *Config) { c.Telemetry.Tracing.Sampler = "sometimes" }, field: "telemetry.tracing.sampler"},
		{name: "tracing ratio", mutate: func(c *Config) { c.Telemetry.Tracing.SampleRatio = 2 }, field: "telemetry.tracing.sample_ratio"},
		{name: "tracing endpoint", mutate: func(c *Config) {
			c.Telemetry.Tracing.Enabled = true
			c.Telemetry.Tracing.Endpoint = "collector"
		}, field: "telemetry.tracing.endpoint"},
		{name: "auth without keys", mutate: func(c *Config) { c.Server.Auth.Enabled = true }, field: "server.auth.keys"},
		{name: "auth key without secret", mutate: func(c *Config) {
			c.Server.Auth.Keys = []APIKeyConfig{{Name: "ops"}}
		}, field: "server.auth.keys[0].key"},
		{name: "auth duplicate key name", mutate: func(c *Config) {
			c.Server.Auth.Keys = []APIKeyConfig{{Name: "ops", Key: "a"}, {Name: "ops", Key: "b"}}
		}, field: "server.auth.keys[1].name"},
		{name: "auth negative rate", mutate: func(c *Config) {
			c.Server.Auth.Keys = []APIKeyConfig{{Name: "ops", Key: "a", RequestsPerMinute: -1}}
		}, field: "server.auth.keys[0].requests_per_minute"},
		{name: "max concurrent exports", mutate: func(c *Config) { c.Server.MaxConcurrentExports = -1 }, field: "server.max_concurrent_exports"},
		{name: "tls version", mutate: func(c *Config) { c.Server.TLS.MinVersion = "1.0" }, field: "server.tls.min_version"},
		{name: "tls without certificate", mutate: func(c *Config) {
			c.Server.TLS.Enabled = true
			c.Server.TLS.KeyFile = "server.key"
		}, field: "server.tls.cert_file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)

			err := Validate(cfg)
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}

			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error for field %s, got %v", tt.field, verr.Errors)
			}
		})
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, validConfig)

	t.Setenv("TABULA_SERVER_LISTEN_ADDRESS", "127.0.0.1:7070")
	t.Setenv("TABULA_QUEUE_WORKERS", "8")
	t.Setenv("TABULA_EXPORT_CSV_USE_CRLF", "true")
	t.Setenv("TABULA_DISKS_ARCHIVE_VISIBILITY", "private")
	t.Setenv("TABULA_DATASETS_USERS_DSN", "file:override.db")
	t.Setenv("TABULA_QUEUE_BUFFER_SIZE", "not-a-number")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("LoadConfigWithEnvOverrides() failed: %v", err)
	}

	if cfg.Server.ListenAddress != "127.0.0.1:7070" {
		t.Errorf("expected env listen address, got %q", cfg.Server.ListenAddress)
	}
	if cfg.Queue.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Queue.Workers)
	}
	if !cfg.Export.CSV.UseCRLF {
		t.Error("expected CRLF from env")
	}
	if cfg.Disks["archive"].Visibility != "private" {
		t.Errorf("expected private archive, got %q", cfg.Disks["archive"].Visibility)
	}
	if cfg.Datasets["users"].DSN != "file:override.db" {
		t.Errorf("expected DSN override, got %q", cfg.Datasets["users"].DSN)
	}
	if cfg.Queue.BufferSize != DefaultQueueBufferSize {
		t.Errorf("expected invalid env value to be ignored, got %d", cfg.Queue.BufferSize)
	}
}

func resetGlobal() {
	SetConfig(nil)
}

func TestReloadConfig_KeepsPreviousOnError(t *testing.T) {
	resetGlobal()
	defer resetGlobal()

	if GetConfig() != nil {
		t.Fatal("expected nil config before the first load")
	}

	path := writeConfig(t, validConfig)
	before, err := ReloadConfig(path)
	if err != nil {
		t.Fatalf("ReloadConfig() failed: %v", err)
	}
	if GetConfig() != before || before.Server.ListenAddress != "0.0.0.0:9090" {
		t.Fatalf("active config = %+v", GetConfig())
	}

	if err := os.WriteFile(path, []byte("queue:\n  driver: kafka\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := ReloadConfig(path); err == nil {
		t.Fatal("expected reload of invalid config to fail")
	}
	if GetConfig() != before {
		t.Error("expected previous configuration to stay active")
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	resetGlobal()
	defer resetGlobal()

	path := writeConfig(t, validConfig)
	if _, err := ReloadConfig(path); err != nil {
		t.Fatalf("ReloadConfig() failed: %v", err)
	}

	w, err := NewWatcher(path, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("NewWatcher() failed: %v", err)
	}

	reloaded := make(chan *Config, 1)
	w.OnReload(func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx) }()

	// Give the watcher time to register the directory
	time.Sleep(100 * time.Millisecond)

	updated := strings.Replace(validConfig, "workers: 4", "workers: 6", 1)
	updated = strings.ReplaceAll(updated, "%ROOT%", filepath.Dir(path))
	if err := os.WriteFile(path, []byte(updated), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Queue.Workers != 6 {
			t.Errorf("expected 6 workers after reload, got %d", cfg.Queue.Workers)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() returned %v", err)
	}
}

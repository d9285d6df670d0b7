// Package config provides configuration management for tabula.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("tabula.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("tabula.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention TABULA_SECTION_FIELD.
// For example:
//
//   - TABULA_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - TABULA_QUEUE_DRIVER overrides queue.driver
//   - TABULA_DISKS_ARCHIVE_ROOT overrides disks.archive.root
//   - TABULA_DATASETS_USERS_DSN overrides datasets.users.dsn
//
// Environment variables always take precedence over file-based configuration.
//
// # Example
//
//	export:
//	  default_format: xlsx
//	  default_disk: local
//	disks:
//	  local:
//	    driver: local
//	    root: data/exports
//	datasets:
//	  users:
//	    dsn: file:data/app.db?mode=ro
//	    query: SELECT id, email, created_at FROM users ORDER BY id
//	    headings: [id, email, created_at]
//	    format: csv
//	schedules:
//	  - dataset: users
//	    cron: "0 3 * * *"
//	    path: nightly/users-{2006-01-02}.csv
//
// # Hot Reload
//
// Watcher reloads the global configuration when the file changes and calls
// the registered OnReload handlers with the new value. A file that fails to
// load or validate leaves the previous configuration active.
package config

// Tabula exports SQL datasets to XLSX, CSV, TSV and JSON documents.
//
// It serves downloads over HTTP, stores documents on configured disks,
// queues long exports for background workers and runs exports on cron
// schedules.
//
// Usage:
//
//	# Start the server, workers and schedules
//	tabula run --config config.yaml
//
//	# Export a dataset to a local file
//	tabula export users -o users.xlsx
//
//	# Store an export on a disk, or queue it
//	tabula export users --store reports/users.csv --disk archive
//	tabula export users --queue reports/users.csv --wait
//
//	# Inspect jobs and datasets
//	tabula jobs list
//	tabula datasets columns users
//
//	# Validate configuration and connections
//	tabula validate --connect
package main

import (
	"os"

	"mercator-hq/tabula/pkg/cli"
)

func main() {
	os.Exit(cli.ExitCode(Execute()))
}

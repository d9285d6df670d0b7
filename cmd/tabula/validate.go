package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/tabula/pkg/cli"
	"mercator-hq/tabula/pkg/dataset"
	"mercator-hq/tabula/pkg/export/disk"
	"mercator-hq/tabula/pkg/export/queue"
)

var validateConnect bool

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Load and validate the configuration, including environment overrides.

With --connect, also open every dataset database, disk and the job queue,
and check that they respond.`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
	validateCmd.Flags().BoolVar(&validateConnect, "connect", false, "open and ping datasets, disks and the queue")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Configuration %s is valid\n", cfgFile)
	fmt.Fprintf(out, "  datasets:  %d\n", len(cfg.Datasets))
	fmt.Fprintf(out, "  disks:     %d\n", len(cfg.Disks))
	fmt.Fprintf(out, "  schedules: %d\n", len(cfg.Schedules))
	fmt.Fprintf(out, "  queue:     %s (status: %s)\n", cfg.Queue.Driver, cfg.Queue.Status.Driver)

	if !validateConnect {
		return nil
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	var errs []error

	catalog, err := dataset.NewCatalog(cfg.Datasets)
	if err == nil {
		err = catalog.Ping(ctx)
		catalog.Close()
	}
	errs = append(errs, report(cmd, "datasets", err))

	disks, err := disk.NewManagerFromConfig(cfg)
	if err == nil {
		err = disks.Close()
	}
	errs = append(errs, report(cmd, "disks", err))

	q, err := queue.NewFromConfig(ctx, &cfg.Queue)
	if err == nil {
		err = q.Check(ctx)
		if serr := q.Shutdown(ctx); err == nil {
			err = serr
		}
	}
	errs = append(errs, report(cmd, "queue", err))

	return cli.NewCommandError("validate", errors.Join(errs...))
}

// report prints the outcome of one connection check and returns err.
func report(cmd *cobra.Command, what string, err error) error {
	if err != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "✗ %s: %v\n", what, err)
		return fmt.Errorf("%s: %w", what, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s reachable\n", what)
	return nil
}

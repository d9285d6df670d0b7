package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/tabula/pkg/cli"
	"mercator-hq/tabula/pkg/config"
	"mercator-hq/tabula/pkg/export"
	"mercator-hq/tabula/pkg/export/queue"
)

var jobsFlags struct {
	output    string
	limit     int
	olderThan time.Duration
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect queued export jobs",
	Long: `Inspect the job status store.

Job statuses are read from the store configured under queue.status. The
memory driver keeps statuses inside the server process, so these commands
need the sqlite driver.`,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs, newest first",
	Args:  cobra.NoArgs,
	RunE:  runJobsList,
}

var jobsStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show the status of a job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsStatus,
}

var jobsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete finished jobs older than the retention period",
	Args:  cobra.NoArgs,
	RunE:  runJobsPrune,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsStatusCmd, jobsPruneCmd)

	jobsCmd.PersistentFlags().StringVarP(&jobsFlags.output, "output", "o", "text", "output format: text, json, csv")
	jobsListCmd.Flags().IntVarP(&jobsFlags.limit, "limit", "n", 20, "maximum number of jobs (0 = all)")
	jobsPruneCmd.Flags().DurationVar(&jobsFlags.olderThan, "older-than", 0, "retention period (default queue.status.retention)")
}

// openStatusStore opens the configured persistent status store.
func openStatusStore() (*config.Config, queue.StatusStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Queue.Status.Driver != "sqlite" {
		return nil, nil, cli.NewConfigError("queue.status.driver",
			fmt.Sprintf("the %q driver is not readable outside the server; use sqlite", cfg.Queue.Status.Driver))
	}
	store, err := queue.NewStatusStore(&cfg.Queue.Status)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(jobsFlags.output))
	if err != nil {
		return err
	}
	_, store, err := openStatusStore()
	if err != nil {
		return err
	}
	defer store.Close()

	jobs, err := store.List(cmd.Context(), jobsFlags.limit)
	if err != nil {
		return cli.NewCommandError("jobs list", err)
	}
	if jobsFlags.output == string(cli.FormatJSON) {
		if jobs == nil {
			jobs = []*export.JobStatus{}
		}
		return formatter.FormatTo(cmd.OutOrStdout(), jobs)
	}
	return formatter.FormatTo(cmd.OutOrStdout(), jobTable(jobs))
}

func runJobsStatus(cmd *cobra.Command, args []string) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(jobsFlags.output))
	if err != nil {
		return err
	}
	_, store, err := openStatusStore()
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return cli.NewCommandError("jobs status", err)
	}
	if jobsFlags.output == string(cli.FormatJSON) {
		return formatter.FormatTo(cmd.OutOrStdout(), st)
	}
	return formatter.FormatTo(cmd.OutOrStdout(), jobTable([]*export.JobStatus{st}))
}

func runJobsPrune(cmd *cobra.Command, args []string) error {
	cfg, store, err := openStatusStore()
	if err != nil {
		return err
	}
	defer store.Close()

	retention := jobsFlags.olderThan
	if retention <= 0 {
		retention = cfg.Queue.Status.Retention
	}
	if retention <= 0 {
		return fmt.Errorf("no retention period: set --older-than or queue.status.retention")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	n, err := store.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		return cli.NewCommandError("jobs prune", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Pruned %d jobs finished before %s\n", n, time.Now().Add(-retention).Format(time.RFC3339))
	return nil
}

// jobTable renders statuses for the text and CSV formats.
func jobTable(jobs []*export.JobStatus) cli.Table {
	t := cli.Table{Columns: []string{"id", "state", "format", "disk", "path", "updated", "error"}}
	for _, st := range jobs {
		t.Data = append(t.Data, []string{
			st.ID,
			string(st.State),
			string(st.Format),
			st.Disk,
			st.Path,
			st.UpdatedAt.Local().Format(time.DateTime),
			st.Error,
		})
	}
	return t
}

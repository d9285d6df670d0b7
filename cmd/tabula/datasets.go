package main

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/tabula/pkg/cli"
	"mercator-hq/tabula/pkg/dataset"
)

var datasetsOutput string

var datasetsCmd = &cobra.Command{
	Use:   "datasets",
	Short: "Inspect configured datasets",
}

var datasetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured datasets",
	Args:  cobra.NoArgs,
	RunE:  runDatasetsList,
}

var datasetsColumnsCmd = &cobra.Command{
	Use:   "columns <name>",
	Short: "Show the columns a dataset query returns",
	Long: `Run the dataset query with LIMIT 0 and print its column names.

Use this to write the headings of a dataset.`,
	Args: cobra.ExactArgs(1),
	RunE: runDatasetsColumns,
}

func init() {
	rootCmd.AddCommand(datasetsCmd)
	datasetsCmd.AddCommand(datasetsListCmd, datasetsColumnsCmd)
	datasetsCmd.PersistentFlags().StringVarP(&datasetsOutput, "output", "o", "text", "output format: text, json, csv")
}

func runDatasetsList(cmd *cobra.Command, args []string) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(datasetsOutput))
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	names := make([]string, 0, len(cfg.Datasets))
	for name := range cfg.Datasets {
		names = append(names, name)
	}
	sort.Strings(names)

	t := cli.Table{Columns: []string{"name", "driver", "format", "file_name", "disk", "path"}}
	for _, name := range names {
		ds := cfg.Datasets[name]
		t.Data = append(t.Data, []string{name, ds.Driver, ds.Format, ds.FileName, ds.Disk, ds.Path})
	}
	return formatter.FormatTo(cmd.OutOrStdout(), t)
}

func runDatasetsColumns(cmd *cobra.Command, args []string) error {
	formatter, err := cli.NewFormatter(cli.OutputFormat(datasetsOutput))
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	catalog, err := dataset.NewCatalog(cfg.Datasets)
	if err != nil {
		return cli.NewCommandError("datasets columns", err)
	}
	defer catalog.Close()

	e, err := catalog.Exporter(args[0])
	if err != nil {
		return cli.NewCommandError("datasets columns", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	columns, err := e.Columns(ctx)
	if err != nil {
		return cli.NewCommandError("datasets columns", err)
	}

	switch cli.OutputFormat(datasetsOutput) {
	case cli.FormatJSON:
		return formatter.FormatTo(cmd.OutOrStdout(), columns)
	case cli.FormatCSV:
		t := cli.Table{Columns: []string{"column"}}
		for _, c := range columns {
			t.Data = append(t.Data, []string{c})
		}
		return formatter.FormatTo(cmd.OutOrStdout(), t)
	default:
		return formatter.FormatTo(cmd.OutOrStdout(), strings.Join(columns, "\n"))
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/tabula/pkg/cli"
	"mercator-hq/tabula/pkg/export"
	"mercator-hq/tabula/pkg/export/dispatch"
)

var exportFlags struct {
	output     string
	format     string
	store      string
	queue      string
	disk       string
	visibility string
	copyTo     string
	wait       bool
	timeout    time.Duration
}

var exportCmd = &cobra.Command{
	Use:   "export <dataset>",
	Short: "Export a dataset to a file, a disk or the job queue",
	Long: `Export a configured dataset.

By default the document is written to a local file named after the dataset's
declared file name. The format follows --format, then the extension of the
output name, then the dataset's format, then export.default_format.

With --store the document is written to a disk instead. With --queue a job is
submitted; when the queue driver is local the job runs in this process and
the command waits for it.

Examples:
  # Download to a local file
  tabula export users -o users.xlsx

  # Write CSV to stdout
  tabula export users -o - --format csv

  # Store on the archive disk
  tabula export users --store reports/users.csv --disk archive

  # Queue, then copy the result to another disk
  tabula export users --queue reports/users.csv --copy-to backup --wait`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVarP(&exportFlags.output, "output", "o", "", "local output file (- for stdout)")
	exportCmd.Flags().StringVarP(&exportFlags.format, "format", "f", "", "output format: xlsx, csv, tsv, json")
	exportCmd.Flags().StringVar(&exportFlags.store, "store", "", "store on a disk at this path")
	exportCmd.Flags().StringVar(&exportFlags.queue, "queue", "", "queue a job storing at this path")
	exportCmd.Flags().StringVar(&exportFlags.disk, "disk", "", "disk for --store and --queue")
	exportCmd.Flags().StringVar(&exportFlags.visibility, "visibility", "", "stored file visibility: public, private")
	exportCmd.Flags().StringVar(&exportFlags.copyTo, "copy-to", "", "with --queue, copy the stored file to this disk")
	exportCmd.Flags().BoolVar(&exportFlags.wait, "wait", false, "with --queue, wait for the job to finish")
	exportCmd.Flags().DurationVar(&exportFlags.timeout, "timeout", 0, "abort the export after this duration (0 = no limit)")

	exportCmd.MarkFlagsMutuallyExclusive("output", "store", "queue")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := setupLogging(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer logger.Shutdown()

	var format export.Format
	if exportFlags.format != "" {
		if format, err = export.ParseFormat(exportFlags.format); err != nil {
			return err
		}
	}
	var diskOpts export.DiskOptions
	switch exportFlags.visibility {
	case "":
	case "public", "private":
		diskOpts = export.DiskOptions{export.OptionVisibility: exportFlags.visibility}
	default:
		return fmt.Errorf("invalid visibility %q (want public or private)", exportFlags.visibility)
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()
	if exportFlags.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, exportFlags.timeout)
		defer cancel()
	}

	eng, err := newEngine(ctx, cfg)
	if err != nil {
		return cli.NewCommandError("export", err)
	}
	defer eng.Close(context.Background())

	e, err := eng.catalog.Exporter(args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case exportFlags.store != "":
		stored, err := eng.dispatcher.Store(ctx, e, dispatch.StoreOptions{
			Path:        exportFlags.store,
			Disk:        exportFlags.disk,
			Format:      format,
			DiskOptions: diskOpts,
		})
		if err != nil {
			return cli.NewCommandError("export", err)
		}
		fmt.Fprintf(out, "✓ Stored %s:%s (%d bytes, %s)\n", stored.Disk, stored.Path, stored.Size, stored.Format)
		return nil

	case exportFlags.queue != "":
		return queueExport(ctx, cmd, eng, e, format, diskOpts)

	default:
		return downloadExport(ctx, cmd, eng, e, format)
	}
}

// downloadExport writes the export to a local file or stdout.
func downloadExport(ctx context.Context, cmd *cobra.Command, eng *engine, e export.Exporter, format export.Format) error {
	opts := dispatch.DownloadOptions{Format: format}
	if exportFlags.output != "" && exportFlags.output != "-" {
		opts.Name = filepath.Base(exportFlags.output)
	}

	resp, err := eng.dispatcher.Download(ctx, e, opts)
	if err != nil {
		return cli.NewCommandError("export", err)
	}
	defer resp.Close()

	if exportFlags.output == "-" {
		if _, err := io.Copy(cmd.OutOrStdout(), resp.Body); err != nil {
			return cli.NewCommandError("export", err)
		}
		return nil
	}

	dest := exportFlags.output
	if dest == "" {
		dest = resp.Name
	}
	if err := writeFile(dest, resp.Body); err != nil {
		return cli.NewCommandError("export", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ Exported %d rows to %s (%d bytes, %s)\n", resp.Rows, dest, resp.Size, resp.Format)
	return nil
}

// writeFile writes r to a temporary file next to dest and renames it, so an
// interrupted export never leaves a truncated document at dest.
func writeFile(dest string, r io.Reader) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dest)
}

// queueExport submits a job and, for in-process queues or --wait, waits for
// it to finish.
func queueExport(ctx context.Context, cmd *cobra.Command, eng *engine, e export.Exporter, format export.Format, diskOpts export.DiskOptions) error {
	local := eng.cfg.Queue.Driver == "" || eng.cfg.Queue.Driver == "local"
	if local {
		if err := eng.startWorkers(ctx); err != nil {
			return cli.NewCommandError("export", err)
		}
	}

	var chain []export.ChainedJob
	if exportFlags.copyTo != "" {
		payload := fmt.Sprintf(`{"disk":%q}`, exportFlags.copyTo)
		chain = append(chain, export.ChainedJob{Name: CopyChain, Payload: []byte(payload)})
	}

	queued, err := eng.dispatcher.Queue(ctx, e, dispatch.QueueOptions{
		Path:        exportFlags.queue,
		Disk:        exportFlags.disk,
		Format:      format,
		DiskOptions: diskOpts,
		Chain:       chain,
	})
	if err != nil {
		return cli.NewCommandError("export", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Job %s submitted\n", queued.ID)
	if !local && !exportFlags.wait {
		return nil
	}
	if !local {
		fmt.Fprintln(out, "Waiting for a worker to pick up the job...")
	}

	st, err := waitForJob(ctx, eng, queued.ID)
	if err != nil {
		return cli.NewCommandError("export", err)
	}
	if st.State == export.JobFailed {
		return cli.NewCommandError("export", fmt.Errorf("job %s failed: %s", st.ID, st.Error))
	}
	if st.Result == nil {
		fmt.Fprintf(out, "✓ Job %s completed\n", st.ID)
		return nil
	}
	fmt.Fprintf(out, "✓ Job %s completed: %s:%s (%d bytes)\n", st.ID, st.Result.Disk, st.Result.Path, st.Result.Size)
	return nil
}

// waitForJob polls the job status until it is terminal.
func waitForJob(ctx context.Context, eng *engine, id string) (*export.JobStatus, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		st, err := eng.queue.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if st.State.Terminal() {
			return st, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

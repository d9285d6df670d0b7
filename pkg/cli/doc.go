/*
Package cli provides helpers shared by the tabula commands.

Output Formatting:

Command results are printed as text, JSON or CSV. Tabular results implement
Tabular so all three formats can render them:

	formatter, err := cli.NewFormatter(cli.FormatJSON)
	if err != nil {
		return err
	}
	if err := formatter.FormatTo(os.Stdout, jobs); err != nil {
		return err
	}

Errors:

ConfigError and CommandError carry the failing field or command. ExitCode
maps them to the process exit status.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()
*/
package cli

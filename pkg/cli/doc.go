/*
Package cli provides helpers shared by the compass command.

Output Formatting:

Command results can be rendered as text, JSON, YAML or an aligned table:

	formatter := cli.NewFormatter(cli.FormatYAML)
	if err := formatter.FormatTo(os.Stdout, summary); err != nil {
		return err
	}

Values rendered with FormatTable implement Tabular.

Errors:

ConfigErrors flattens a configuration validation error into one
ConfigError per field. ExitCode maps an error to the process exit status.

Signal Handling:

For graceful shutdown on SIGINT/SIGTERM:

	ctx, stop := cli.SetupSignalHandler()
	defer stop()
*/
package cli

/*
Package cli holds helpers shared by the relay commands.

Output:

Commands print either a table or indented JSON, chosen with --output:

	printer := cli.NewPrinter(cli.FormatTable, os.Stdout)
	if err := printer.Print(summary); err != nil {
		return err
	}

Values implementing Tabular render as aligned columns; anything else falls
back to JSON.

Progress:

	progress := cli.NewProgress(os.Stderr, total)
	progress.Add(err == nil)
	progress.Finish()

Signals:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()

Errors returned by commands map to process exit codes with ExitCode.
*/
package cli

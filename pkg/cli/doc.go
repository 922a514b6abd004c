/*
Package cli provides command-line helpers for the relayguard command.

Output Formatting:

Results are printed as aligned text or indented JSON:

	format, err := cli.ParseOutputFormat(flagValue)
	if err := cli.Write(os.Stdout, format, report); err != nil {
		return err
	}

Text output uses the Texter interface when the result implements it.

Progress Reporting:

	progress := cli.NewProgress(os.Stderr, "subscriptions", total)
	progress.Done(false)
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

ReloadSignals delivers SIGHUP for configuration reloads.
*/
package cli

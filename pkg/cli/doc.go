/*
Package cli holds the helpers shared by the throttleguard commands.

Admin client:

The stats and reset commands talk to a running server through AdminClient:

	client := cli.NewAdminClient("http://127.0.0.1:8080", apiKey)
	stats, err := client.Stats(ctx)

Output:

Command results render as text or JSON:

	if err := cli.WriteStats(os.Stdout, stats, cli.FormatText); err != nil {
		return err
	}

Errors:

ConfigError and CommandError distinguish a bad invocation from a failed
operation; ExitCode maps them to the process exit status.

Signals:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()
*/
package cli

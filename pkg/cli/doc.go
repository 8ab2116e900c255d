// Package cli holds helpers shared by the turnstile commands: typed errors
// with exit codes, output formatters, a progress bar and signal handling.
//
//	formatter := cli.NewFormatter(cli.FormatJSON)
//	if err := formatter.FormatTo(os.Stdout, stats); err != nil {
//	    return err
//	}
//
//	ctx, stop := cli.SetupSignalHandler(context.Background())
//	defer stop()
package cli

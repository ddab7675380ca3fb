/*
Package cli provides helpers shared by the indexretain commands.

Output Formatting:

Command results are printed as text tables, JSON, or CSV. Results that
implement Tabular render as aligned columns in text mode and as rows in CSV
mode:

	formatter, err := cli.NewFormatter("json")
	if err != nil {
		return err
	}
	return formatter.FormatTo(os.Stdout, views)

Progress Reporting:

Restores stream archive files; the reporter counts them as they arrive:

	progress := cli.NewProgressReporter(os.Stderr, "files")
	progress.Start(0)
	for f := range files {
		progress.Update(n)
	}
	progress.Finish()

Signal Handling:

	ctx, stop := cli.SignalContext(context.Background())
	defer stop()
*/
package cli

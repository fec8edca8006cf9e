package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/asar"
)

type extractOptions struct {
	archive   string
	dest      string
	verify    bool
	overwrite bool
	skipLinks bool
	workers   int
	prefix    string
}

func newExtractCommand(c *cli) *cobra.Command {
	var opts extractOptions

	cmd := &cobra.Command{
		Use:     "extract [OPTIONS] ARCHIVE DEST",
		Aliases: []string{"e"},
		Short:   "Extract an archive into a directory",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.archive = args[0]
			opts.dest = args[1]
			return runExtract(cmd, c, opts)
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&opts.verify, "verify", false, "Check file content against integrity metadata")
	flags.BoolVar(&opts.overwrite, "overwrite", false, "Replace existing files in DEST")
	flags.BoolVar(&opts.skipLinks, "skip-links", false, "Skip links the destination cannot hold")
	flags.IntVarP(&opts.workers, "workers", "w", 0, "Number of files written concurrently")
	flags.StringVar(&opts.prefix, "prefix", "", "Only extract entries below this archive path")

	return cmd
}

func runExtract(cmd *cobra.Command, c *cli, opts extractOptions) error {
	archive, err := c.openArchive(cmd.Context(), opts.archive)
	if err != nil {
		return err
	}
	defer archive.Close()

	report, err := archive.Extract(cmd.Context(), opts.dest, nil,
		asar.ExtractWithVerifyIntegrity(opts.verify),
		asar.ExtractWithOverwrite(opts.overwrite),
		asar.ExtractWithSkipUnsupported(opts.skipLinks),
		asar.ExtractWithWorkers(opts.workers),
		asar.ExtractWithPrefix(opts.prefix),
	)
	if err != nil {
		return err
	}

	fmt.Fprintf(c.out, "extracted %d files, %d directories, %d links to %s\n",
		report.Files, report.Directories, report.Links, opts.dest)
	if report.Skipped > 0 {
		fmt.Fprintf(c.out, "skipped %d links\n", report.Skipped)
	}
	return nil
}

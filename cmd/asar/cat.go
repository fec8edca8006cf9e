package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/meigma/asar"
)

type catOptions struct {
	archive string
	path    string
	verify  bool
}

func newCatCommand(c *cli) *cobra.Command {
	var opts catOptions

	cmd := &cobra.Command{
		Use:   "cat [OPTIONS] ARCHIVE PATH",
		Short: "Write the content of an archived file to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.archive = args[0]
			opts.path = args[1]
			return runCat(cmd, c, opts)
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&opts.verify, "verify", false, "Check content against integrity metadata")

	return cmd
}

func runCat(cmd *cobra.Command, c *cli, opts catOptions) error {
	archive, err := c.openArchive(cmd.Context(), opts.archive, asar.WithVerifyReads(opts.verify))
	if err != nil {
		return err
	}
	defer archive.Close()

	r, err := archive.OpenEntry(asar.NormalizePath(opts.path))
	if err != nil {
		return err
	}
	defer r.Close()

	_, err = io.Copy(c.out, r)
	return err
}

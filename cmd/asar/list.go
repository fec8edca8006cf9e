package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/meigma/asar"
)

type listOptions struct {
	archive string
	long    bool
}

func newListCommand(c *cli) *cobra.Command {
	var opts listOptions

	cmd := &cobra.Command{
		Use:     "list [OPTIONS] ARCHIVE",
		Aliases: []string{"ls"},
		Short:   "List the entries of an archive",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.archive = args[0]
			return runList(cmd, c, opts)
		},
	}
	flags := cmd.Flags()
	flags.BoolVarP(&opts.long, "long", "l", false, "Show type, mode and size of every entry")

	return cmd
}

func runList(cmd *cobra.Command, c *cli, opts listOptions) error {
	archive, err := c.openArchive(cmd.Context(), opts.archive)
	if err != nil {
		return err
	}
	defer archive.Close()

	if !opts.long {
		for _, e := range archive.List() {
			fmt.Fprintln(c.out, e.Path)
		}
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	for _, e := range archive.List() {
		info, err := archive.Lstat(e.Path)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", info.Mode(), listSize(e), listName(e))
	}
	return w.Flush()
}

func listSize(e asar.Entry) string {
	if e.Kind != asar.KindFile {
		return "-"
	}
	return units.HumanSize(float64(e.Size))
}

func listName(e asar.Entry) string {
	switch {
	case e.Kind == asar.KindLink:
		return e.Path + " -> " + e.LinkTarget
	case e.Unpacked:
		return e.Path + " (unpacked)"
	case e.Kind == asar.KindDirectory:
		return e.Path + "/"
	default:
		return e.Path
	}
}


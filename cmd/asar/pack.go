package main

import (
	"fmt"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"
	"github.com/woozymasta/pathrules"

	"github.com/meigma/asar"
)

type packOptions struct {
	dir         string
	dest        string
	unpack      []string
	unpackDir   []string
	unpackedDir string
	noIntegrity bool
	blockSize   string
}

func newPackCommand(c *cli) *cobra.Command {
	var opts packOptions

	cmd := &cobra.Command{
		Use:     "pack [OPTIONS] DIR ARCHIVE",
		Aliases: []string{"p"},
		Short:   "Create an archive from a directory",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.dir = args[0]
			opts.dest = args[1]
			return runPack(cmd, c, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringArrayVar(&opts.unpack, "unpack", nil, "Store files matching this pattern in the unpacked directory")
	flags.StringArrayVar(&opts.unpackDir, "unpack-dir", nil, "Store directories matching this pattern in the unpacked directory")
	flags.StringVar(&opts.unpackedDir, "unpacked-dir", "", "Unpacked directory (default ARCHIVE.unpacked)")
	flags.BoolVar(&opts.noIntegrity, "no-integrity", false, "Do not record integrity metadata")
	flags.StringVar(&opts.blockSize, "block-size", "4MiB", "Integrity block size")

	return cmd
}

func runPack(cmd *cobra.Command, c *cli, opts packOptions) error {
	blockSize, err := units.RAMInBytes(opts.blockSize)
	if err != nil {
		return fmt.Errorf("invalid --block-size: %w", err)
	}

	rules := make([]pathrules.Rule, 0, len(opts.unpack)+len(opts.unpackDir))
	for _, pattern := range opts.unpack {
		rules = append(rules, pathrules.Rule{Action: pathrules.ActionInclude, Pattern: pattern})
	}
	for _, pattern := range opts.unpackDir {
		rules = append(rules, pathrules.Rule{Action: pathrules.ActionInclude, Pattern: pattern + "/"})
	}

	packOpts := []asar.PackOption{
		asar.PackWithIntegrity(!opts.noIntegrity),
		asar.PackWithBlockSize(blockSize),
		asar.PackWithLogger(c.log()),
	}
	if len(rules) > 0 {
		packOpts = append(packOpts, asar.PackWithUnpack(rules...))
	}
	if opts.unpackedDir != "" {
		packOpts = append(packOpts, asar.PackWithUnpackedDir(opts.unpackedDir))
	}

	if err := asar.PackFile(cmd.Context(), opts.dir, opts.dest, packOpts...); err != nil {
		return err
	}
	c.log().Info("created archive", "path", opts.dest)
	return nil
}

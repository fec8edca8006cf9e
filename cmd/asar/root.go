package main

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"
)

// cli carries the output streams and logger shared by all commands.
type cli struct {
	out     io.Writer
	err     io.Writer
	verbose bool
	logger  *slog.Logger
}

func newCLI(out, errOut io.Writer) *cli {
	return &cli{out: out, err: errOut}
}

// log returns the logger, falling back to a discard logger if nil.
func (c *cli) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.logger
}

// newRootCommand returns the `asar` command with all subcommands.
func newRootCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "asar",
		Short:         "Inspect, extract and create ASAR archives",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if c.verbose {
				level = slog.LevelDebug
			}
			c.logger = slog.New(slog.NewTextHandler(c.err, &slog.HandlerOptions{Level: level}))
		},
	}
	cmd.SetOut(c.out)
	cmd.SetErr(c.err)
	cmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "Log every archive operation to stderr")

	cmd.AddCommand(
		newListCommand(c),
		newExtractCommand(c),
		newCatCommand(c),
		newPackCommand(c),
	)
	return cmd
}

// Package commands wires the streamsketch command tree: cobra
// subcommands built directly on top of the internal/pipeline,
// internal/hll, internal/bloom, and internal/cms packages, with flags
// layered over environment variables and an optional config file via
// viper (see internal/config).
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCommand builds the streamsketch root command and registers
// every subcommand.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "streamsketch",
		Short: "Streaming cardinality, membership, and frequency summarizer",
		Long: `streamsketch ingests a line-delimited stream and summarizes it with a
HyperLogLog cardinality estimator, a Bloom membership filter, or a
Count-Min frequency sketch, sharded across worker threads and
optionally rotated into fixed-duration buckets.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(NewRunCommand())
	root.AddCommand(NewBenchCommand())

	return root
}

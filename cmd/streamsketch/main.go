// Command streamsketch is the CLI entry point.
package main

import (
	"fmt"
	"os"

	"streamsketch.dev/cmd/streamsketch/commands"
)

func main() {
	root := commands.NewRootCommand()
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cmd/flowgraph/main.go
//
// This is the entry point for the flowgraph CLI. Every subcommand lives in
// its own file; root.go wires configuration and logging shared by all of
// them.

package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

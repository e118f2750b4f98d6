// Package main provides the entry point for the moviechat CLI.
package main

import (
	"fmt"
	"os"

	"github.com/raphaelgruber/moviechat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

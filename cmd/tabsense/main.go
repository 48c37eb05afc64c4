// Package main provides the entry point for the tabsense CLI.
package main

import (
	"os"

	"github.com/tabsense/tabsense/cmd/tabsense/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// Package main is the entry point for the deskcap application.
package main

import (
	"os"

	"github.com/jmylchreest/deskcap/cmd/deskcap/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

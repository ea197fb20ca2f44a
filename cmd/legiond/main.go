// Package main is the entry point for the legiond daemon.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "legiond:", err)
		os.Exit(1)
	}
}

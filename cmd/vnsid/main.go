// Package main is the entry point of the vnsid VNSI server.
package main

import (
	"os"

	"github.com/vnsid/vnsid/cmd/vnsid/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

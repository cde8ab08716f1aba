package main

import (
	"os"

	"github.com/xupit3r/quantforge/cmd/quantforge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}

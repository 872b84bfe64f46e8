package main

import (
	"os"

	"github.com/MEKXH/opsdesk/cmd/opsdesk/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

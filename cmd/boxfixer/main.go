package main

import (
	"os"

	"github.com/moolen/boxfixer/cmd/boxfixer/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}

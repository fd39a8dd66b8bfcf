package main

import (
	"os"

	"github.com/akarol/lore-digest/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/24hmood24/checkserialnum/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

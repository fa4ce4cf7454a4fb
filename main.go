package main

import (
	"os"

	"github.com/conneroisu/livediagram/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

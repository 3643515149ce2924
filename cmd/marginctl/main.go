package main

import (
	"os"

	"github.com/rustyeddy/margin/cmd/marginctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"os"

	"github.com/selcan/mira/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}

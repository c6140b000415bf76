package main

import (
	"os"

	"github.com/nanogit/gitcore-cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

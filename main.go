package main

import (
	"os"

	"subscription-billing/internal/app/cli"
)

var Version = "dev"

func main() {
	if err := cli.Execute(Version); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/queuectl/internal/cli"
)

func main() {
	// Load .env file if it exists; a missing file is not an error for a CLI.
	_ = godotenv.Load()

	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

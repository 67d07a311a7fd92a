/*
PURPOSE:
  Entry point for the seg-trainer application.
  Loads .env and executes the CLI root command.

REQUIREMENTS:
  - Must serve as the single binary entry point.
  - Must handle top-level errors gracefully.

ARCHITECTURE INTEGRATION:
  - Calls: internal/cli.Execute()

ERROR HANDLING:
  - A missing .env file is ignored.
  - Explicit error check on Execute(); exit code 1 on failure.

IMPLEMENTATION RULES:
  - Critical: Keep main() minimal. All logic belongs in internal/ packages.

USAGE:
  go build -o seg-trainer ./cmd/seg-trainer
  ./seg-trainer [command] [flags]
*/

package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/nvidiasamp/NSAMP-WORKSHOP-2024/internal/cli"
)

func main() {
	// SEGTRAIN_* variables may come from a local .env; real env wins.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"dart-trader/internal/cli"
	"dart-trader/internal/logging"
)

func main() {
	// A .env next to the binary may carry credentials; absence is fine.
	_ = godotenv.Load()

	logger := logging.NewLogger()

	rootCmd := cli.NewRootCmd(logger)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

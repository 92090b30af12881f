package main

import (
	"fmt"
	"os"

	"github.com/lpernett/godotenv"
	"go.uber.org/zap"
)

// Load environment variables from .env file
func init() {
	if err := godotenv.Load(); err != nil {
		zap.L().Debug("No .env file loaded", zap.Error(err))
	}
}

func main() {
	app := newCLIApp(os.Stdout)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// Package main is the entry point for the credentis service.
package main

import (
	"os"

	"github.com/credentis/credentis/cmd/credentis/app"
	"github.com/credentis/credentis/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

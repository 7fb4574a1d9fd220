// Package cmd provides the haven CLI commands.
//
// Commands:
//   - serve: run the chat server (HTTP API plus websocket)
//   - migrate: apply database migrations and exit
//
// The serve command installs signal handling and shuts down gracefully
// via context cancellation.
package cmd

import (
	"fmt"
	"os"
)

// Execute is the main entry point for the haven application.
func Execute() error {
	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "migrate":
		return runMigrate()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("Haven - therapy chat server")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  haven serve        Start the chat server")
	fmt.Println("  haven migrate      Apply database migrations and exit")
	fmt.Println("  haven --version    Show version information")
	fmt.Println("  haven --help       Show this help")
	fmt.Println()
	fmt.Println("Configuration is read from ~/.haven/config.yaml and HAVEN_*")
	fmt.Println("environment variables. The serve command requires OPENAI_API_KEY.")
}

package cmd

import (
	"fmt"
	"os"

	"github.com/haven-chat/haven/internal/config"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	GitCommit  = "unknown"
)

func runVersion() {
	fmt.Printf("Haven %s\n", AppVersion)
	fmt.Printf("Git Commit: %s\n", GitCommit)
	fmt.Println()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Configuration: unavailable (%v)\n", err)
		return
	}

	fmt.Println("Configuration:")
	fmt.Printf("  Address: %s\n", cfg.Addr)
	fmt.Printf("  Model: %s\n", cfg.ModelName)
	fmt.Printf("  Database: %s\n", cfg.DatabasePath)
	fmt.Printf("  History window: %d\n", cfg.HistoryWindow)
	fmt.Printf("  Generation timeout: %s\n", cfg.GenerationTimeout)

	key := os.Getenv("OPENAI_API_KEY")
	if key != "" && len(key) > 8 {
		fmt.Printf("  OPENAI_API_KEY: %s...%s (configured)\n", key[:4], key[len(key)-4:])
	} else if key != "" {
		fmt.Println("  OPENAI_API_KEY: configured")
	} else {
		fmt.Println("  OPENAI_API_KEY: Not set")
		fmt.Println()
		fmt.Println("Hint: set OPENAI_API_KEY before running haven serve")
	}
}

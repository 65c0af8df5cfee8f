// Package main implements the memstress binary. It runs the configured
// number of workers against the table, prints the markdown report on stdout
// and exits non-zero when any worker failed.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/arkilian/memstress/internal/app"
	"github.com/arkilian/memstress/internal/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	// Parse command line flags
	var (
		configFile  string
		envFile     string
		dataDir     string
		historyOn   bool
		showVersion bool
		showHelp    bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&envFile, "env-file", ".env", "Optional dotenv file loaded before the environment is read")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for local storage, scratch files and history")
	flag.BoolVar(&historyOn, "history", false, "Save the run to the history database")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "memstress - concurrent columnar write memory stress driver\n\n")
		fmt.Fprintf(os.Stderr, "Usage: memstress [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  NUM_ROWS                      Rows per batch (default 10000000)\n")
		fmt.Fprintf(os.Stderr, "  NUM_LOOPS                     Iterations per worker (default 100)\n")
		fmt.Fprintf(os.Stderr, "  NUM_THREADS                   Number of workers (default 1)\n")
		fmt.Fprintf(os.Stderr, "  NUM_CHARS_IN_WRITTEN_COLUMN   Length of generated strings (default 10)\n")
		fmt.Fprintf(os.Stderr, "  STORAGE_ACCOUNT_NAME          Table account\n")
		fmt.Fprintf(os.Stderr, "  STORAGE_CONTAINER_NAME        Table container\n")
		fmt.Fprintf(os.Stderr, "  STORAGE_TABLE_RELATIVE_PATH   Table path inside the container\n")
		fmt.Fprintf(os.Stderr, "  WRITE_ENABLED                 Append batches to the table (default true)\n")
		fmt.Fprintf(os.Stderr, "  FORCE_GC                      Force a collection after dispose (default true)\n")
		fmt.Fprintf(os.Stderr, "  MEMSTRESS_STORAGE_TYPE        Storage type (local, s3)\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}

	if showVersion {
		fmt.Printf("memstress version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, envFile, dataDir, historyOn)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := application.Run(ctx, os.Stdout); err != nil {
		log.Printf("Run failed: %v", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig loads configuration from file, dotenv, environment, and command
// line flags, in increasing priority.
func loadConfig(configFile, envFile, dataDir string, historyOn bool) (*config.Config, error) {
	var cfg *config.Config
	var err error

	// Start with defaults or load from file
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	} else {
		cfg = config.DefaultConfig()
	}

	if envFile != "" {
		if err := config.LoadDotEnv(envFile); err != nil {
			return nil, err
		}
	}

	// Apply environment variables
	if err := config.LoadFromEnv(cfg); err != nil {
		return nil, err
	}

	// Apply command line flags (highest priority)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if historyOn {
		cfg.History.Enabled = true
	}

	return cfg, nil
}

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/adamroke/ytmp3ify/internal"
	"github.com/adamroke/ytmp3ify/pkg/logger"
)

var log = logger.Get("Main")

// main loads configuration from the given file (or, failing that, the
// environment) and runs the server until interrupted.
func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	flag.Parse()

	if *verbose {
		logger.SetMinLoggingLevel(logger.VERBOSE.Level())
	}

	config := internal.Config{}
	if *configPath != "" {
		if err := config.LoadFromFile(*configPath); err != nil {
			log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
			os.Exit(1)
		}
	} else if err := config.LoadFromEnv(); err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Server stopped with error: %v\n", err)
		os.Exit(1)
	}
}

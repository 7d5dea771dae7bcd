package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/casalist/casalist/internal"
	"github.com/casalist/casalist/pkg/logger"
)

var log = logger.Get("Main")

// main() is the entry point to the program; the users configuration is
// loaded from the path provided (or the default), the services are
// composed, and the server runs until an interrupt is received.
func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	verbosity := flag.Int("verbosity", 2, "minimum log level to emit (0=verbose, 1=debug, 2=info)")
	flag.Parse()

	logger.SetMinLoggingLevel(*verbosity)

	config := internal.CasalistConfig{}
	if err := config.LoadFromFile(*configPath); err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go listenForInterrupt(cancel)

	if err := internal.New(config).Run(ctx); err != nil {
		log.Emit(logger.FATAL, "Casalist exited with error: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.STOP, "Casalist shutdown complete\n")
}

func listenForInterrupt(cancel context.CancelFunc) {
	exitChannel := make(chan os.Signal, 1)
	signal.Notify(exitChannel, os.Interrupt, syscall.SIGTERM)

	<-exitChannel
	log.Emit(logger.STOP, "Interrupt received, shutting down...\n")
	cancel()
}

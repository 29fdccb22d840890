package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"pqproxy/infrastructure/logging"
	"pqproxy/presentation"
	"pqproxy/settings"
)

// Exit codes: 0 normal shutdown, 1 configuration error, 2 handshake failure
// before any traffic, 3 fatal runtime error.
const (
	exitOK        = 0
	exitConfig    = 1
	exitHandshake = 2
	exitRuntime   = 3
)

func main() {
	logger := logging.NewLogLogger()

	if len(os.Args) > 1 {
		if err := os.Setenv(settings.ConfigPathEnv, os.Args[1]); err != nil {
			log.Printf("failed to set config path: %v", err)
			os.Exit(exitConfig)
		}
	}

	conf, err := settings.NewManager(settings.NewDefaultResolver()).Configuration()
	if err != nil {
		log.Printf("configuration error: %v", err)
		os.Exit(exitConfig)
	}

	appCtx, appCtxCancel := context.WithCancel(context.Background())
	defer appCtxCancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		<-sigChan
		logger.Printf("interrupt received, shutting down")
		appCtxCancel()
	}()

	logger.Printf("starting %s proxy, initial suite %s", conf.Role, conf.InitialSuiteID)
	err = presentation.NewProxyRunner(conf, logger).Run(appCtx)
	switch {
	case err == nil:
		os.Exit(exitOK)
	case errors.Is(err, presentation.ErrHandshake):
		log.Printf("handshake failure: %v", err)
		os.Exit(exitHandshake)
	default:
		log.Printf("fatal runtime error: %v", err)
		os.Exit(exitRuntime)
	}
}

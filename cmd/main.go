package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/saker-ai/render-bridge/pkg/runtime"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to a config file (default: conf.yaml lookup)")
	pflag.Parse()

	srv, err := runtime.New(*configPath)
	if err != nil {
		fallback, _ := zap.NewProduction()
		defer fallback.Sync()
		fallback.Fatal("failed to start render bridge", zap.Error(err))
	}
	logger := srv.Logger()
	defer logger.Sync()

	runErr := make(chan error, 1)
	go func() {
		runErr <- srv.Run()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-runErr:
		if err != nil {
			logger.Error("render bridge stopped", zap.Error(err))
			os.Exit(1)
		}
		// Run returns early without a control panel; keep the listener up.
		sig := <-stop
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("render bridge shutdown failed", zap.Error(err))
	}
}

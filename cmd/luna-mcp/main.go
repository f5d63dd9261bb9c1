package main

import (
	"context"
	log "log/slog"
	"os"
	"os/signal"

	cli "github.com/spf13/pflag"

	"luna/internal/app"
	"luna/internal/config"
	"luna/internal/mcp"
)

func main() {
	envFile := cli.StringP("env", "e", ".env", "Env file path")
	logLevel := cli.StringP("log", "l", "info", "Log level")
	cli.Parse()

	// stdout carries the protocol
	app.SetupLogging(os.Stderr, *logLevel)

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Error("Failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := app.Open(ctx, cfg, app.Options{SkipMCP: true})
	if err != nil {
		log.Error("Startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-a.Actions.ShutdownRequested():
			cancel()
		case <-ctx.Done():
		}
	}()

	log.Info("Serving actions over stdio", "actions", len(a.Actions.Names()))
	// a shutdown call ends the session at the next request
	if err := mcp.NewServer(a.Actions).Serve(ctx, os.Stdin, os.Stdout); err != nil && ctx.Err() == nil {
		log.Error("MCP server failed", "err", err)
		os.Exit(1)
	}
}

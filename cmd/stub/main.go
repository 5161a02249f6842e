package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"

	"github.com/containr/signup/internal/config"
	"github.com/containr/signup/internal/server"
)

// options override the environment configuration.
type options struct {
	Port        int    `short:"p" long:"port" description:"listen port (PORT)"`
	FrontendURL string `long:"frontend-url" description:"allowed cross-origin frontend (FRONTEND_URL)"`
	BodyLimit   int64  `long:"body-limit" description:"maximum parsed request body in bytes"`
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "stub: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	opts := &options{}
	if _, err := flags.ParseArgs(opts, args); err != nil {
		if flags.WroteHelp(err) {
			return nil
		}
		return err
	}

	cfg, err := config.ParseStub()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if opts.Port != 0 {
		cfg.Server.Port = opts.Port
	}
	if opts.FrontendURL != "" {
		cfg.FrontendURL = opts.FrontendURL
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	srv := server.NewStub(server.Config{
		Name:   "stub",
		Addr:   cfg.Server.Addr(),
		Logger: logger,
	}, server.StubConfig{
		FrontendURL: cfg.FrontendURL,
		BodyLimit:   opts.BodyLimit,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errc := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-quit:
	}
	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

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
	"github.com/containr/signup/internal/domain"
	"github.com/containr/signup/internal/handler"
	"github.com/containr/signup/internal/identity"
	"github.com/containr/signup/internal/identity/hosted"
	"github.com/containr/signup/internal/identity/local"
	"github.com/containr/signup/internal/providers/google"
	"github.com/containr/signup/internal/registration"
	"github.com/containr/signup/internal/seal"
	"github.com/containr/signup/internal/server"
	"github.com/containr/signup/internal/state"
)

// options override the environment configuration.
type options struct {
	Host      string `long:"host" description:"listen host (HOST)"`
	Port      int    `short:"p" long:"port" description:"listen port (PORT)"`
	Provider  string `long:"identity-provider" choice:"local" choice:"hosted" description:"identity provider (IDENTITY_PROVIDER)"`
	LogLevel  string `long:"log-level" description:"log level (LOG_LEVEL)"`
	LogFormat string `long:"log-format" choice:"text" choice:"json" description:"log format (LOG_FORMAT)"`
}

func (o *options) apply(cfg *config.SignupConfig) {
	if o.Host != "" {
		cfg.Server.Host = o.Host
	}
	if o.Port != 0 {
		cfg.Server.Port = o.Port
	}
	if o.Provider != "" {
		cfg.Identity.Provider = o.Provider
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}
}

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "signup: %v\n", err)
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

	cfg, err := config.ParseSignup()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := config.NewLogger(cfg.Log, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	codec, err := seal.NewCodec([]byte(cfg.CookieKey), cfg.FlowTTL)
	if err != nil {
		return fmt.Errorf("creating cookie codec: %w", err)
	}

	factory, oauthProviders, err := newIdentity(cfg, logger)
	if err != nil {
		return err
	}
	logger.Info("identity provider ready", "provider", cfg.Identity.Provider, "oauth", oauthProviders)

	store := registration.NewStore(factory, cfg.FlowTTL,
		registration.WithTimeout(cfg.Identity.Timeout),
		registration.WithLogger(logger),
		registration.WithOAuthProviders(oauthProviders...),
	)

	srv := server.NewRegistration(server.Config{
		Name:   "signup",
		Addr:   cfg.Server.Addr(),
		Logger: logger,
	}, server.RegistrationDeps{
		Visitors: handler.NewVisitors(store, codec, cfg.PublicURL, logger),
	})

	return serve(srv, logger)
}

// newIdentity builds the identity client factory and the OAuth providers it
// can offer.
func newIdentity(cfg *config.SignupConfig, logger *slog.Logger) (identity.Factory, []string, error) {
	switch cfg.Identity.Provider {
	case config.ProviderHosted:
		p, err := hosted.New(hosted.Config{
			BaseURL:        cfg.Identity.APIURL,
			PublishableKey: cfg.Identity.PublishableKey,
			PublicURL:      cfg.PublicURL,
			Timeout:        cfg.Identity.Timeout,
			Logger:         logger,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("creating hosted identity provider: %w", err)
		}
		return p, []string{"google"}, nil
	}

	providers := identity.NewRegistry()
	if cfg.Google.Enabled() {
		p := google.New(google.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			Scopes:       cfg.Google.Scopes,
			CallbackURL:  cfg.PublicURL + domain.RouteSSO,
		})
		if err := providers.Register(p); err != nil {
			return nil, nil, fmt.Errorf("registering google provider: %w", err)
		}
	}

	p, err := local.New(local.Config{
		SigningKey: []byte(cfg.Identity.SessionSigningKey),
		State:      state.NewService([]byte(cfg.Identity.StateSigningKey)),
		Providers:  providers,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("creating local identity provider: %w", err)
	}
	return p, p.OAuthProviders(), nil
}

func serve(srv *server.Server, logger *slog.Logger) error {
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

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}

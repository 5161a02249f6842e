package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/containr/signup/internal/handler"
)

// Config holds the listener settings.
type Config struct {
	Name   string
	Addr   string
	Logger *slog.Logger
}

// RegistrationDeps holds what the registration routes need.
type RegistrationDeps struct {
	Visitors *handler.Visitors
}

// StubConfig holds the backend stub's cross-origin policy.
type StubConfig struct {
	FrontendURL string
	BodyLimit   int64
}

// Server wraps the HTTP server and router.
type Server struct {
	name       string
	logger     *slog.Logger
	httpServer *http.Server
	handler    http.Handler
}

// NewRegistration creates the registration server with all routes wired.
func NewRegistration(cfg Config, deps RegistrationDeps) *Server {
	r := newRouter(cfg)
	r.Get("/health", handler.Health(cfg.Name))
	r.Get("/", handler.RegisterPage(deps.Visitors))
	r.Post("/signup", handler.SignUp(deps.Visitors))
	r.Post("/verify", handler.Verify(deps.Visitors))
	r.Post("/oauth/{provider}", handler.OAuth(deps.Visitors))
	r.Get("/sso", handler.SSO(deps.Visitors))
	r.Get("/home", handler.Home(deps.Visitors))
	return newServer(cfg, r)
}

// NewStub creates the backend stub: a liveness route behind a single-origin
// credentialed CORS policy and up-front body parsing.
func NewStub(cfg Config, stub StubConfig) *Server {
	r := newRouter(cfg)
	cors := &Cors{Origin: stub.FrontendURL, AllowCredentials: true}
	r.Use(cors.Middleware)
	r.Use(BodyParser(stub.BodyLimit))

	r.Get("/", handler.Hello())
	r.Get("/health", handler.Health(cfg.Name))
	return newServer(cfg, r)
}

func newRouter(cfg Config) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger(loggerOf(cfg)))
	r.Use(middleware.Recoverer)
	return r
}

func newServer(cfg Config, h http.Handler) *Server {
	return &Server{
		name:    cfg.Name,
		logger:  loggerOf(cfg),
		handler: h,
		httpServer: &http.Server{
			Addr:              cfg.Addr,
			Handler:           h,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      45 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

func loggerOf(cfg Config) *slog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return slog.Default()
}

// Handler returns the server's HTTP handler (for testing).
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening and serving.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.httpServer.Addr, err)
	}
	s.logger.Info("listening", "service", s.name, "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

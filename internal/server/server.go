// Package server wires storage, the grant manager, and the HTTP surface
// together. One Server instance owns the process's single grant manager.
package server

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mhollis/supportgate/internal/grant"
	"github.com/mhollis/supportgate/internal/handler"
	"github.com/mhollis/supportgate/internal/middleware"
	"github.com/mhollis/supportgate/internal/roles"
	"github.com/mhollis/supportgate/internal/store"
	"github.com/mhollis/supportgate/internal/token"
	ws "github.com/mhollis/supportgate/internal/websocket"
)

// Config is the server's explicit configuration; main assembles it from the
// environment and New validates it.
type Config struct {
	// BaseURL is the externally reachable URL minted access links use.
	BaseURL string

	// AdminKey guards the grant management API. Required; there is no
	// open-by-default mode.
	AdminKey string
}

type Server struct {
	db           *sql.DB
	hub          *ws.Hub
	manager      *grant.Manager
	scheduler    *grant.Scheduler
	sessionStore *store.SessionStore
	accessH      *handler.AccessHandler
	grantH       *handler.GrantHandler
	adminKey     string
	logger       *slog.Logger
}

func New(db *sql.DB, cfg Config, registry *roles.Registry, logger *slog.Logger) (*Server, error) {
	if cfg.AdminKey == "" {
		return nil, fmt.Errorf("admin key is required")
	}

	settingsStore := store.NewSettingsStore(db)
	secret, err := settingsStore.EnsureSigningSecret()
	if err != nil {
		return nil, fmt.Errorf("signing secret: %w", err)
	}
	codec, err := token.NewCodec(secret)
	if err != nil {
		return nil, fmt.Errorf("token codec: %w", err)
	}

	grantStore := store.NewGrantStore(db)
	accountStore := store.NewAccountStore(db)
	sessionStore := store.NewSessionStore(db)

	hub := ws.NewHub(logger.With("component", "websocket"))

	manager, err := grant.New(
		grant.Config{BaseURL: cfg.BaseURL},
		grantStore, accountStore, sessionStore,
		codec, registry, hub,
		logger.With("component", "grant"),
	)
	if err != nil {
		return nil, err
	}

	scheduler := grant.NewScheduler(manager, sessionStore, logger.With("component", "reaper"))

	return &Server{
		db:           db,
		hub:          hub,
		manager:      manager,
		scheduler:    scheduler,
		sessionStore: sessionStore,
		accessH:      handler.NewAccessHandler(manager, logger.With("component", "access")),
		grantH:       handler.NewGrantHandler(manager, logger.With("component", "grants")),
		adminKey:     cfg.AdminKey,
		logger:       logger,
	}, nil
}

// Manager returns the grant manager.
func (s *Server) Manager() *grant.Manager {
	return s.manager
}

// Scheduler returns the reap scheduler so main can start and stop it.
func (s *Server) Scheduler() *grant.Scheduler {
	return s.scheduler
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	// Public: the dispatcher handles the landing page and token redemption.
	mux.HandleFunc("GET /{$}", s.accessH.Dispatch)
	mux.HandleFunc("GET /health", s.healthHandler)

	// Session-protected admin area for redeemed grants.
	requireSession := middleware.RequireSession(s.sessionStore)
	mux.Handle("GET /admin", requireSession(http.HandlerFunc(handler.Whoami)))

	// Operator API, guarded by the admin key.
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/grants", s.grantH.Create)
	apiMux.HandleFunc("GET /api/grants", s.grantH.List)
	apiMux.HandleFunc("DELETE /api/grants/{id}", s.grantH.Delete)
	apiMux.HandleFunc("POST /api/grants/{id}/rotate", s.grantH.Rotate)
	apiMux.Handle("GET /api/grants/ws", ws.Handle(s.hub, s.logger.With("component", "websocket")))

	requireAdminKey := middleware.RequireAdminKey(s.adminKey)
	mux.Handle("/api/", requireAdminKey(apiMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// Package api is the thin HTTP boundary around the core: account CRUD,
// connect/disconnect, sync and fetch operations, search, and the WebSocket
// event push.
package api

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailwatch/internal/config"
	"github.com/brandon/mailwatch/internal/events"
	"github.com/brandon/mailwatch/internal/mail"
	"github.com/brandon/mailwatch/internal/store"
)

// Server hosts the HTTP API.
type Server struct {
	echo     *echo.Echo
	cfg      *config.Config
	manager  *mail.Manager
	store    *store.Store
	notifier *events.Notifier
	logger   *logrus.Logger
}

// NewServer builds the echo instance and registers all routes.
func NewServer(cfg *config.Config, manager *mail.Manager, st *store.Store, notifier *events.Notifier, logger *logrus.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:     e,
		cfg:      cfg,
		manager:  manager,
		store:    st,
		notifier: notifier,
		logger:   logger,
	}

	g := e.Group("/api")
	g.POST("/accounts", s.CreateAccount)
	g.GET("/accounts", s.ListAccounts)
	g.DELETE("/accounts/:id", s.DeleteAccount)
	g.POST("/accounts/:id/connect", s.ConnectAccount)
	g.POST("/accounts/:id/disconnect", s.DisconnectAccount)
	g.POST("/accounts/:id/sync", s.SyncAccount)
	g.GET("/accounts/:id/fetch", s.FetchMessages)
	g.GET("/accounts/:id/messages", s.ListMessages)
	g.GET("/search", s.Search)
	g.POST("/search/advanced", s.AdvancedSearch)

	e.GET("/ws", s.ServeWS)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return s
}

// Start begins serving on the configured address and blocks.
func (s *Server) Start() error {
	return s.echo.Start(s.cfg.ListenAddr)
}

// Shutdown stops the HTTP server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the underlying router for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

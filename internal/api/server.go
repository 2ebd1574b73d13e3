// Package api exposes the ledger over HTTP with a chi router.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"voltledger/internal/middleware"
	"voltledger/internal/realtime"
	"voltledger/internal/service"
	"voltledger/internal/store"
)

type Options struct {
	Store          store.Store
	Users          *service.UserService
	Tasks          *service.TaskService
	Wallet         *service.WalletService
	Hub            *realtime.Hub
	Logger         *zap.Logger
	JWTSecret      string
	JWTTTL         time.Duration
	AdminSecret    string
	IPNSecret      string
	AllowedOrigins []string
}

type Server struct {
	store          store.Store
	users          *service.UserService
	tasks          *service.TaskService
	wallet         *service.WalletService
	hub            *realtime.Hub
	auth           *middleware.Authenticator
	logger         *zap.Logger
	adminSecret    string
	ipnSecret      string
	allowedOrigins []string
	router         *chi.Mux
}

func NewServer(o Options) *Server {
	s := &Server{
		store:          o.Store,
		users:          o.Users,
		tasks:          o.Tasks,
		wallet:         o.Wallet,
		hub:            o.Hub,
		logger:         o.Logger,
		adminSecret:    o.AdminSecret,
		ipnSecret:      o.IPNSecret,
		allowedOrigins: o.AllowedOrigins,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	s.auth = middleware.NewAuthenticator(o.JWTSecret, o.JWTTTL, s.writeError)
	s.router = s.RegisterRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

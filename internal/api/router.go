package api

import (
	"database/sql"
	"net/http"

	"github.com/erazemk/predaja/internal/auth"
	"github.com/erazemk/predaja/internal/handover"
	"github.com/erazemk/predaja/internal/inventory"
	"github.com/erazemk/predaja/internal/lock"
	"github.com/erazemk/predaja/internal/model"
	"github.com/erazemk/predaja/internal/obs"
	"github.com/erazemk/predaja/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Options configures the API.
type Options struct {
	DB          *sql.DB
	Issuer      *auth.Issuer
	Locker      lock.Locker
	Metrics     *obs.Metrics
	LoginRate   float64
	LoginBurst  int
	CORSOrigins []string
	PageLimit   int
}

// Server holds the dependencies shared by the handlers.
type Server struct {
	DB        *sql.DB
	Issuer    *auth.Issuer
	Handovers *handover.Service
	Inventory *inventory.Service
	Metrics   *obs.Metrics
	PageLimit int

	loginLimiter *RateLimiter
}

// NewServer wires the services from opts, filling in defaults.
func NewServer(opts Options) *Server {
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	if opts.Metrics == nil {
		opts.Metrics = obs.New()
	}
	if opts.PageLimit < 1 {
		opts.PageLimit = store.DefaultPageLimit
	}
	if opts.LoginRate <= 0 || opts.LoginBurst < 1 {
		opts.LoginRate, opts.LoginBurst = 0.2, 5
	}
	return &Server{
		DB:           opts.DB,
		Issuer:       opts.Issuer,
		Handovers:    handover.New(opts.DB, opts.Locker, opts.Metrics),
		Inventory:    inventory.New(opts.DB, opts.Locker, opts.Metrics),
		Metrics:      opts.Metrics,
		PageLimit:    opts.PageLimit,
		loginLimiter: NewRateLimiter(opts.LoginRate, opts.LoginBurst),
	}
}

// NewRouter creates the HTTP handler with all endpoints and middleware.
func NewRouter(opts Options) http.Handler {
	s := NewServer(opts)
	handler := s.Metrics.Instrument(s.Routes())
	handler = MaxBodyBytes(maxBodyBytes)(handler)
	handler = CORS(opts.CORSOrigins)(handler)
	handler = LoggingMiddleware(handler)
	return RequestIDMiddleware(handler)
}

// Routes registers every endpoint on a new mux.
func (s *Server) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	authed := func(h http.HandlerFunc) http.Handler { return s.AuthMiddleware(h) }
	with := func(c model.Capability, h http.HandlerFunc) http.Handler {
		return s.AuthMiddleware(Require(c)(h))
	}

	// Public.
	mux.HandleFunc("GET /api/health", s.Health)
	mux.Handle("GET /metrics", s.Metrics.Handler())
	mux.Handle("POST /api/auth/login", s.loginLimiter.Middleware(http.HandlerFunc(s.Login)))

	// Own account.
	mux.Handle("GET /api/auth/me", authed(s.Me))
	mux.Handle("PUT /api/auth/password", authed(s.ChangePassword))
	mux.Handle("POST /api/auth/logout", authed(s.Logout))

	// Users (admin only).
	mux.Handle("GET /api/users", with(model.CapManageUsers, s.ListUsers))
	mux.Handle("POST /api/users", with(model.CapManageUsers, s.CreateUser))
	mux.Handle("GET /api/users/{id}", with(model.CapManageUsers, s.GetUser))
	mux.Handle("PUT /api/users/{id}", with(model.CapManageUsers, s.UpdateUser))
	mux.Handle("PUT /api/users/{id}/password", with(model.CapManageUsers, s.ResetPassword))
	mux.Handle("DELETE /api/users/{id}", with(model.CapManageUsers, s.DeleteUser))

	// Products. The services check capabilities themselves.
	mux.Handle("GET /api/products", authed(s.ListProducts))
	mux.Handle("POST /api/products", authed(s.CreateProduct))
	mux.Handle("POST /api/products/compact", authed(s.CompactProducts))
	mux.Handle("GET /api/products/{id}", authed(s.GetProduct))
	mux.Handle("PUT /api/products/{id}", authed(s.UpdateProduct))
	mux.Handle("DELETE /api/products/{id}", authed(s.DeleteProduct))
	mux.Handle("POST /api/products/{id}/stock", authed(s.AdjustStock))

	// Handovers.
	mux.Handle("GET /api/handovers", authed(s.ListHandovers))
	mux.Handle("GET /api/handovers/stats", authed(s.HandoverStats))
	mux.Handle("POST /api/handovers", authed(s.CreateDirectHandover))
	mux.Handle("POST /api/handovers/requests", authed(s.CreateHandoverRequest))
	mux.Handle("GET /api/handovers/{id}", authed(s.GetHandover))
	mux.Handle("DELETE /api/handovers/{id}", authed(s.DeleteHandover))
	mux.Handle("POST /api/handovers/{id}/approve", authed(s.ApproveHandover))
	mux.Handle("POST /api/handovers/{id}/reject", authed(s.RejectHandover))
	mux.Handle("POST /api/handovers/{id}/return", authed(s.ReturnHandover))
	mux.Handle("POST /api/handovers/{id}/mark-returned", authed(s.MarkHandoverReturned))

	return mux
}

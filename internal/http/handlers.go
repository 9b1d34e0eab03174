package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/campus-rides/internal/community"
	"github.com/example/campus-rides/internal/dispatch"
	"github.com/example/campus-rides/internal/reputation"
	"github.com/example/campus-rides/internal/rides"
	"github.com/example/campus-rides/internal/storage"
	"github.com/example/campus-rides/internal/users"
)

// StatsReader serves the per-community counters kept by the consumer.
type StatsReader interface {
	Community(ctx context.Context, n community.Name) (map[string]int64, error)
}

type Deps struct {
	Users   *users.Service
	Rides   *rides.Service
	Ratings *reputation.Service
	Stats   StatsReader
	Places  PlaceFinder
	WS      *dispatch.WSRegistry
	// Checks are pinged by /ready, keyed by dependency name.
	Checks      map[string]storage.Pinger
	CORSOrigins []string
	Logger      *slog.Logger
}

type Server struct {
	users    *users.Service
	rides    *rides.Service
	ratings  *reputation.Service
	stats    StatsReader
	places   PlaceFinder
	ws       *dispatch.WSRegistry
	checks   map[string]storage.Pinger
	logger   *slog.Logger
	validate *validator.Validate
	upgrader websocket.Upgrader
	mux      *mux.Router
	handler  http.Handler
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.WS == nil {
		d.WS = dispatch.NewWSRegistry(d.Logger)
	}
	s := &Server{
		users:    d.Users,
		rides:    d.Rides,
		ratings:  d.Ratings,
		stats:    d.Stats,
		places:   d.Places,
		ws:       d.WS,
		checks:   d.Checks,
		logger:   d.Logger,
		validate: newValidator(),
		upgrader: websocket.Upgrader{CheckOrigin: originChecker(d.CORSOrigins)},
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	s.handler = corsMiddleware(d.CORSOrigins)(s.mux)
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
	}).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())

	s.mux.HandleFunc("/signup", s.handleSignup).Methods("POST")
	s.mux.HandleFunc("/verify", s.handleVerify).Methods("POST")
	s.mux.HandleFunc("/resend-verification", s.handleResendVerification).Methods("POST")
	s.mux.HandleFunc("/login", s.handleLogin).Methods("POST")
	s.mux.HandleFunc("/forgot-password", s.handleForgotPassword).Methods("POST")
	s.mux.HandleFunc("/reset-password", s.handleResetPassword).Methods("POST")
	s.mux.HandleFunc("/me", s.requireAuth(s.handleMe)).Methods("GET")
	s.mux.HandleFunc("/me", s.requireAuth(s.handleDeleteMe)).Methods("DELETE")
	s.mux.HandleFunc("/community-options", s.requireAuth(s.handleCommunityOptions)).Methods("GET")
	s.mux.HandleFunc("/refresh-university-info", s.requireAuth(s.handleRefreshUniversity)).Methods("POST")

	s.mux.HandleFunc("/ride-request", s.requireAuth(s.handleCreateRide)).Methods("POST")
	s.mux.HandleFunc("/ride-requests", s.requireAuth(s.handleListRides)).Methods("GET")
	s.mux.HandleFunc("/ride-requests/mine", s.requireAuth(s.handleListMine)).Methods("GET")
	s.mux.HandleFunc("/ride-request/{id}", s.requireAuth(s.handleGetRide)).Methods("GET")
	s.mux.HandleFunc("/ride-request/{id}", s.requireAuth(s.handleDeleteRide)).Methods("DELETE")
	s.mux.HandleFunc("/ride-request/{id}/join", s.requireAuth(s.handleJoin)).Methods("POST")
	s.mux.HandleFunc("/ride-request/{id}/participants/{email}/approve", s.requireAuth(s.handleDecide(true))).Methods("POST")
	s.mux.HandleFunc("/ride-request/{id}/participants/{email}/decline", s.requireAuth(s.handleDecide(false))).Methods("POST")
	s.mux.HandleFunc("/ride-request/{id}/leave", s.requireAuth(s.handleLeave)).Methods("POST")
	s.mux.HandleFunc("/ride-request/{id}/complete", s.requireAuth(s.handleComplete)).Methods("POST")
	s.mux.HandleFunc("/ride-request/{id}/cancel", s.requireAuth(s.handleCancel)).Methods("POST")
	s.mux.HandleFunc("/ride-request/{id}/rate", s.requireAuth(s.handleRate)).Methods("POST")

	s.mux.HandleFunc("/places/autocomplete", s.requireAuth(s.handleAutocomplete)).Methods("GET")
	s.mux.HandleFunc("/places/details", s.requireAuth(s.handlePlaceDetails)).Methods("GET")

	s.mux.HandleFunc("/communities/{name}/stats", s.requireAuth(s.handleCommunityStats)).Methods("GET")
	s.mux.HandleFunc("/ws", s.requireAuth(s.handleWS)).Methods("GET")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.handler.ServeHTTP(w, r) }

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	failed := map[string]string{}
	for name, p := range s.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failed": failed})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

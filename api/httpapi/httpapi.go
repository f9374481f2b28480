// Package httpapi exposes the leaderboard directory, the auth routes,
// and the admin console over HTTP. The admin surface is guarded by the
// session/role gate: anonymous callers are redirected to the auth entry
// point, authenticated non-admins back to the public view.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	wsadapter "rankboard/adapters/websocket"
	"rankboard/core"
	"rankboard/engine"
	"rankboard/metrics"
	"rankboard/realtime"
	"rankboard/session"
	"rankboard/stats"
)

// Options configures the HTTP API surface.
type Options struct {
	// PathPrefix, if set, is prepended to all routes (e.g., "/api").
	PathPrefix string
	// AllowCORSOrigin, if non-empty, enables basic CORS with the given origin (use "*" for any).
	AllowCORSOrigin string
	// RateLimitEnabled toggles rate limiting.
	RateLimitEnabled bool
	// RateLimitRPM is the allowed requests per minute per client key.
	RateLimitRPM int
	// RateLimitBurst defines burst capacity.
	RateLimitBurst int
	// MetricsEnabled mounts the Prometheus endpoint and HTTP middleware.
	MetricsEnabled bool
	// AuthPath is where anonymous callers of admin routes are sent.
	AuthPath string
	// PublicPath is where authenticated non-admins are sent.
	PublicPath string
	// Stats, if non-nil, mounts the aggregated report at /stats.
	Stats *stats.Collector
}

func (o *Options) defaults() {
	if o.AuthPath == "" {
		o.AuthPath = "/auth"
	}
	if o.PublicPath == "" {
		o.PublicPath = "/"
	}
}

// Server owns per-session consoles and serves all routes. Consoles are
// created lazily per session token and torn down when the session is
// invalidated, from this process or any other.
type Server struct {
	storage   engine.Storage
	directory *engine.Directory
	hub       *realtime.Hub
	sessions  *session.Manager
	gate      *session.Gate
	logger    *slog.Logger
	opts      Options

	mu       sync.Mutex
	consoles map[string]*engine.Console

	subID int
	done  chan struct{}
}

func NewServer(storage engine.Storage, directory *engine.Directory, hub *realtime.Hub, sessions *session.Manager, gate *session.Gate, logger *slog.Logger, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	opts.defaults()
	s := &Server{
		storage:   storage,
		directory: directory,
		hub:       hub,
		sessions:  sessions,
		gate:      gate,
		logger:    logger,
		opts:      opts,
		consoles:  map[string]*engine.Console{},
		done:      make(chan struct{}),
	}
	id, events := sessions.Subscribe(32)
	s.subID = id
	go s.watchSessions(events)
	return s
}

// Close stops the session watcher.
func (s *Server) Close() {
	s.sessions.Unsubscribe(s.subID)
	<-s.done
}

// watchSessions deactivates consoles whose session was invalidated
// anywhere, not just through this server's sign-out route.
func (s *Server) watchSessions(events <-chan session.Event) {
	defer close(s.done)
	for ev := range events {
		if ev.Type != session.EventSignedOut {
			continue
		}
		s.mu.Lock()
		c, ok := s.consoles[ev.Token]
		delete(s.consoles, ev.Token)
		s.mu.Unlock()
		if ok {
			c.Deactivate()
		}
	}
}

// consoleFor returns the console bound to token, creating and loading
// it on first use.
func (s *Server) consoleFor(ctx context.Context, token string) *engine.Console {
	s.mu.Lock()
	c, ok := s.consoles[token]
	if !ok {
		c = engine.NewConsole(s.storage, s.sessions.CloserFor(token), s.logger)
		s.consoles[token] = c
		s.mu.Unlock()
		if err := c.Load(ctx); err != nil {
			s.logger.Warn("initial console load failed", "error", err)
		}
		return c
	}
	s.mu.Unlock()
	return c
}

// Router builds the chi router for the configured surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if s.opts.MetricsEnabled {
		r.Use(metrics.Middleware)
	}

	r.Route(routePrefix(s.opts.PathPrefix), func(r chi.Router) {
		r.Get("/healthz", s.handleHealth)
		if s.opts.MetricsEnabled {
			r.Method(http.MethodGet, "/metrics", metrics.Handler())
		}

		// Public directory view.
		r.Get("/leaderboards", s.handleDirectory)
		r.Post("/leaderboards/refresh", s.handleRefresh)
		if s.opts.Stats != nil {
			r.Method(http.MethodGet, "/stats", s.opts.Stats.Handler())
		}
		if s.hub != nil {
			r.Handle("/ws", wsadapter.Handler(s.hub))
		}

		// Auth entry point.
		r.Post("/auth/session", s.handleSignIn)
		r.Get("/auth/session", s.handleSessionState)
		r.Delete("/auth/session", s.handleSignOut)

		// Admin console, behind the gate.
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/state", s.handleConsoleState)
			r.Post("/sign-out", s.handleConsoleSignOut)

			r.Post("/leaderboards", s.handleCreateLeaderboard)
			r.Put("/leaderboards/{id}", s.handleEditLeaderboard)
			r.Delete("/leaderboards/{id}", s.handleDeleteLeaderboard)
			r.Post("/leaderboards/{id}/select", s.handleSelectLeaderboard)

			r.Post("/entries", s.handleCreateEntry)
			r.Put("/entries/{id}", s.handleEditEntry)
			r.Post("/entries/{id}/points", s.handleAddPoints)
			r.Delete("/entries/{id}", s.handleDeleteEntry)
		})
	})

	var handler http.Handler = r
	if s.opts.AllowCORSOrigin != "" {
		handler = withCORS(handler, s.opts.AllowCORSOrigin)
	}
	if s.opts.RateLimitEnabled && s.opts.RateLimitRPM > 0 && s.opts.RateLimitBurst > 0 {
		handler = withRateLimit(handler, s.opts.RateLimitRPM, s.opts.RateLimitBurst)
	}
	return handler
}

func routePrefix(prefix string) string {
	if prefix == "" || prefix == "/" {
		return "/"
	}
	return "/" + strings.Trim(prefix, "/")
}

type ctxKey int

const consoleKey ctxKey = iota

// requireAdmin enforces the session/role gate on admin routes. Both
// denial cases are hard redirects, not notices: 303 to the auth entry
// point for anonymous callers, 303 to the public view for
// authenticated non-admins.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		state, _, err := s.gate.Check(r.Context(), token)
		if err != nil {
			s.logger.Warn("gate check degraded", "error", err)
		}
		switch state {
		case session.StateAuthenticatedAdmin:
			c := s.consoleFor(r.Context(), token)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), consoleKey, c)))
		case session.StateAuthenticatedNonAdmin:
			w.Header().Set("Location", s.opts.PublicPath)
			writeStatusError(w, http.StatusSeeOther, "not_authorized",
				"You don't have permission to access the admin console", nil)
		default:
			w.Header().Set("Location", s.opts.AuthPath)
			writeStatusError(w, http.StatusSeeOther, "no_session", "sign in required", nil)
		}
	})
}

func consoleFrom(r *http.Request) *engine.Console {
	c, _ := r.Context().Value(consoleKey).(*engine.Console)
	return c
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// Public handlers

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_, err := s.storage.ListLeaderboards(r.Context())
	status := map[string]any{
		"status": "healthy",
		"checks": map[string]any{
			"storage": "ok",
		},
	}
	if err != nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		status["status"] = "unhealthy"
		status["checks"].(map[string]any)["storage"] = "failed"
	} else {
		w.WriteHeader(http.StatusOK)
	}
	writeJSON(w, status)
}

// directoryResponse is the public view: the snapshot plus its loading
// indicators. Medals are derived server-side for convenience; the rank
// itself stays authoritative.
type directoryResponse struct {
	Snapshot   engine.Snapshot             `json:"snapshot"`
	Loading    bool                        `json:"loading"`
	Refreshing bool                        `json:"refreshing"`
	Medals     map[core.EntryID]core.Medal `json:"medals,omitempty"`
}

func (s *Server) handleDirectory(w http.ResponseWriter, _ *http.Request) {
	snap := s.directory.Snapshot()
	medals := map[core.EntryID]core.Medal{}
	for _, entries := range snap.EntriesByBoard {
		for _, e := range entries {
			if m := core.MedalFor(e.DisplayRank()); m != core.MedalNone {
				medals[e.ID] = m
			}
		}
	}
	writeJSON(w, directoryResponse{
		Snapshot:   snap,
		Loading:    s.directory.Loading(),
		Refreshing: s.directory.Refreshing(),
		Medals:     medals,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.directory.Refresh(r.Context()); err != nil {
		// The stale snapshot stays served; the caller learns the refresh
		// itself failed.
		s.mapError(w, err)
		return
	}
	s.handleDirectory(w, r)
}

// Auth handlers

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token string        `json:"token,omitempty"`
	State session.State `json:"state"`
	Email string        `json:"email,omitempty"`
}

func (s *Server) handleSignIn(w http.ResponseWriter, r *http.Request) {
	// An already-authenticated admin is sent straight through.
	if token := bearerToken(r); token != "" {
		if state, sess, _ := s.gate.Check(r.Context(), token); state == session.StateAuthenticatedAdmin {
			writeJSON(w, sessionResponse{Token: token, State: state, Email: sess.Email})
			return
		}
	}

	var req signInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatusError(w, http.StatusBadRequest, "invalid_input", "malformed request body", nil)
		return
	}
	sess, err := s.sessions.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, session.ErrBadCredentials) {
			writeStatusError(w, http.StatusUnauthorized, "bad_credentials", err.Error(), nil)
			return
		}
		s.mapError(w, err)
		return
	}
	state, _, err := s.gate.Check(r.Context(), sess.Token)
	if err != nil {
		s.logger.Warn("gate check degraded", "error", err)
	}
	writeJSON(w, sessionResponse{Token: sess.Token, State: state, Email: sess.Email})
}

func (s *Server) handleSessionState(w http.ResponseWriter, r *http.Request) {
	state, sess, err := s.gate.Check(r.Context(), bearerToken(r))
	if err != nil {
		s.logger.Warn("gate check degraded", "error", err)
	}
	writeJSON(w, sessionResponse{State: state, Email: sess.Email})
}

func (s *Server) handleSignOut(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeStatusError(w, http.StatusUnauthorized, "no_session", "sign in required", nil)
		return
	}
	if err := s.sessions.SignOut(r.Context(), token); err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

// Console handlers

type consoleStateResponse struct {
	Leaderboards []core.Leaderboard `json:"leaderboards"`
	Selected     core.LeaderboardID `json:"selected,omitempty"`
	Entries      []core.Entry       `json:"entries"`
	Dialog       string             `json:"dialog"`
	Submitting   bool               `json:"submitting"`
	Notice       *engine.Notice     `json:"notice,omitempty"`
}

func (s *Server) writeConsoleState(w http.ResponseWriter, c *engine.Console) {
	writeJSON(w, consoleStateResponse{
		Leaderboards: c.Leaderboards(),
		Selected:     c.Selected(),
		Entries:      c.Entries(),
		Dialog:       dialogName(c.Dialog()),
		Submitting:   c.Submitting(),
		Notice:       c.Notice(),
	})
}

func dialogName(d engine.DialogState) string {
	switch d.(type) {
	case engine.CreatingLeaderboard:
		return "creating_leaderboard"
	case engine.EditingLeaderboard:
		return "editing_leaderboard"
	case engine.CreatingEntry:
		return "creating_entry"
	case engine.EditingEntry:
		return "editing_entry"
	case engine.AddingPoints:
		return "adding_points"
	case engine.ConfirmingDeleteLeaderboard:
		return "confirming_delete_leaderboard"
	case engine.ConfirmingDeleteEntry:
		return "confirming_delete_entry"
	default:
		return "closed"
	}
}

func (s *Server) handleConsoleState(w http.ResponseWriter, r *http.Request) {
	s.writeConsoleState(w, consoleFrom(r))
}

func (s *Server) handleConsoleSignOut(w http.ResponseWriter, r *http.Request) {
	if err := consoleFrom(r).SignOut(r.Context()); err != nil {
		s.mapError(w, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (s *Server) handleCreateLeaderboard(w http.ResponseWriter, r *http.Request) {
	var draft engine.LeaderboardDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeStatusError(w, http.StatusBadRequest, "invalid_input", "malformed request body", nil)
		return
	}
	c := consoleFrom(r)
	c.OpenCreateLeaderboard()
	if err := c.SubmitCreateLeaderboard(r.Context(), draft); err != nil {
		s.mapError(w, err)
		return
	}
	s.writeConsoleState(w, c)
}

func (s *Server) handleEditLeaderboard(w http.ResponseWriter, r *http.Request) {
	var draft engine.LeaderboardDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeStatusError(w, http.StatusBadRequest, "invalid_input", "malformed request body", nil)
		return
	}
	c := consoleFrom(r)
	if err := c.OpenEditLeaderboard(core.LeaderboardID(chi.URLParam(r, "id"))); err != nil {
		s.mapError(w, err)
		return
	}
	if err := c.SubmitEditLeaderboard(r.Context(), draft); err != nil {
		s.mapError(w, err)
		return
	}
	s.writeConsoleState(w, c)
}

func (s *Server) handleDeleteLeaderboard(w http.ResponseWriter, r *http.Request) {
	c := consoleFrom(r)
	c.OpenDeleteLeaderboard(core.LeaderboardID(chi.URLParam(r, "id")))
	if err := c.ConfirmDelete(r.Context()); err != nil {
		s.mapError(w, err)
		return
	}
	s.writeConsoleState(w, c)
}

func (s *Server) handleSelectLeaderboard(w http.ResponseWriter, r *http.Request) {
	c := consoleFrom(r)
	if err := c.SelectLeaderboard(r.Context(), core.LeaderboardID(chi.URLParam(r, "id"))); err != nil {
		s.mapError(w, err)
		return
	}
	s.writeConsoleState(w, c)
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var draft engine.EntryDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeStatusError(w, http.StatusBadRequest, "invalid_input", "malformed request body", nil)
		return
	}
	c := consoleFrom(r)
	if err := c.OpenCreateEntry(); err != nil {
		s.mapError(w, err)
		return
	}
	if err := c.SubmitCreateEntry(r.Context(), draft); err != nil {
		s.mapError(w, err)
		return
	}
	s.writeConsoleState(w, c)
}

func (s *Server) handleEditEntry(w http.ResponseWriter, r *http.Request) {
	var draft engine.EntryEditDraft
	if err := json.NewDecoder(r.Body).Decode(&draft); err != nil {
		writeStatusError(w, http.StatusBadRequest, "invalid_input", "malformed request body", nil)
		return
	}
	c := consoleFrom(r)
	if err := c.OpenEditEntry(core.EntryID(chi.URLParam(r, "id"))); err != nil {
		s.mapError(w, err)
		return
	}
	if err := c.SubmitEditEntry(r.Context(), draft); err != nil {
		s.mapError(w, err)
		return
	}
	s.writeConsoleState(w, c)
}

type addPointsRequest struct {
	Delta string `json:"delta"`
}

func (s *Server) handleAddPoints(w http.ResponseWriter, r *http.Request) {
	var req addPointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeStatusError(w, http.StatusBadRequest, "invalid_input", "malformed request body", nil)
		return
	}
	c := consoleFrom(r)
	if err := c.OpenAddPoints(core.EntryID(chi.URLParam(r, "id"))); err != nil {
		s.mapError(w, err)
		return
	}
	if err := c.SubmitAddPoints(r.Context(), req.Delta); err != nil {
		s.mapError(w, err)
		return
	}
	s.writeConsoleState(w, c)
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	c := consoleFrom(r)
	c.OpenDeleteEntry(core.EntryID(chi.URLParam(r, "id")))
	if err := c.ConfirmDelete(r.Context()); err != nil {
		s.mapError(w, err)
		return
	}
	s.writeConsoleState(w, c)
}

// mapError translates domain errors to HTTP responses.
func (s *Server) mapError(w http.ResponseWriter, err error) {
	var verr *core.ValidationError
	var serr *core.StoreError
	switch {
	case errors.As(err, &verr):
		writeStatusError(w, http.StatusBadRequest, "invalid_input", verr.Error(), map[string]string{"field": verr.Field})
	case errors.Is(err, core.ErrNotFound):
		writeStatusError(w, http.StatusNotFound, "not_found", "record not found", nil)
	case errors.Is(err, core.ErrNoSelection):
		writeStatusError(w, http.StatusConflict, "no_selection", "no leaderboard selected", nil)
	case errors.Is(err, engine.ErrNoDialog):
		writeStatusError(w, http.StatusConflict, "no_dialog", err.Error(), nil)
	case errors.Is(err, core.ErrNoSession):
		writeStatusError(w, http.StatusUnauthorized, "no_session", "sign in required", nil)
	case errors.Is(err, core.ErrNotAuthorized):
		writeStatusError(w, http.StatusForbidden, "not_authorized", "admin role required", nil)
	case errors.As(err, &serr):
		writeStatusError(w, http.StatusBadGateway, "store_error", serr.Error(), nil)
	default:
		writeStatusError(w, http.StatusInternalServerError, "internal", err.Error(), nil)
	}
}

// Package server exposes the control API over HTTP: subscription management,
// on-demand checks, and the oauth callback endpoint the authorization
// provider redirects to.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/umputun/newsflow/pkg/auth"
	"github.com/umputun/newsflow/pkg/commands"
)

// Commands is the command service seam the server dispatches to
type Commands interface {
	Subscribe(ctx context.Context, chatID int64) error
	Unsubscribe(ctx context.Context, chatID int64) error
	Follow(ctx context.Context, chatID int64, feedName string) error
	Status(ctx context.Context, chatID int64) (commands.SubscriptionStatus, error)
	Feeds() []commands.FeedInfo
	Stats(ctx context.Context) (commands.Stats, error)
	Check(ctx context.Context, chatID int64) (int, error)
	AuthLogin(ctx context.Context, chatID int64) (string, error)
	AuthCallback(ctx context.Context, state, code string) (int64, error)
	AuthStatus(ctx context.Context) (auth.Status, error)
	AuthLogout(ctx context.Context) error
}

// ConfigProvider provides server configuration
type ConfigProvider interface {
	GetServerConfig() (listen string, timeout time.Duration)
}

// Server represents HTTP server instance
type Server struct {
	config   ConfigProvider
	commands Commands
	version  string
	debug    bool

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// New initializes a new server instance
func New(cfg ConfigProvider, cmds Commands, version string, debug bool) *Server {
	s := &Server{
		config:   cfg,
		commands: cmds,
		version:  version,
		debug:    debug,
		router:   routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	listen, timeout := s.config.GetServerConfig()
	lgr.Printf("[INFO] starting server on %s", listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		lgr.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			lgr.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("newsflow", "umputun", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	s.router.Mount("/api/v1").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("POST /subscribe", s.subscribeHandler)
		r.HandleFunc("POST /unsubscribe", s.unsubscribeHandler)
		r.HandleFunc("POST /follow", s.followHandler)
		r.HandleFunc("POST /check", s.checkHandler)
		r.HandleFunc("GET /status", s.statusHandler)
		r.HandleFunc("GET /feeds", s.feedsHandler)
		r.HandleFunc("GET /stats", s.statsHandler)

		r.HandleFunc("POST /auth/login", s.authLoginHandler)
		r.HandleFunc("POST /auth/logout", s.authLogoutHandler)
		r.HandleFunc("GET /auth/status", s.authStatusHandler)
	})

	// the oauth provider redirects the user's browser here
	s.router.HandleFunc("GET /auth/reddit/callback", s.authCallbackHandler)
}

// chatRequest is the body shared by the chat-scoped POST endpoints
type chatRequest struct {
	ChatID int64  `json:"chat_id"`
	Feed   string `json:"feed,omitempty"`
}

// decodeChatRequest parses and validates the common request body
func decodeChatRequest(r *http.Request) (chatRequest, error) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	if req.ChatID == 0 {
		return req, fmt.Errorf("chat_id is required")
	}
	return req, nil
}

func (s *Server) subscribeHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		RenderError(w, r, err, http.StatusBadRequest)
		return
	}
	if err := s.commands.Subscribe(r.Context(), req.ChatID); err != nil {
		RenderError(w, r, err, http.StatusInternalServerError)
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]string{"result": "subscribed"})
}

func (s *Server) unsubscribeHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		RenderError(w, r, err, http.StatusBadRequest)
		return
	}
	if err := s.commands.Unsubscribe(r.Context(), req.ChatID); err != nil {
		RenderError(w, r, err, http.StatusInternalServerError)
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]string{"result": "unsubscribed"})
}

func (s *Server) followHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		RenderError(w, r, err, http.StatusBadRequest)
		return
	}
	if req.Feed == "" {
		RenderError(w, r, fmt.Errorf("feed is required"), http.StatusBadRequest)
		return
	}

	err = s.commands.Follow(r.Context(), req.ChatID, req.Feed)
	switch {
	case errors.Is(err, commands.ErrUnknownFeed):
		RenderError(w, r, err, http.StatusNotFound)
	case err != nil:
		RenderError(w, r, err, http.StatusInternalServerError)
	default:
		RenderJSON(w, r, http.StatusOK, map[string]string{"result": "following", "feed": req.Feed})
	}
}

func (s *Server) checkHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		RenderError(w, r, err, http.StatusBadRequest)
		return
	}
	count, err := s.commands.Check(r.Context(), req.ChatID)
	if err != nil {
		RenderError(w, r, err, http.StatusInternalServerError)
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]int{"delivered": count})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	chatID, err := chatIDParam(r)
	if err != nil {
		RenderError(w, r, err, http.StatusBadRequest)
		return
	}
	st, err := s.commands.Status(r.Context(), chatID)
	if err != nil {
		RenderError(w, r, err, http.StatusInternalServerError)
		return
	}
	RenderJSON(w, r, http.StatusOK, st)
}

func (s *Server) feedsHandler(w http.ResponseWriter, r *http.Request) {
	RenderJSON(w, r, http.StatusOK, map[string]any{"feeds": s.commands.Feeds()})
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.commands.Stats(r.Context())
	if err != nil {
		RenderError(w, r, err, http.StatusInternalServerError)
		return
	}
	RenderJSON(w, r, http.StatusOK, st)
}

func (s *Server) authLoginHandler(w http.ResponseWriter, r *http.Request) {
	req, err := decodeChatRequest(r)
	if err != nil {
		RenderError(w, r, err, http.StatusBadRequest)
		return
	}

	authURL, err := s.commands.AuthLogin(r.Context(), req.ChatID)
	switch {
	case errors.Is(err, commands.ErrNotConfigured):
		RenderError(w, r, err, http.StatusPreconditionFailed)
	case err != nil:
		RenderError(w, r, err, http.StatusInternalServerError)
	default:
		RenderJSON(w, r, http.StatusOK, map[string]string{"auth_url": authURL})
	}
}

func (s *Server) authLogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.commands.AuthLogout(r.Context()); err != nil {
		RenderError(w, r, err, http.StatusInternalServerError)
		return
	}
	RenderJSON(w, r, http.StatusOK, map[string]string{"result": "logged out"})
}

func (s *Server) authStatusHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.commands.AuthStatus(r.Context())
	if err != nil {
		RenderError(w, r, err, http.StatusInternalServerError)
		return
	}
	resp := map[string]any{
		"configured": st.Configured,
		"has_token":  st.HasToken,
	}
	if st.Username != "" {
		resp["username"] = st.Username
	}
	if !st.ExpiresAt.IsZero() {
		resp["expires_at"] = st.ExpiresAt.UTC().Format(time.RFC3339)
	}
	RenderJSON(w, r, http.StatusOK, resp)
}

// authCallbackHandler serves the oauth redirect. The response is plain text
// for the user's browser, not part of the JSON API.
func (s *Server) authCallbackHandler(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	code := r.URL.Query().Get("code")
	if state == "" || code == "" {
		http.Error(w, "missing state or code", http.StatusBadRequest)
		return
	}

	chatID, err := s.commands.AuthCallback(r.Context(), state, code)
	switch {
	case errors.Is(err, commands.ErrBadAuthState):
		http.Error(w, "authorization session not found or expired, restart the login", http.StatusBadRequest)
	case err != nil:
		lgr.Printf("[WARN] auth callback failed: %v", err)
		http.Error(w, "authorization failed, try again", http.StatusBadGateway)
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintf(w, "authorization complete for chat %d, you can close this window", chatID)
	}
}

// chatIDParam extracts the chat_id query parameter
func chatIDParam(r *http.Request) (int64, error) {
	var chatID int64
	if _, err := fmt.Sscanf(r.URL.Query().Get("chat_id"), "%d", &chatID); err != nil || chatID == 0 {
		return 0, fmt.Errorf("valid chat_id query parameter is required")
	}
	return chatID, nil
}

// RenderJSON sends JSON response
func RenderJSON(w http.ResponseWriter, _ *http.Request, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			lgr.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}

// RenderError sends error response as JSON
func RenderError(w http.ResponseWriter, r *http.Request, err error, code int) {
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	RenderJSON(w, r, code, map[string]string{"error": errMsg})
}

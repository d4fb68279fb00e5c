// package server hosts the OAuth redirect endpoint. The streaming provider
// sends the user's browser here after authorization; the code is forwarded
// into the account linking flow keyed by the state parameter.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/melodymind/internal/shared"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// CodeSink receives authorization codes harvested from redirects.
type CodeSink interface {
	CompleteLinking(ctx context.Context, userID int64, code string) error
}

// Server is the HTTP callback listener.
type Server struct {
	addr   string
	sink   CodeSink
	logger *log.Logger
	http   *http.Server
}

// New creates the callback server.
func New(cfg shared.ServerConfig, sink CodeSink, logger *log.Logger) *Server {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == 0 {
		port = 8080
	}

	s := &Server{
		addr:   fmt.Sprintf("%s:%d", host, port),
		sink:   sink,
		logger: logger,
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/callback", s.handleCallback)
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	s.http = &http.Server{
		Addr:         s.addr,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errs := make(chan error, 1)
	go func() {
		s.logger.Info("callback server listening", "addr", s.addr)
		errs <- s.http.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// handleCallback consumes one provider redirect. The state parameter is the
// chat user id handed out with the authorization URL.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if errCode := query.Get("error"); errCode != "" {
		s.logger.Info("authorization denied", "error", errCode)
		renderPage(w, http.StatusOK, "Authorization cancelled",
			"No problem. You can close this window and try again from the chat.")
		return
	}

	code := query.Get("code")
	userID, err := strconv.ParseInt(query.Get("state"), 10, 64)
	if code == "" || err != nil {
		renderPage(w, http.StatusBadRequest, "Something's off",
			"This link is missing its code or state. Start over from the chat with /link_spotify.")
		return
	}

	if err := s.sink.CompleteLinking(r.Context(), userID, code); err != nil {
		s.logger.Warn("linking via callback failed", "user_id", userID, "err", err)
		renderPage(w, http.StatusOK, "That didn't work",
			"The code couldn't be redeemed. Head back to the chat and request a fresh link.")
		return
	}

	renderPage(w, http.StatusOK, "All linked up 🎉",
		"Your account is connected. You can close this window and go back to the chat.")
}

func renderPage(w http.ResponseWriter, status int, title, body string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `<!doctype html>
<html><head><title>MelodyMind</title></head>
<body style="font-family: sans-serif; max-width: 36rem; margin: 4rem auto;">
<h1>%s</h1><p>%s</p>
</body></html>`, title, body)
}

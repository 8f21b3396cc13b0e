package channel

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"relaybot/internal/metrics"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
)

const maxEventBody = 1 << 20 // 1MB

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Addr          string
	SigningSecret string   // enables POST /slack/events when set
	Ingress       *Ingress // required with SigningSecret
	Logger        *slog.Logger
}

// Server serves health, metrics and, outside Socket Mode, the Events API.
type Server struct {
	addr    string
	secret  string
	ingress *Ingress
	logger  *slog.Logger
	server  *http.Server
}

func NewServer(cfg ServerConfig) *Server {
	return &Server{
		addr:    cfg.Addr,
		secret:  cfg.SigningSecret,
		ingress: cfg.Ingress,
		logger:  cfg.Logger,
	}
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"uptime": metrics.Collector.Uptime().Round(time.Second).String(),
		})
	})
	r.Get("/metrics", metrics.Collector.Handler())

	if s.secret != "" && s.ingress != nil {
		r.Post("/slack/events", s.handleEvents)
	}
	return r
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.addr, "events_api", s.secret != "")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxEventBody))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	sv, err := slack.NewSecretsVerifier(r.Header, s.secret)
	if err != nil {
		s.logger.Warn("events request without valid signature headers", "err", err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if _, err := sv.Write(body); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if err := sv.Ensure(); err != nil {
		s.logger.Warn("events request signature mismatch")
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var outer struct {
		Type string `json:"type"`
		slackevents.ChallengeResponse
	}
	if err := json.Unmarshal(body, &outer); err != nil {
		http.Error(w, "invalid event", http.StatusBadRequest)
		return
	}

	switch outer.Type {
	case slackevents.URLVerification:
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte(outer.Challenge))
	case slackevents.CallbackEvent:
		w.WriteHeader(http.StatusOK)
		// The first delivery was already acked and handled.
		if r.Header.Get("X-Slack-Retry-Num") != "" {
			s.logger.Debug("ignoring slack retry", "reason", r.Header.Get("X-Slack-Retry-Reason"))
			return
		}
		if err := s.ingress.Handle(body); err != nil {
			s.logger.Warn("dropping undecodable event", "err", err)
		}
	default:
		w.WriteHeader(http.StatusOK)
	}
}

// Package server is the HTTP API in front of the QA assistant and the
// orchestration router.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/iam-geni/geni/capabilities/qa"
	"github.com/ZanzyTHEbar/iam-geni/geni/config"
	"github.com/ZanzyTHEbar/iam-geni/geni/orchestration"
	"github.com/ZanzyTHEbar/iam-geni/geni/orchestration/adapters"
	ports "github.com/ZanzyTHEbar/iam-geni/geni/orchestration/ports"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// AgentBusyMessage is the QA chat reply when the assistant cannot answer.
const AgentBusyMessage = "Agent is currently busy, please wait a moment and try again."

const threadCreateFailed = "Failed to create thread"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// QAService is the stateful documentation assistant.
type QAService interface {
	ports.Answerer
	CreateThread(ctx context.Context) (string, error)
}

// Orchestrator routes one chat turn to a capability.
type Orchestrator interface {
	Invoke(ctx context.Context, req orchestration.InvokeRequest) (orchestration.Envelope, error)
}

// Builders construct the capability adapters on first use.
type Builders struct {
	QA func() (QAService, error)
	// Orchestrator receives the QA assistant, or nil when it cannot be built.
	Orchestrator func(answerer ports.Answerer) (Orchestrator, error)
}

// Server serves the chat API.
type Server struct {
	cfg      config.ServerConfig
	store    ports.ThreadStore
	verifier *Verifier
	qa       *lazy[QAService]
	orch     *lazy[Orchestrator]
	logger   zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithVerifier requires a valid bearer token on every API route.
func WithVerifier(v *Verifier) Option {
	return func(s *Server) { s.verifier = v }
}

// New creates a server.
func New(cfg config.ServerConfig, store ports.ThreadStore, builders Builders, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		store:  store,
		logger: logger.With().Str("component", "server").Logger(),
	}
	s.qa = newLazy(builders.QA)
	s.orch = newLazy(func() (Orchestrator, error) {
		var answerer ports.Answerer
		if a, err := s.qa.Get(); err != nil {
			s.logger.Warn().Err(err).Msg("QA assistant unavailable; orchestrator will answer IAM questions with an error")
		} else {
			answerer = a
		}
		return builders.Orchestrator(answerer)
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Warm builds both adapters now instead of on first use.
func (s *Server) Warm() error {
	if _, err := s.qa.Get(); err != nil {
		return fmt.Errorf("failed to build QA assistant: %w", err)
	}
	if _, err := s.orch.Get(); err != nil {
		return fmt.Errorf("failed to build orchestrator: %w", err)
	}
	return nil
}

// Handler returns the API with logging, CORS and auth applied.
func (s *Server) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("POST /thread", s.handleCreateThread)
	api.HandleFunc("POST /chat", s.handleChat)
	api.HandleFunc("POST /orchestrator/thread", s.handleCreateOrchestratorThread)
	api.HandleFunc("POST /orchestrator/chat", s.handleOrchestratorChat)
	api.HandleFunc("DELETE /orchestrator/thread/{id}", s.handleDeleteOrchestratorThread)

	var protected http.Handler = api
	if s.verifier != nil {
		protected = RequireBearer(s.verifier)(api)
	}

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", handleHealth)
	root.Handle("/", protected)

	var h http.Handler = root
	h = cors(s.cfg.AllowedOrigins)(h)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, d time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", d).
			Msg("request")
	})(h)
	h = hlog.RemoteAddrHandler("ip")(h)
	h = hlog.RequestIDHandler("req_id", "X-Request-Id")(h)
	h = hlog.NewHandler(s.logger)(h)
	return h
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", srv.Addr).Msg("listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info().Msg("shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down: %w", err)
	}
	return nil
}

type errorBody struct {
	Detail string `json:"detail"`
}

type threadResponse struct {
	ThreadID string `json:"thread_id"`
}

type chatRequest struct {
	ThreadID string `json:"thread_id"`
	Message  string `json:"message"`
}

type chatResponse struct {
	Reply string `json:"reply"`
}

type orchestratorChatRequest struct {
	ThreadID    string       `json:"thread_id"`
	Message     string       `json:"message"`
	ChatHistory []ports.Turn `json:"chat_history"`
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	assistant, err := s.qa.Get()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("QA assistant unavailable")
		detail := threadCreateFailed
		if errors.Is(err, qa.ErrNoSearchConnection) {
			detail = threadCreateFailed + ": " + qa.NoSearchConnectionText
		}
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: detail})
		return
	}
	id, err := assistant.CreateThread(r.Context())
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to create QA thread")
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: threadCreateFailed})
		return
	}
	writeJSON(w, http.StatusCreated, threadResponse{ThreadID: id})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ThreadID) == "" || strings.TrimSpace(req.Message) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "thread_id and message are required"})
		return
	}

	assistant, err := s.qa.Get()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("QA assistant unavailable")
		writeJSON(w, http.StatusServiceUnavailable, chatResponse{Reply: AgentBusyMessage})
		return
	}
	reply, err := assistant.Answer(r.Context(), req.ThreadID, req.Message)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, chatResponse{Reply: reply})
	case errors.Is(err, adapters.ErrThreadNotFound), errors.Is(err, qa.ErrThreadClosed):
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "thread not found"})
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("QA chat failed")
		writeJSON(w, http.StatusServiceUnavailable, chatResponse{Reply: AgentBusyMessage})
	}
}

func (s *Server) handleCreateOrchestratorThread(w http.ResponseWriter, r *http.Request) {
	thread, err := s.store.CreateThread(r.Context(), ports.ThreadOrchestrator)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("failed to create orchestrator thread")
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: threadCreateFailed})
		return
	}
	writeJSON(w, http.StatusCreated, threadResponse{ThreadID: thread.ID})
}

func (s *Server) handleOrchestratorChat(w http.ResponseWriter, r *http.Request) {
	var req orchestratorChatRequest
	if !decode(w, r, &req) {
		return
	}

	thread, err := s.store.GetThread(r.Context(), req.ThreadID)
	if err != nil || thread.Invalidated {
		if err != nil && !errors.Is(err, adapters.ErrThreadNotFound) {
			hlog.FromRequest(r).Error().Err(err).Msg("failed to load orchestrator thread")
			writeJSON(w, http.StatusServiceUnavailable, busyEnvelope())
			return
		}
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "thread not found"})
		return
	}

	orch, err := s.orch.Get()
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("orchestrator unavailable")
		writeJSON(w, http.StatusServiceUnavailable, busyEnvelope())
		return
	}

	env, err := orch.Invoke(r.Context(), orchestration.InvokeRequest{
		ThreadID: req.ThreadID,
		Message:  req.Message,
		History:  cleanHistory(req.ChatHistory),
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, env)
	case errors.Is(err, orchestration.ErrEmptyMessage):
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: err.Error()})
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("orchestrator chat failed")
		writeJSON(w, http.StatusServiceUnavailable, busyEnvelope())
	}
}

func (s *Server) handleDeleteOrchestratorThread(w http.ResponseWriter, r *http.Request) {
	err := s.store.InvalidateThread(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, adapters.ErrThreadNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Detail: "thread not found"})
	default:
		hlog.FromRequest(r).Error().Err(err).Msg("failed to invalidate thread")
		writeJSON(w, http.StatusInternalServerError, errorBody{Detail: "Failed to end session"})
	}
}

// cleanHistory drops turns with unknown roles.
func cleanHistory(turns []ports.Turn) []ports.Turn {
	out := make([]ports.Turn, 0, len(turns))
	for _, t := range turns {
		role := strings.ToLower(strings.TrimSpace(t.Role))
		if !slices.Contains([]string{ports.RoleUser, ports.RoleAssistant}, role) {
			continue
		}
		t.Role = role
		out = append(out, t)
	}
	return out
}

func busyEnvelope() orchestration.Envelope {
	return orchestration.Envelope{Action: orchestration.ActionNone, Result: orchestration.BusyMessage}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Detail: "invalid body: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

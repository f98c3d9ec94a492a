// Package httpapi exposes the gateway manager over HTTP with a websocket
// stream of session updates.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/bridge_client/internal/errors"
	"github.com/R3E-Network/bridge_client/internal/gateway"
	"github.com/R3E-Network/bridge_client/internal/metrics"
	"github.com/R3E-Network/bridge_client/internal/rpc"
	"github.com/R3E-Network/bridge_client/pkg/logger"
)

const maxBodyBytes = 1 << 20

// Sessions is the gateway surface served over HTTP. *gateway.Manager implements it.
type Sessions interface {
	OpenSession(ctx context.Context, p gateway.Params) (*gateway.Runner, error)
	Resume(ctx context.Context, id string) (*gateway.Runner, error)
	Runner(id string) (*gateway.Runner, bool)
	Status(ctx context.Context, id string) (gateway.Session, error)
	List(ctx context.Context) ([]string, error)
	Claim(ctx context.Context, id, depositID string) error
	Retry(ctx context.Context, id, depositID string) error
	Release(ctx context.Context, p gateway.ReleaseParams, onStatus func(rpc.TxStatus)) (*gateway.ReleaseResult, error)
}

var _ Sessions = (*gateway.Manager)(nil)

// Options configures the handler.
type Options struct {
	// AllowedOrigins lists websocket origins; "*" allows any. Requests without
	// an Origin header are always accepted.
	AllowedOrigins []string
}

// Handler serves the bridge API.
type Handler struct {
	sessions Sessions
	log      *logger.Logger
	feeds    *hub
	router   *mux.Router
	handler  http.Handler
}

// NewHandler builds the router.
func NewHandler(sessions Sessions, log *logger.Logger, opts Options) *Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &Handler{
		sessions: sessions,
		log:      log,
		feeds:    newHub(log),
		router:   mux.NewRouter(),
	}
	h.registerRoutes(opts)
	h.handler = metrics.InstrumentHandler(h.router)
	return h
}

func (h *Handler) registerRoutes(opts Options) {
	r := h.router
	r.Use(h.logRequests)

	r.HandleFunc("/health", h.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/sessions", h.handleListSessions).Methods(http.MethodGet)
	r.HandleFunc("/sessions", h.handleOpenSession).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}", h.handleGetSession).Methods(http.MethodGet)
	r.HandleFunc("/sessions/{id}/resume", h.handleResume).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/deposits/{deposit}/claim", h.handleClaim).Methods(http.MethodPost)
	r.HandleFunc("/sessions/{id}/deposits/{deposit}/retry", h.handleRetry).Methods(http.MethodPost)
	r.Handle("/sessions/{id}/events", h.streamHandler(opts.AllowedOrigins)).Methods(http.MethodGet)

	r.HandleFunc("/releases", h.handleRelease).Methods(http.MethodPost)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

// Close ends every open update stream.
func (h *Handler) Close() {
	h.feeds.close()
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.log.WithField("method", r.Method).WithField("path", r.URL.Path).
			WithField("duration", time.Since(start).String()).Debug("request")
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := h.sessions.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"sessions": ids})
}

func (h *Handler) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var p gateway.Params
	if err := decodeJSON(r.Body, &p); err != nil {
		h.writeError(w, errors.InvalidInput("body", err.Error()))
		return
	}
	// The runner outlives the request.
	runner, err := h.sessions.OpenSession(context.WithoutCancel(r.Context()), p)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, runner.Status())
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	runner, err := h.sessions.Resume(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runner.Status())
}

func (h *Handler) handleClaim(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.sessions.Claim(r.Context(), vars["id"], vars["deposit"]); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "claimed"})
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	if err := h.sessions.Retry(r.Context(), vars["id"], vars["deposit"]); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "retrying"})
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	var p gateway.ReleaseParams
	if err := decodeJSON(r.Body, &p); err != nil {
		h.writeError(w, errors.InvalidInput("body", err.Error()))
		return
	}
	log := h.log.WithField("burn_tx", p.BurnTxHash)
	res, err := h.sessions.Release(r.Context(), p, func(s rpc.TxStatus) {
		log.WithField("status", s.String()).Info("release status")
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(io.LimitReader(body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type errorBody struct {
	Error string      `json:"error"`
	Kind  errors.Kind `json:"kind"`
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind := errors.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		h.log.WithError(err).WithField("kind", string(kind)).Error("request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: kind})
}

func statusFor(kind errors.Kind) int {
	switch kind {
	case errors.KindInvalidInput, errors.KindUnsupportedSelector:
		return http.StatusBadRequest
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindInvalidTransition:
		return http.StatusConflict
	case errors.KindTimeout:
		return http.StatusGatewayTimeout
	case errors.KindCancelled:
		return http.StatusRequestTimeout
	case errors.KindRemoteRejected, errors.KindSchemaMismatch, errors.KindUnknownType, errors.KindSignatureRecoveryMismatch:
		return http.StatusBadGateway
	case errors.KindTransientNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Serve runs srv until ctx ends, then shuts it down gracefully.
func Serve(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

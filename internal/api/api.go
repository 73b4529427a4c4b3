package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/action"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/broker"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/catalog"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/httpserver"
)

const defaultPingInterval = 15 * time.Second

// API serves the codemods HTTP surface. Callers are expected to wrap the
// mux with authentication; the identity is read from the request context.
type API struct {
	logger       *slog.Logger
	broker       *broker.Broker
	catalog      catalog.Resolver
	registry     *action.Registry
	pingInterval time.Duration
}

type Option func(*API)

// WithPingInterval sets how often idle event streams send a keepalive.
func WithPingInterval(d time.Duration) Option {
	return func(api *API) {
		if d > 0 {
			api.pingInterval = d
		}
	}
}

func New(logger *slog.Logger, b *broker.Broker, resolver catalog.Resolver, registry *action.Registry, opts ...Option) *API {
	if logger == nil {
		logger = slog.Default()
	}
	api := &API{
		logger:       logger,
		broker:       b,
		catalog:      resolver,
		registry:     registry,
		pingInterval: defaultPingInterval,
	}
	for _, opt := range opts {
		opt(api)
	}
	return api
}

func (api *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/actions", api.handleListActions)

	mux.HandleFunc("GET /v1/codemods", api.handleListCodemods)
	mux.HandleFunc("GET /v1/codemods/{namespace}/{name}/parameter-schema", api.handleParameterSchema)

	mux.HandleFunc("POST /v1/runs", api.handleCreateRun)
	mux.HandleFunc("GET /v1/runs", api.handleListRuns)
	mux.HandleFunc("GET /v1/runs/{run_id}", api.handleGetRun)
	mux.HandleFunc("GET /v1/runs/{run_id}/jobs", api.handleListJobs)
	mux.HandleFunc("GET /v1/runs/{run_id}/jobs/{job_id}", api.handleGetJob)
	mux.HandleFunc("GET /v1/runs/{run_id}/jobs/{job_id}/eventstream", api.handleEventStream)
}

func (api *API) handleListActions(w http.ResponseWriter, r *http.Request) {
	httpserver.WriteJSON(w, http.StatusOK, map[string]any{"actions": api.registry.List()})
}

// writeDomainError maps the error taxonomy to status codes. Classified
// errors carry messages meant for the caller; anything else is hidden.
func (api *API) writeDomainError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var classified *domain.Error
	if errors.As(err, &classified) {
		status := http.StatusInternalServerError
		switch classified.Kind {
		case domain.KindNotFound:
			status = http.StatusNotFound
		case domain.KindConflict:
			status = http.StatusConflict
		case domain.KindInput:
			status = http.StatusBadRequest
		}
		if status != http.StatusInternalServerError {
			httpserver.WriteError(w, r, status, classified.Error())
			return
		}
	}
	api.logger.Error(op+" failed", "request_id", r.Header.Get(httpserver.RequestIDHeader), "error", err)
	httpserver.WriteError(w, r, http.StatusInternalServerError, "internal_error")
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("multiple JSON values")
	}
	return nil
}

func parseIntQuery(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

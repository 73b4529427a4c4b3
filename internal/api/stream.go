package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/httpserver"
)

func writeSSE(w http.ResponseWriter, event string, id string, payload any) error {
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if id != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", id); err != nil {
			return err
		}
	}
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", blob); err != nil {
		return err
	}
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
	return nil
}

// handleEventStream replays the job's events after the given id, then
// follows new ones until the completion event was sent.
func (api *API) handleEventStream(w http.ResponseWriter, r *http.Request) {
	job, err := api.jobOfRun(r)
	if err != nil {
		api.writeDomainError(w, r, "stream events", err)
		return
	}

	var after *int64
	if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed < 0 {
			httpserver.WriteError(w, r, http.StatusBadRequest, "invalid_after")
			return
		}
		after = &parsed
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		httpserver.WriteError(w, r, http.StatusInternalServerError, "streaming_not_supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := api.broker.Subscribe(r.Context(), job.ID, after)
	defer sub.Unsubscribe()

	ping := time.NewTicker(api.pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case events, ok := <-sub.Events():
			if !ok {
				if err := sub.Err(); err != nil {
					api.logger.Error("event stream failed",
						"request_id", r.Header.Get(httpserver.RequestIDHeader),
						"job_id", job.ID,
						"error", err,
					)
					_ = writeSSE(w, "error", "", map[string]any{"error": "internal_error"})
				}
				return
			}
			for _, event := range events {
				if err := writeEvent(w, event); err != nil {
					return
				}
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, event domain.JobEvent) error {
	return writeSSE(w, string(event.Type), strconv.FormatInt(event.ID, 10), event)
}

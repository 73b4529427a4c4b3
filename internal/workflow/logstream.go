package workflow

import (
	"context"
	"io"
	"log/slog"
	"strings"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
)

// logStream turns handler output into log events tagged with the step id.
type logStream struct {
	ctx    context.Context
	job    Job
	stepID string
	logger *slog.Logger
}

func (s *logStream) Write(p []byte) (int, error) {
	message := strings.TrimSpace(string(p))
	if len(message) > 1 {
		if err := s.job.EmitLog(s.ctx, message, domain.Metadata{"stepId": s.stepID}); err != nil {
			s.logger.Warn("failed to emit handler log", "error", err)
		}
	}
	return len(p), nil
}

// newStepLogger writes records as text lines into the step's event log.
// The event carries its own timestamp, so the time attribute is dropped.
func newStepLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey {
				return slog.Attr{}
			}
			return a
		},
	}))
}

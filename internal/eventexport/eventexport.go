// Package eventexport archives the event log of finished jobs as NDJSON
// objects so that it survives database retention.
package eventexport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/K-Phoen/backstage-plugin-codemods/internal/domain"
	"github.com/K-Phoen/backstage-plugin-codemods/internal/platform/env"
)

const contentType = "application/x-ndjson"

type Config struct {
	Enabled bool
	Prefix  string
}

func ConfigFromEnv() (Config, error) {
	enabled, err := env.Bool("CODEMODS_ARCHIVE_ENABLED", false)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Enabled: enabled,
		Prefix:  strings.Trim(strings.TrimSpace(env.String("CODEMODS_ARCHIVE_PREFIX", "runs")), "/"),
	}, nil
}

type Exporter interface {
	ExportJob(ctx context.Context, job domain.Job, events []domain.JobEvent) error
}

// Noop discards exports.
type Noop struct{}

func (Noop) ExportJob(context.Context, domain.Job, []domain.JobEvent) error { return nil }

// EventSource is the read side of the run store needed to archive a job.
type EventSource interface {
	GetJob(ctx context.Context, id string) (domain.Job, error)
	ListEvents(ctx context.Context, jobID string, after *int64) ([]domain.JobEvent, error)
}

// ArchiveJob loads a job and its full event log and hands them to exp.
func ArchiveJob(ctx context.Context, src EventSource, exp Exporter, jobID string) error {
	if exp == nil {
		return nil
	}
	job, err := src.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	events, err := src.ListEvents(ctx, jobID, nil)
	if err != nil {
		return err
	}
	return exp.ExportJob(ctx, job, events)
}

// Encode writes one JSON document per event.
func Encode(w io.Writer, events []domain.JobEvent) error {
	enc := json.NewEncoder(w)
	for _, event := range events {
		if err := enc.Encode(event); err != nil {
			return fmt.Errorf("encode event %d: %w", event.ID, err)
		}
	}
	return nil
}

// Key is the object name of a job archive.
func Key(prefix, runID, jobID string) string {
	return path.Join(prefix, runID, jobID+".ndjson")
}

// ObjectPutter is satisfied by *minio.Client.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

type ObjectStoreExporter struct {
	client ObjectPutter
	bucket string
	prefix string
}

func NewObjectStoreExporter(client ObjectPutter, bucket, prefix string) (*ObjectStoreExporter, error) {
	if client == nil {
		return nil, fmt.Errorf("object store client is required")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	return &ObjectStoreExporter{client: client, bucket: bucket, prefix: prefix}, nil
}

func (e *ObjectStoreExporter) ExportJob(ctx context.Context, job domain.Job, events []domain.JobEvent) error {
	if e == nil || e.client == nil {
		return fmt.Errorf("event exporter not initialized")
	}
	var buf bytes.Buffer
	if err := Encode(&buf, events); err != nil {
		return err
	}
	key := Key(e.prefix, job.RunID, job.ID)
	opts := minio.PutObjectOptions{
		ContentType: contentType,
		UserMetadata: map[string]string{
			"job-status": string(job.Status),
			"target":     job.Target,
		},
	}
	if _, err := e.client.PutObject(ctx, e.bucket, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), opts); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

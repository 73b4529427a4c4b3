package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// JobStatus is the persisted state of a job.
type JobStatus string

const (
	JobStatusOpen       JobStatus = "open"
	JobStatusProcessing JobStatus = "processing"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusCompleted  JobStatus = "completed"
)

func ParseJobStatus(value string) (JobStatus, error) {
	switch s := JobStatus(strings.ToLower(strings.TrimSpace(value))); s {
	case JobStatusOpen, JobStatusProcessing, JobStatusFailed, JobStatusCancelled, JobStatusCompleted:
		return s, nil
	default:
		return "", Inputf("unknown job status %q", value)
	}
}

func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusFailed, JobStatusCancelled, JobStatusCompleted:
		return true
	default:
		return false
	}
}

// EventType distinguishes progress logs from the single terminal event of a job.
type EventType string

const (
	EventTypeLog        EventType = "log"
	EventTypeCompletion EventType = "completion"
)

// StepStatus is carried in log event bodies to report step progress.
type StepStatus string

const (
	StepStatusProcessing StepStatus = "processing"
	StepStatusSkipped    StepStatus = "skipped"
	StepStatusCompleted  StepStatus = "completed"
	StepStatusFailed     StepStatus = "failed"
)

// Run is one dispatch of a codemod against a set of targets.
type Run struct {
	ID              string    `json:"id"`
	Spec            RunSpec   `json:"spec"`
	TargetsCount    int       `json:"targetsCount"`
	OpenCount       int       `json:"openCount"`
	ProcessingCount int       `json:"processingCount"`
	FailedCount     int       `json:"failedCount"`
	CancelledCount  int       `json:"cancelledCount"`
	CompletedCount  int       `json:"completedCount"`
	CreatedAt       time.Time `json:"createdAt"`
	CreatedBy       string    `json:"createdBy,omitempty"`
}

// Settled reports whether every job of the run reached a terminal state.
func (r Run) Settled() bool {
	return r.FailedCount+r.CancelledCount+r.CompletedCount == r.TargetsCount
}

// Job is the execution of a run against a single target.
type Job struct {
	ID              string     `json:"id"`
	RunID           string     `json:"runId"`
	Target          string     `json:"target"`
	Status          JobStatus  `json:"status"`
	LastHeartbeatAt *time.Time `json:"lastHeartbeatAt,omitempty"`
	Output          Metadata   `json:"output,omitempty"`
}

// JobEvent is an append-only entry of a job's activity log.
type JobEvent struct {
	ID        int64     `json:"id"`
	JobID     string    `json:"jobId"`
	Type      EventType `json:"type"`
	Body      Metadata  `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

// JobSpec is what a worker needs to execute one job.
type JobSpec struct {
	Codemod   RunSpec `json:"codemod"`
	TargetRef string  `json:"targetRef"`
}

func (s JobSpec) Validate() error {
	if strings.TrimSpace(s.TargetRef) == "" {
		return errors.New("target ref is required")
	}
	if s.Codemod.APIVersion != APIVersionV1Alpha1 {
		return Inputf("Unsupported apiVersion field in codemod spec: %s", s.Codemod.APIVersion)
	}
	return nil
}

// StepEventBody builds the body of a step progress event.
func StepEventBody(message, stepID string, status StepStatus) Metadata {
	return Metadata{
		"message": message,
		"stepId":  stepID,
		"status":  string(status),
	}
}

// CompletionMessage is the message recorded when a job reaches a terminal status.
func CompletionMessage(status JobStatus) string {
	return fmt.Sprintf("Run completed with status: %s", status)
}

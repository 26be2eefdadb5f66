package queue

import (
	"context"
	"errors"
)

// ReportUploaded announces that a bundle report was stored for a commit.
type ReportUploaded struct {
	// Repository identity (e.g., "github", "acme", "web")
	Service string `json:"service"`
	Owner   string `json:"owner"`
	Repo    string `json:"repo"`

	// Commit the report belongs to
	Commit string `json:"commit"`

	// ReportID is the external id of the stored report
	ReportID string `json:"report_id"`

	// BaseCommit, when set, asks consumers to compare against it
	BaseCommit string `json:"base_commit,omitempty"`
}

// Validate checks that the message identifies a report.
func (m *ReportUploaded) Validate() error {
	if m.Service == "" || m.Owner == "" || m.Repo == "" {
		return errors.New("repository service, owner and repo are required")
	}
	if m.Commit == "" {
		return errors.New("commit is required")
	}
	if m.ReportID == "" {
		return errors.New("report id is required")
	}
	return nil
}

// Handler processes one message. Returning an error may trigger a retry,
// depending on the queue implementation.
type Handler func(context.Context, *ReportUploaded) error

// MessageQueue defines the interface for queue operations.
// Implementations include GCP Pub/Sub, Redis, and in-memory queues.
type MessageQueue interface {
	// Publish sends a ReportUploaded message to the queue.
	Publish(ctx context.Context, msg *ReportUploaded) error

	// Subscribe consumes messages and calls handler for each one.
	// It blocks until the context is cancelled or an unrecoverable error occurs.
	Subscribe(ctx context.Context, handler Handler) error

	// Close releases any resources held by the queue client.
	// After Close is called, the MessageQueue should not be used.
	Close() error
}

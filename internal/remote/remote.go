// Package remote talks to the analysis service: document submission,
// progress queries and the results collection.
package remote

import (
	"context"
	"errors"

	"startup-analyst/internal/documents"
	"startup-analyst/internal/progress"
)

var (
	// ErrRemoteRejected means the service answered but refused the request.
	ErrRemoteRejected = errors.New("analysis service rejected the request")
	// ErrNotFound means the referenced job or result does not exist remotely.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable means the service could not be reached. It is transient.
	ErrUnavailable = errors.New("analysis service unavailable")
)

// SubmittedDocument is one accepted file and the job that processes it.
type SubmittedDocument struct {
	JobID        string `json:"jobId"`
	FileName     string `json:"fileName"`
	DocumentType string `json:"documentType"`
	Status       string `json:"status"`
}

// Submission is the outcome of a batch upload.
type Submission struct {
	StartupID string              `json:"startupId"`
	JobIDs    []string            `json:"jobIds"`
	Documents []SubmittedDocument `json:"documents"`
}

// Submitter hands documents to the analysis service.
type Submitter interface {
	SubmitAnalysis(ctx context.Context, files []documents.File) (Submission, error)
}

// ProgressSource reports the progress of every job the service knows about.
type ProgressSource interface {
	QueryProgress(ctx context.Context) (progress.Snapshot, error)
}

// ProgressClearer drops a job's progress entry.
type ProgressClearer interface {
	ClearProgress(ctx context.Context, jobID string) error
}

// Backend is a results collection. Records are raw maps in whatever shape
// the backend stores; the results package normalizes them.
type Backend interface {
	ListResults(ctx context.Context) ([]map[string]any, error)
	CreateResult(ctx context.Context, record map[string]any) (string, error)
	DeleteResult(ctx context.Context, id string) error
}

func jobIDs(docs []SubmittedDocument) []string {
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.JobID != "" {
			ids = append(ids, d.JobID)
		}
	}
	return ids
}

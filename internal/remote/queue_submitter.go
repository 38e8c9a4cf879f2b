package remote

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"startup-analyst/internal/documents"
	"startup-analyst/internal/queue"
	"startup-analyst/internal/shared/storage/object"
	"startup-analyst/internal/shared/telemetry"
)

// QueueSubmitter stores documents in object storage and enqueues one job
// message per file. The analysis service consumes the queue and reports
// progress under the job ids minted here.
type QueueSubmitter struct {
	Store object.Store
	Queue queue.Client
	Now   func() time.Time
}

// SubmitAnalysis stores and enqueues every file. If any step fails, objects
// already stored for the batch are removed.
func (q *QueueSubmitter) SubmitAnalysis(ctx context.Context, files []documents.File) (Submission, error) {
	if len(files) == 0 {
		return Submission{}, documents.ErrNoFiles
	}
	now := time.Now
	if q.Now != nil {
		now = q.Now
	}
	sub := Submission{StartupID: uuid.NewString()}

	var stored []string
	cleanup := func() {
		for _, key := range stored {
			if err := q.Store.Delete(context.WithoutCancel(ctx), key); err != nil {
				telemetry.Warn("remote.queue_cleanup_failed", map[string]any{"key": key, "error": err})
			}
		}
	}

	for _, f := range files {
		key, size, _, err := q.Store.Save(ctx, sub.StartupID, f.Name, bytes.NewReader(f.Data))
		if err != nil {
			cleanup()
			return Submission{}, fmt.Errorf("store %s: %w", f.Name, err)
		}
		stored = append(stored, key)

		jobID := uuid.NewString()
		msg := queue.Message{
			JobID:     jobID,
			StartupID: sub.StartupID,
			File: queue.FileRef{
				Key:          key,
				Name:         f.Name,
				DocumentType: string(f.Type),
				MimeType:     f.MimeType(),
				SizeBytes:    size,
			},
			RequestID:  requestIDFrom(ctx),
			EnqueuedAt: now().UTC().Format(time.RFC3339),
			Version:    queue.MessageVersion,
		}
		if err := q.Queue.Send(ctx, msg); err != nil {
			cleanup()
			return Submission{}, fmt.Errorf("%w: enqueue %s: %v", ErrUnavailable, f.Name, err)
		}
		sub.Documents = append(sub.Documents, SubmittedDocument{
			JobID:        jobID,
			FileName:     f.Name,
			DocumentType: string(f.Type),
			Status:       "queued",
		})
	}
	sub.JobIDs = jobIDs(sub.Documents)
	telemetry.Info("remote.batch_enqueued", map[string]any{
		"startup_id": sub.StartupID,
		"jobs":       len(sub.JobIDs),
	})
	return sub, nil
}

type requestIDKey struct{}

// WithRequestID tags ctx so queued messages carry the HTTP request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

var _ Submitter = (*QueueSubmitter)(nil)

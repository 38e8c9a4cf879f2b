package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"startup-analyst/internal/documents"
	"startup-analyst/internal/events"
	"startup-analyst/internal/poller"
	"startup-analyst/internal/progress"
	"startup-analyst/internal/remote"
	"startup-analyst/internal/results"
	"startup-analyst/internal/shared/metrics"
	"startup-analyst/internal/shared/telemetry"
)

// ErrNoJobs is returned when the service accepted a batch but reported no
// job to track.
var ErrNoJobs = errors.New("analysis service returned no job ids")

// Outcome is how the most recent tracked submission ended.
type Outcome struct {
	JobIDs     []string        `json:"jobIds"`
	Inserted   []InsertOutcome `json:"inserted,omitempty"`
	Error      string          `json:"error,omitempty"`
	FinishedAt time.Time       `json:"finishedAt"`
}

// Failed reports whether the jobs ended in error.
func (o Outcome) Failed() bool { return o.Error != "" }

// TrackerDeps are the collaborators of a Tracker. Clearer, Publisher, Hub
// and OnFinish are optional.
type TrackerDeps struct {
	Submitter remote.Submitter
	Clearer   remote.ProgressClearer
	Poller    *poller.Poller
	Store     *Store
	Publisher events.Publisher
	Hub       *Hub
	OnFinish  func(Outcome)
}

// Tracker submits documents, follows their progress and lands the results
// in the store.
type Tracker struct {
	ctx        context.Context
	submitter  remote.Submitter
	clearer    remote.ProgressClearer
	poller     *poller.Poller
	store      *Store
	normalizer *results.Normalizer
	publisher  events.Publisher
	hub        *Hub
	onFinish   func(Outcome)
	now        func() time.Time

	mu         sync.Mutex
	submission remote.Submission
	last       *Outcome
}

// NewTracker binds the poller callbacks. ctx outlives individual requests
// and bounds every activation.
func NewTracker(ctx context.Context, deps TrackerDeps) (*Tracker, error) {
	if deps.Submitter == nil || deps.Poller == nil || deps.Store == nil {
		return nil, fmt.Errorf("tracker needs a submitter, a poller and a store")
	}
	t := &Tracker{
		ctx:        ctx,
		submitter:  deps.Submitter,
		clearer:    deps.Clearer,
		poller:     deps.Poller,
		store:      deps.Store,
		normalizer: deps.Store.normalizer,
		publisher:  deps.Publisher,
		hub:        deps.Hub,
		onFinish:   deps.OnFinish,
		now:        time.Now,
	}
	if t.publisher == nil {
		t.publisher = events.Noop{}
	}
	t.poller.Rebind(poller.Callbacks{
		OnComplete: t.handleComplete,
		OnError:    t.handleError,
		OnUpdate:   t.handleUpdate,
	})
	return t, nil
}

// Submit validates files, hands them to the analysis service and starts
// tracking the returned jobs. Any tracking already in flight is replaced.
func (t *Tracker) Submit(ctx context.Context, files []documents.File) (remote.Submission, error) {
	reports, err := documents.Validate(files)
	if err != nil {
		return remote.Submission{}, err
	}
	sub, err := t.submitter.SubmitAnalysis(ctx, files)
	if err != nil {
		telemetry.Error("tracker.submit_failed", map[string]any{
			"files": len(files),
			"error": err,
		})
		return remote.Submission{}, err
	}
	if len(sub.JobIDs) == 0 {
		return remote.Submission{}, ErrNoJobs
	}

	metrics.AddJobsSubmitted(len(sub.JobIDs))
	pages := 0
	for _, r := range reports {
		pages += r.Pages
	}
	telemetry.Info("tracker.submitted", map[string]any{
		"startup_id": sub.StartupID,
		"job_ids":    sub.JobIDs,
		"files":      len(files),
		"pdf_pages":  pages,
	})

	t.mu.Lock()
	t.submission = sub
	t.last = nil
	t.mu.Unlock()

	t.poller.Start(t.ctx, sub.JobIDs)
	return sub, nil
}

// Track follows jobs submitted elsewhere. Empty jobIDs tracks every job the
// service reports.
func (t *Tracker) Track(jobIDs []string) {
	t.mu.Lock()
	t.submission = remote.Submission{JobIDs: append([]string(nil), jobIDs...)}
	t.last = nil
	t.mu.Unlock()
	t.poller.Start(t.ctx, jobIDs)
}

// Cancel stops tracking without firing a terminal callback.
func (t *Tracker) Cancel() {
	t.poller.Stop()
}

// Status is the live poller view.
func (t *Tracker) Status() poller.Status {
	return t.poller.Status()
}

// Submission returns the batch currently or most recently tracked.
func (t *Tracker) Submission() remote.Submission {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.submission
}

// LastOutcome returns how the previous activation ended, if it has.
func (t *Tracker) LastOutcome() (Outcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last == nil {
		return Outcome{}, false
	}
	return *t.last, true
}

// ClearJob asks the service to forget a job's progress entry.
func (t *Tracker) ClearJob(ctx context.Context, jobID string) error {
	if t.clearer == nil {
		return fmt.Errorf("%w: progress clearing is not supported by this backend", remote.ErrRemoteRejected)
	}
	if err := t.clearer.ClearProgress(ctx, jobID); err != nil {
		return err
	}
	telemetry.Info("tracker.progress_cleared", map[string]any{"job_id": jobID})
	return nil
}

func (t *Tracker) handleUpdate(status poller.Status) {
	if t.hub != nil {
		t.hub.Broadcast(status)
	}
}

func (t *Tracker) handleComplete(records []progress.Record) {
	ctx := t.ctx
	jobIDs := make([]string, 0, len(records))
	var inserted []InsertOutcome
	for _, rec := range records {
		jobIDs = append(jobIDs, rec.JobID)
		if !hasPayload(rec.Result) {
			continue
		}
		res := t.normalizer.NormalizeJSON(rec.Result)
		out, err := t.store.Insert(ctx, res)
		if err != nil {
			telemetry.Error("tracker.insert_failed", map[string]any{
				"job_id":  rec.JobID,
				"company": res.CompanyName,
				"error":   err,
			})
			continue
		}
		inserted = append(inserted, out)
	}

	written := 0
	for _, o := range inserted {
		if !o.Duplicate {
			written++
		}
	}
	// The service may have stored the results itself.
	if written == 0 {
		if err := t.store.Reload(ctx); err != nil {
			telemetry.Warn("tracker.reload_failed", map[string]any{"error": err})
		}
	}

	t.publish(events.Event{Kind: events.KindAnalysisCompleted, JobIDs: jobIDs, At: t.now().UTC()})
	t.finish(Outcome{JobIDs: jobIDs, Inserted: inserted, FinishedAt: t.now().UTC()})
}

func (t *Tracker) handleError(message string) {
	jobIDs := t.Submission().JobIDs
	t.publish(events.Event{Kind: events.KindAnalysisFailed, JobIDs: jobIDs, Error: message, At: t.now().UTC()})
	t.finish(Outcome{JobIDs: jobIDs, Error: message, FinishedAt: t.now().UTC()})
}

func (t *Tracker) finish(o Outcome) {
	t.mu.Lock()
	t.last = &o
	t.mu.Unlock()
	if t.onFinish != nil {
		t.onFinish(o)
	}
}

func (t *Tracker) publish(e events.Event) {
	if err := t.publisher.Publish(t.ctx, e); err != nil {
		telemetry.Warn("tracker.event_failed", map[string]any{"kind": e.Kind, "error": err})
	}
}

func hasPayload(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

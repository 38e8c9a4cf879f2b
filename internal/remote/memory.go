package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"startup-analyst/internal/documents"
	"startup-analyst/internal/progress"
	"startup-analyst/internal/shared/telemetry"
)

// ProgressRetention is how long a progress entry is kept after its last
// update.
const ProgressRetention = 24 * time.Hour

// ResultFunc builds the result payload attached to a job when it completes.
type ResultFunc func(job MemoryJob) map[string]any

// MemoryJob is a job tracked by MemoryService.
type MemoryJob struct {
	ID           string
	StartupID    string
	FileName     string
	DocumentType string
	FileTag      string
	// Excerpt is the start of the document text when it could be read.
	Excerpt string
}

type memoryEntry struct {
	job    MemoryJob
	record progress.Record
}

// MemoryService is an in-process analysis service for local development
// and tests. With StepPerQuery > 0 every progress query advances unfinished
// jobs, so a submission completes on its own.
type MemoryService struct {
	StepPerQuery int
	Result       ResultFunc
	Now          func() time.Time

	mu      sync.Mutex
	order   []string
	entries map[string]*memoryEntry
	results []map[string]any
}

// NewMemoryService returns an empty service.
func NewMemoryService() *MemoryService {
	return &MemoryService{
		Result:  SimulatedResult,
		Now:     time.Now,
		entries: map[string]*memoryEntry{},
	}
}

// SubmitAnalysis starts tracking one job per file.
func (m *MemoryService) SubmitAnalysis(ctx context.Context, files []documents.File) (Submission, error) {
	if len(files) == 0 {
		return Submission{}, documents.ErrNoFiles
	}
	if err := ctx.Err(); err != nil {
		return Submission{}, err
	}
	sub := Submission{StartupID: uuid.NewString()}
	for _, f := range files {
		job := MemoryJob{
			ID:           uuid.NewString(),
			StartupID:    sub.StartupID,
			FileName:     f.Name,
			DocumentType: string(f.Type),
			FileTag:      f.Tag(),
			Excerpt:      excerptOf(f),
		}
		m.Track(job)
		sub.Documents = append(sub.Documents, SubmittedDocument{
			JobID:        job.ID,
			FileName:     f.Name,
			DocumentType: job.DocumentType,
			Status:       string(progress.StatusPending),
		})
	}
	sub.JobIDs = jobIDs(sub.Documents)
	return sub, nil
}

// Track registers a pending job.
func (m *MemoryService) Track(job MemoryJob) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[job.ID]; !ok {
		m.order = append(m.order, job.ID)
	}
	m.entries[job.ID] = &memoryEntry{
		job: job,
		record: progress.Record{
			JobID:      job.ID,
			Status:     progress.StatusPending,
			Message:    "Initializing...",
			TotalSteps: 100,
			StartedAt:  now,
			UpdatedAt:  now,
		},
	}
}

// Update sets a job's progress. Negative progress marks the job failed with
// message as the error.
func (m *MemoryService) Update(jobID string, percent int, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	m.applyLocked(e, percent, message)
	return nil
}

// Complete finishes a job. A failed job gets progress -1 and message as
// its error.
func (m *MemoryService) Complete(jobID string, success bool, message string) error {
	if success {
		if message == "" {
			message = "Processing completed successfully"
		}
		return m.Update(jobID, 100, message)
	}
	if message == "" {
		message = "Processing failed"
	}
	return m.Update(jobID, progress.ErrorSentinel, message)
}

func (m *MemoryService) applyLocked(e *memoryEntry, percent int, message string) {
	rec := &e.record
	rec.UpdatedAt = m.now()
	rec.Message = message
	switch {
	case percent < 0:
		rec.ProgressPercent = progress.ErrorSentinel
		rec.Status = progress.StatusErrored
		rec.Error = message
	case percent >= 100:
		rec.ProgressPercent = 100
		rec.Status = progress.StatusCompleted
		if m.Result != nil {
			if payload, err := json.Marshal(m.Result(e.job)); err == nil {
				rec.Result = payload
			}
		}
	default:
		rec.ProgressPercent = percent
		rec.Status = progress.StatusRunning
	}
}

// QueryProgress returns every tracked job in submission order.
func (m *MemoryService) QueryProgress(ctx context.Context) (progress.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return progress.Snapshot{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	records := make([]progress.Record, 0, len(m.order))
	for _, id := range m.order {
		e := m.entries[id]
		if m.StepPerQuery > 0 && !e.record.Terminal() {
			next := e.record.ProgressPercent + m.StepPerQuery
			m.applyLocked(e, next, stageMessage(next))
		}
		records = append(records, e.record)
	}
	return progress.NewSnapshot(records...), nil
}

func stageMessage(p int) string {
	switch {
	case p >= 100:
		return "Processing completed successfully"
	case p >= 70:
		return "Generating investment analysis..."
	case p >= 40:
		return "Extracting structured data..."
	default:
		return "Processing document..."
	}
}

// ClearProgress drops one job.
func (m *MemoryService) ClearProgress(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[jobID]; !ok {
		return fmt.Errorf("job %s: %w", jobID, ErrNotFound)
	}
	m.removeLocked(jobID)
	return nil
}

// CleanupProgress drops entries not updated within maxAge and returns how
// many were removed.
func (m *MemoryService) CleanupProgress(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)
	m.mu.Lock()
	defer m.mu.Unlock()
	var stale []string
	for _, id := range m.order {
		if m.entries[id].record.UpdatedAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		m.removeLocked(id)
	}
	if len(stale) > 0 {
		telemetry.Info("remote.progress_cleanup", map[string]any{"removed": len(stale)})
	}
	return len(stale)
}

func (m *MemoryService) removeLocked(jobID string) {
	delete(m.entries, jobID)
	for i, id := range m.order {
		if id == jobID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// ListResults returns copies of the stored records.
func (m *MemoryService) ListResults(ctx context.Context) ([]map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]any, 0, len(m.results))
	for _, r := range m.results {
		out = append(out, copyRecord(r))
	}
	return out, nil
}

// CreateResult stores a copy of record, assigning an id when it has none.
func (m *MemoryService) CreateResult(ctx context.Context, record map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	rec := copyRecord(record)
	id, _ := rec["id"].(string)
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
		rec["id"] = id
	}
	if _, ok := rec["createdAt"]; !ok {
		rec["createdAt"] = m.now().UTC().Format(time.RFC3339Nano)
	}
	m.mu.Lock()
	m.results = append(m.results, rec)
	m.mu.Unlock()
	return id, nil
}

// DeleteResult removes every record with id.
func (m *MemoryService) DeleteResult(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.results[:0]
	removed := 0
	for _, r := range m.results {
		if rid, _ := r["id"].(string); rid == id {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	m.results = kept
	if removed == 0 {
		return fmt.Errorf("result %s: %w", id, ErrNotFound)
	}
	return nil
}

// Counts reports how many tracked jobs are active and finished.
func (m *MemoryService) Counts() (active, finished int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.record.Terminal() {
			finished++
		} else {
			active++
		}
	}
	return active, finished
}

func (m *MemoryService) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// SimulatedResult derives a document-shaped result from the file name so
// the development loop produces something to display.
func SimulatedResult(job MemoryJob) map[string]any {
	stem := strings.TrimSuffix(filepath.Base(job.FileName), filepath.Ext(job.FileName))
	name := strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(stem))
	if name == "" {
		name = "Unknown Company"
	}
	tags := []string{}
	if job.FileTag != "" {
		tags = append(tags, job.FileTag)
	}
	summary := "Simulated analysis of " + job.FileName
	if job.Excerpt != "" {
		summary = job.Excerpt
	}
	return map[string]any{
		"companyName":    name,
		"score":          70,
		"recommendation": "HOLD",
		"sector":         "Unknown",
		"documentCount":  1,
		"fileTypes":      tags,
		"confidence":     0.8,
		"structuredData": map[string]any{
			"executiveSummary": summary,
		},
	}
}

const excerptRunes = 280

func excerptOf(f documents.File) string {
	text, err := documents.ExtractText(f)
	if err != nil {
		telemetry.Info("memory.extract_skipped", map[string]any{"file": f.Name, "error": err})
		return ""
	}
	return documents.Excerpt(text, excerptRunes)
}

func copyRecord(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var (
	_ Submitter       = (*MemoryService)(nil)
	_ ProgressSource  = (*MemoryService)(nil)
	_ ProgressClearer = (*MemoryService)(nil)
	_ Backend         = (*MemoryService)(nil)
)

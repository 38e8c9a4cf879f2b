package progress

import (
	"encoding/json"
	"strings"
	"time"
)

// Status is the lifecycle state of a single job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusErrored   Status = "errored"
)

// ErrorSentinel is the progress value the backend reports for a failed job.
const ErrorSentinel = -1

// DefaultMessage is shown when no pending record carries a usable message.
const DefaultMessage = "Processing…"

// Record is the progress of one submitted job as of the latest poll.
type Record struct {
	JobID           string          `json:"jobId"`
	ProgressPercent int             `json:"progressPercent"`
	Status          Status          `json:"status"`
	Message         string          `json:"message"`
	Error           string          `json:"error,omitempty"`
	PerFileProgress map[string]int  `json:"perFileProgress,omitempty"`
	TotalSteps      int             `json:"totalSteps,omitempty"`
	StartedAt       time.Time       `json:"startedAt,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt,omitempty"`
	Result          json.RawMessage `json:"result,omitempty"`
}

// Terminal reports whether no further automatic transition is expected.
func (r Record) Terminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusErrored
}

// Failed reports whether the job itself failed.
func (r Record) Failed() bool {
	return r.Status == StatusErrored
}

// ErrorText returns the most specific failure description available.
func (r Record) ErrorText() string {
	if msg := strings.TrimSpace(r.Error); msg != "" {
		return msg
	}
	if msg := strings.TrimSpace(r.Message); msg != "" {
		return msg
	}
	return "Processing failed"
}

// ParseStatus maps the status words used by the analysis backends.
func ParseStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "completed", "complete", "success", "succeeded", "done":
		return StatusCompleted
	case "error", "errored", "failed", "failure":
		return StatusErrored
	case "processing", "running", "in_progress", "analyzing":
		return StatusRunning
	default:
		return StatusPending
	}
}

// settle enforces the relationship between progress and status. An errored
// record always carries the sentinel, whatever percent the backend sent.
func (r *Record) settle(completedFlag bool) {
	switch {
	case r.ProgressPercent < 0:
		r.ProgressPercent = ErrorSentinel
		r.Status = StatusErrored
	case r.ProgressPercent > 100:
		r.ProgressPercent = 100
	}
	if r.Status == StatusErrored {
		r.ProgressPercent = ErrorSentinel
		return
	}
	if r.ProgressPercent >= 100 || completedFlag {
		r.Status = StatusCompleted
	}
	if r.Status == StatusCompleted {
		r.ProgressPercent = 100
	}
}

// Snapshot is the full record table returned by one progress query, in the
// order the backend listed the jobs.
type Snapshot struct {
	records []Record
	index   map[string]int
}

// NewSnapshot builds a snapshot. A repeated job ID replaces the earlier
// record but keeps its position.
func NewSnapshot(records ...Record) Snapshot {
	s := Snapshot{index: make(map[string]int, len(records))}
	for _, rec := range records {
		s.put(rec)
	}
	return s
}

func (s *Snapshot) put(rec Record) {
	if s.index == nil {
		s.index = make(map[string]int)
	}
	if i, ok := s.index[rec.JobID]; ok {
		s.records[i] = rec
		return
	}
	s.index[rec.JobID] = len(s.records)
	s.records = append(s.records, rec)
}

// Len returns the number of records.
func (s Snapshot) Len() int { return len(s.records) }

// Get looks up one job.
func (s Snapshot) Get(jobID string) (Record, bool) {
	i, ok := s.index[jobID]
	if !ok {
		return Record{}, false
	}
	return s.records[i], true
}

// Records returns a copy of the table in backend order.
func (s Snapshot) Records() []Record {
	return append([]Record(nil), s.records...)
}

// JobIDs returns the job IDs in backend order.
func (s Snapshot) JobIDs() []string {
	ids := make([]string, 0, len(s.records))
	for _, rec := range s.records {
		ids = append(ids, rec.JobID)
	}
	return ids
}

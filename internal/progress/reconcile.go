package progress

// Outcome is the completion verdict for a set of relevant records.
type Outcome struct {
	Done      bool
	Failed    bool
	ErrorText string
}

// Relevant selects the tracked subset of a snapshot. An empty jobIDs tracks
// every record the backend reports. A tracked job the backend has not listed
// yet is represented as a pending placeholder so it holds completion back.
func Relevant(snap Snapshot, jobIDs []string) []Record {
	if len(jobIDs) == 0 {
		return snap.Records()
	}
	out := make([]Record, 0, len(jobIDs))
	seen := make(map[string]struct{}, len(jobIDs))
	for _, id := range jobIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if rec, ok := snap.Get(id); ok {
			out = append(out, rec)
			continue
		}
		out = append(out, Record{JobID: id, Status: StatusPending})
	}
	return out
}

// Aggregate is the mean of max(0, progress) over records; 0 for none.
// Errored records contribute 0.
func Aggregate(records []Record) float64 {
	if len(records) == 0 {
		return 0
	}
	total := 0
	for _, rec := range records {
		if rec.Status != StatusErrored && rec.ProgressPercent > 0 {
			total += rec.ProgressPercent
		}
	}
	return float64(total) / float64(len(records))
}

// DisplayMessage returns the message of the first record still in flight.
// Errored records are skipped even when they report a non-negative percent,
// so a failure text never reads as a live status line.
func DisplayMessage(records []Record) string {
	for _, rec := range records {
		if rec.Terminal() || rec.ProgressPercent < 0 {
			continue
		}
		if rec.Message != "" {
			return rec.Message
		}
		break
	}
	return DefaultMessage
}

// Evaluate decides whether tracking is finished. An empty set is never done.
func Evaluate(records []Record) Outcome {
	if len(records) == 0 {
		return Outcome{}
	}
	var out Outcome
	for _, rec := range records {
		if !rec.Terminal() {
			return Outcome{}
		}
		if rec.Failed() && !out.Failed {
			out.Failed = true
			out.ErrorText = rec.ErrorText()
		}
	}
	out.Done = true
	return out
}

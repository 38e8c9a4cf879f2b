package progress

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"startup-analyst/internal/shared/util"
)

var (
	// ErrMalformed is returned when the progress payload is not a JSON object.
	ErrMalformed = errors.New("malformed progress payload")
	// ErrQueryRejected is returned when the backend answers with success=false.
	ErrQueryRejected = errors.New("progress query rejected")
)

type envelope struct {
	Success         *bool           `json:"success"`
	Error           string          `json:"error"`
	ProgressData    json.RawMessage `json:"progress_data"`
	ProgressRecords json.RawMessage `json:"progressRecords"`
}

// DecodeSnapshot parses a progress query response. Both the
// {"progress_data":{...}} and {"progressRecords":{...}} envelopes are
// accepted, as is a bare array of records. Job order is preserved.
func DecodeSnapshot(body []byte) (Snapshot, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return Snapshot{}, ErrMalformed
	}
	if trimmed[0] == '[' {
		return decodeArray(trimmed)
	}

	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Success != nil && !*env.Success {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrQueryRejected, strings.TrimSpace(env.Error))
	}

	raw := env.ProgressData
	if isEmptyJSON(raw) {
		raw = env.ProgressRecords
	}
	if isEmptyJSON(raw) {
		return NewSnapshot(), nil
	}
	if bytes.TrimSpace(raw)[0] == '[' {
		return decodeArray(raw)
	}

	keys, values, err := orderedObject(raw)
	if err != nil {
		return Snapshot{}, err
	}
	snap := NewSnapshot()
	for i, key := range keys {
		snap.put(decodeRecord(key, values[i]))
	}
	return snap, nil
}

func decodeArray(raw []byte) (Snapshot, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	snap := NewSnapshot()
	for _, item := range items {
		rec := decodeRecord("", item)
		if rec.JobID == "" {
			continue
		}
		snap.put(rec)
	}
	return snap, nil
}

// orderedObject walks a JSON object keeping member order, which a Go map
// would lose.
func orderedObject(raw []byte) ([]string, []json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, ErrMalformed
	}

	var keys []string
	var values []json.RawMessage
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, ErrMalformed
		}
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		keys = append(keys, key)
		values = append(values, value)
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return keys, values, nil
}

// decodeRecord reads one job entry field by field so a single wrong-typed
// field does not discard the whole record.
func decodeRecord(key string, raw json.RawMessage) Record {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Record{JobID: key, Status: StatusPending}
	}

	rec := Record{
		JobID:   firstString(fields, "document_id", "jobId", "job_id", "id"),
		Status:  ParseStatus(firstString(fields, "status")),
		Message: firstString(fields, "message", "stage"),
		Error:   firstString(fields, "error", "error_message"),
	}
	if key != "" {
		rec.JobID = key
	}
	if p, ok := firstNumber(fields, "progress", "progressPercent", "progress_percent"); ok {
		rec.ProgressPercent = int(math.Round(p))
	}
	if steps, ok := firstNumber(fields, "total_steps", "totalSteps"); ok && steps > 0 {
		rec.TotalSteps = int(steps)
	}
	if ts, ok := util.ParseTimestamp(firstString(fields, "started_at", "startedAt")); ok {
		rec.StartedAt = ts
	}
	if ts, ok := util.ParseTimestamp(firstString(fields, "updated_at", "updatedAt")); ok {
		rec.UpdatedAt = ts
	}
	rec.PerFileProgress = perFile(fields)
	if res, ok := fields["result"]; ok && res != nil {
		if encoded, err := json.Marshal(res); err == nil {
			rec.Result = encoded
		}
	}

	completed, _ := fields["completed"].(bool)
	rec.settle(completed)
	return rec
}

func perFile(fields map[string]any) map[string]int {
	var raw map[string]any
	for _, key := range []string{"perFileProgress", "per_file_progress", "file_progress"} {
		if m, ok := fields[key].(map[string]any); ok {
			raw = m
			break
		}
	}
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]int, len(raw))
	for name, v := range raw {
		p, ok := toNumber(v)
		if !ok {
			continue
		}
		out[name] = clampPercent(int(math.Round(p)))
	}
	return out
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func firstString(fields map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := fields[key].(string); ok {
			if trimmed := strings.TrimSpace(s); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func firstNumber(fields map[string]any, keys ...string) (float64, bool) {
	for _, key := range keys {
		if v, ok := fields[key]; ok {
			if n, ok := toNumber(v); ok {
				return n, true
			}
		}
	}
	return 0, false
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return n, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(n), "%"), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func isEmptyJSON(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

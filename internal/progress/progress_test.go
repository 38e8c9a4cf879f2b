package progress

import (
	"errors"
	"testing"
)

func TestDecodeSnapshotPreservesBackendOrder(t *testing.T) {
	body := []byte(`{
		"success": true,
		"total_documents": 3,
		"progress_data": {
			"zeta": {"document_id": "zeta", "progress": 40, "status": "processing", "message": "Extracting financial metrics...", "completed": false},
			"alpha": {"document_id": "alpha", "progress": 100, "status": "completed", "message": "Analysis completed successfully", "completed": true},
			"mid": {"document_id": "mid", "progress": -1, "status": "error", "message": "Processing failed", "error": "unsupported layout", "completed": true}
		}
	}`)

	snap, err := DecodeSnapshot(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ids := snap.JobIDs()
	want := []string{"zeta", "alpha", "mid"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(ids))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %q want %q", i, ids[i], want[i])
		}
	}

	zeta, _ := snap.Get("zeta")
	if zeta.Status != StatusRunning || zeta.ProgressPercent != 40 {
		t.Fatalf("unexpected zeta record: %+v", zeta)
	}
	mid, _ := snap.Get("mid")
	if mid.Status != StatusErrored || mid.ProgressPercent != ErrorSentinel {
		t.Fatalf("expected errored sentinel record, got %+v", mid)
	}
	if mid.ErrorText() != "unsupported layout" {
		t.Fatalf("unexpected error text: %q", mid.ErrorText())
	}
}

func TestDecodeSnapshotAlternateShapes(t *testing.T) {
	snap, err := DecodeSnapshot([]byte(`{"progressRecords":{"job-1":{"progressPercent":"55","status":"running","perFileProgress":{"deck.pdf":55,"model.docx":140}}}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	rec, ok := snap.Get("job-1")
	if !ok {
		t.Fatalf("expected job-1")
	}
	if rec.ProgressPercent != 55 {
		t.Fatalf("expected progress parsed from string, got %d", rec.ProgressPercent)
	}
	if rec.PerFileProgress["model.docx"] != 100 {
		t.Fatalf("expected per-file progress clamped to 100, got %d", rec.PerFileProgress["model.docx"])
	}

	arr, err := DecodeSnapshot([]byte(`[{"jobId":"a","progress":100},{"progress":10},{"jobId":"b","status":"starting"}]`))
	if err != nil {
		t.Fatalf("decode array: %v", err)
	}
	if arr.Len() != 2 {
		t.Fatalf("expected records without ids to be skipped, got %d", arr.Len())
	}
	a, _ := arr.Get("a")
	if a.Status != StatusCompleted {
		t.Fatalf("expected progress 100 to imply completed, got %s", a.Status)
	}
}

func TestDecodeSnapshotErrors(t *testing.T) {
	if _, err := DecodeSnapshot([]byte(`{"success":false,"error":"tracker offline"}`)); !errors.Is(err, ErrQueryRejected) {
		t.Fatalf("expected ErrQueryRejected, got %v", err)
	}
	if _, err := DecodeSnapshot([]byte(`not json`)); !errors.Is(err, ErrMalformed) {
		t.Fatalf("expected ErrMalformed, got %v", err)
	}
	snap, err := DecodeSnapshot([]byte(`{"success":true,"progress_data":{}}`))
	if err != nil || snap.Len() != 0 {
		t.Fatalf("expected empty snapshot, got %d records err=%v", snap.Len(), err)
	}
}

func TestDecodeRecordToleratesWrongTypes(t *testing.T) {
	snap, err := DecodeSnapshot([]byte(`{"progress_data":{"x":{"progress":{"bad":true},"status":7,"message":["nope"]},"y":"garbage"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	x, _ := snap.Get("x")
	if x.Status != StatusPending || x.ProgressPercent != 0 || x.Message != "" {
		t.Fatalf("expected defaulted record, got %+v", x)
	}
	if _, ok := snap.Get("y"); !ok {
		t.Fatalf("expected placeholder for unparseable entry")
	}
}

func TestDecodeErroredRecordCarriesSentinel(t *testing.T) {
	snap, err := DecodeSnapshot([]byte(`{"progress_data":{"a":{"progress":100,"status":"error","error":"boom"}}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	rec, ok := snap.Get("a")
	if !ok {
		t.Fatalf("record a missing")
	}
	if rec.Status != StatusErrored || rec.ProgressPercent != ErrorSentinel {
		t.Fatalf("expected errored sentinel, got %+v", rec)
	}
	if got := Aggregate(snap.Records()); got != 0 {
		t.Fatalf("errored job must not report progress, got %v", got)
	}
	if out := Evaluate(snap.Records()); !out.Done || !out.Failed || out.ErrorText != "boom" {
		t.Fatalf("unexpected outcome %+v", out)
	}
}

func TestAggregateClampsErroredRecords(t *testing.T) {
	tests := []struct {
		name    string
		records []Record
		want    float64
	}{
		{name: "empty", records: nil, want: 0},
		{name: "one done one pending", records: []Record{{ProgressPercent: 100}, {ProgressPercent: 0}}, want: 50},
		{name: "errored contributes zero", records: []Record{{ProgressPercent: 100}, {ProgressPercent: -1}}, want: 50},
		{name: "errored with full percent", records: []Record{{Status: StatusErrored, ProgressPercent: 100}, {ProgressPercent: 50}}, want: 25},
		{name: "mixed", records: []Record{{ProgressPercent: 30}, {ProgressPercent: 60}, {ProgressPercent: 90}}, want: 60},
	}
	for _, tt := range tests {
		if got := Aggregate(tt.records); got != tt.want {
			t.Fatalf("%s: Aggregate = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDisplayMessage(t *testing.T) {
	records := []Record{
		{JobID: "a", Status: StatusCompleted, ProgressPercent: 100, Message: "Analysis completed successfully"},
		{JobID: "b", Status: StatusErrored, ProgressPercent: -1, Message: "Processing failed"},
		{JobID: "c", Status: StatusRunning, ProgressPercent: 45, Message: "Generating AI insights..."},
		{JobID: "d", Status: StatusRunning, ProgressPercent: 10, Message: "Starting content extraction..."},
	}
	if got := DisplayMessage(records); got != "Generating AI insights..." {
		t.Fatalf("unexpected message: %q", got)
	}
	if got := DisplayMessage(records[:2]); got != DefaultMessage {
		t.Fatalf("expected default message, got %q", got)
	}
	failedAtZero := Record{JobID: "f", Status: StatusErrored, ProgressPercent: 0, Message: "Processing failed"}
	if got := DisplayMessage([]Record{failedAtZero}); got != DefaultMessage {
		t.Fatalf("errored record must not supply the message, got %q", got)
	}
	if got := DisplayMessage([]Record{{JobID: "e", Status: StatusPending}}); got != DefaultMessage {
		t.Fatalf("expected default message for empty stage text, got %q", got)
	}
}

func TestEvaluate(t *testing.T) {
	running := Record{JobID: "a", Status: StatusRunning, ProgressPercent: 40}
	done := Record{JobID: "a", Status: StatusCompleted, ProgressPercent: 100}
	failed := Record{JobID: "b", Status: StatusErrored, ProgressPercent: -1, Message: "Processing failed", Error: "corrupt pdf"}

	if out := Evaluate(nil); out.Done {
		t.Fatalf("empty set must not complete")
	}
	if out := Evaluate([]Record{done, running}); out.Done {
		t.Fatalf("expected not done while a record is running")
	}
	out := Evaluate([]Record{done, failed})
	if !out.Done || !out.Failed || out.ErrorText != "corrupt pdf" {
		t.Fatalf("expected failed outcome with error text, got %+v", out)
	}
	out = Evaluate([]Record{done})
	if !out.Done || out.Failed {
		t.Fatalf("expected successful outcome, got %+v", out)
	}
}

func TestRelevantAddsPlaceholdersForUnlistedJobs(t *testing.T) {
	snap := NewSnapshot(
		Record{JobID: "other", Status: StatusRunning, ProgressPercent: 20},
		Record{JobID: "a", Status: StatusCompleted, ProgressPercent: 100},
	)
	rel := Relevant(snap, []string{"a", "b", "a"})
	if len(rel) != 2 {
		t.Fatalf("expected 2 relevant records, got %d", len(rel))
	}
	if rel[1].JobID != "b" || rel[1].Status != StatusPending {
		t.Fatalf("expected pending placeholder for b, got %+v", rel[1])
	}
	if Evaluate(rel).Done {
		t.Fatalf("unlisted tracked job must hold completion back")
	}
	if all := Relevant(snap, nil); len(all) != 2 || all[0].JobID != "other" {
		t.Fatalf("expected every record in backend order, got %+v", all)
	}
}

func TestParseStatus(t *testing.T) {
	cases := map[string]Status{
		"starting":   StatusPending,
		"":           StatusPending,
		"processing": StatusRunning,
		"Completed":  StatusCompleted,
		"error":      StatusErrored,
		"FAILED":     StatusErrored,
	}
	for in, want := range cases {
		if got := ParseStatus(in); got != want {
			t.Fatalf("ParseStatus(%q) = %s, want %s", in, got, want)
		}
	}
}

package remote

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"startup-analyst/internal/documents"
	"startup-analyst/internal/progress"
)

func TestMemoryServiceAutoAdvancesToCompletion(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryService()
	m.StepPerQuery = 50

	sub, err := m.SubmitAnalysis(ctx, []documents.File{
		{Name: "acme_robotics.pdf", Type: documents.TypePitchDeck},
		{Name: "acme_plan.docx", Type: documents.TypeBusinessPlan},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(sub.JobIDs) != 2 {
		t.Fatalf("expected one job per file, got %v", sub.JobIDs)
	}

	snap, _ := m.QueryProgress(ctx)
	rec, _ := snap.Get(sub.JobIDs[0])
	if rec.ProgressPercent != 50 || rec.Status != progress.StatusRunning {
		t.Fatalf("unexpected first step %+v", rec)
	}

	snap, _ = m.QueryProgress(ctx)
	rec, _ = snap.Get(sub.JobIDs[0])
	if rec.Status != progress.StatusCompleted || rec.ProgressPercent != 100 {
		t.Fatalf("expected completion, got %+v", rec)
	}
	var payload map[string]any
	if err := json.Unmarshal(rec.Result, &payload); err != nil {
		t.Fatalf("result payload: %v", err)
	}
	if payload["companyName"] != "acme robotics" {
		t.Fatalf("unexpected simulated company %v", payload["companyName"])
	}
	if ids := snap.JobIDs(); ids[0] != sub.JobIDs[0] || ids[1] != sub.JobIDs[1] {
		t.Fatalf("expected submission order, got %v", ids)
	}

	active, finished := m.Counts()
	if active != 0 || finished != 2 {
		t.Fatalf("unexpected counts active=%d finished=%d", active, finished)
	}
}

func TestMemoryServiceFailureAndClear(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryService()
	m.Track(MemoryJob{ID: "j1"})

	if err := m.Complete("j1", false, "OCR failed"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	snap, _ := m.QueryProgress(ctx)
	rec, _ := snap.Get("j1")
	if rec.Status != progress.StatusErrored || rec.ProgressPercent != progress.ErrorSentinel || rec.Error != "OCR failed" {
		t.Fatalf("unexpected failed record %+v", rec)
	}

	if err := m.ClearProgress(ctx, "j1"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := m.ClearProgress(ctx, "j1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := m.Update("missing", 10, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryServiceCleanupDropsStaleEntries(t *testing.T) {
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	m := NewMemoryService()
	m.Now = func() time.Time { return now }
	m.Track(MemoryJob{ID: "old"})
	now = now.Add(ProgressRetention + time.Minute)
	m.Track(MemoryJob{ID: "fresh"})

	if removed := m.CleanupProgress(ProgressRetention); removed != 1 {
		t.Fatalf("expected one removal, got %d", removed)
	}
	snap, _ := m.QueryProgress(context.Background())
	if ids := snap.JobIDs(); len(ids) != 1 || ids[0] != "fresh" {
		t.Fatalf("unexpected remaining jobs %v", ids)
	}
}

func TestMemoryServiceResults(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryService()

	id, err := m.CreateResult(ctx, map[string]any{"companyName": "Acme"})
	if err != nil || id == "" {
		t.Fatalf("create: id=%q err=%v", id, err)
	}
	if _, err := m.CreateResult(ctx, map[string]any{"id": "fixed", "companyName": "Beta"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	list, _ := m.ListResults(ctx)
	if len(list) != 2 || list[0]["id"] != id || list[0]["createdAt"] == nil {
		t.Fatalf("unexpected list %v", list)
	}
	list[0]["companyName"] = "mutated"
	again, _ := m.ListResults(ctx)
	if again[0]["companyName"] != "Acme" {
		t.Fatalf("expected list to return copies")
	}

	if err := m.DeleteResult(ctx, "fixed"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := m.DeleteResult(ctx, "fixed"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSimulatedResultUsesExcerpt(t *testing.T) {
	res := SimulatedResult(MemoryJob{FileName: "acme_robotics.pdf", FileTag: "PDF", Excerpt: "Acme builds warehouse robots."})
	if res["companyName"] != "acme robotics" {
		t.Fatalf("unexpected name %v", res["companyName"])
	}
	sd := res["structuredData"].(map[string]any)
	if sd["executiveSummary"] != "Acme builds warehouse robots." {
		t.Fatalf("unexpected summary %v", sd["executiveSummary"])
	}

	res = SimulatedResult(MemoryJob{FileName: "memo.doc"})
	sd = res["structuredData"].(map[string]any)
	if sd["executiveSummary"] != "Simulated analysis of memo.doc" {
		t.Fatalf("unexpected fallback summary %v", sd["executiveSummary"])
	}
}

// Package session wires submission, progress tracking and the result
// collection together and serves them over HTTP.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"startup-analyst/internal/dedupe"
	"startup-analyst/internal/events"
	"startup-analyst/internal/remote"
	"startup-analyst/internal/results"
	"startup-analyst/internal/shared/metrics"
	"startup-analyst/internal/shared/telemetry"
)

// ErrNotFound is returned for ids that are not in the collection.
var ErrNotFound = errors.New("result not found")

// Source is a named results backend. The first source given to NewStore
// receives inserts.
type Source struct {
	Name    string
	Backend remote.Backend
}

// InsertOutcome reports what Insert did.
type InsertOutcome struct {
	ID        string `json:"id"`
	Duplicate bool   `json:"duplicate"`
}

// Store owns the canonical result collection. Writes (reload, insert,
// delete) are serialized; reads return copies.
type Store struct {
	sources    []Source
	normalizer *results.Normalizer
	policy     dedupe.NearPolicy
	publisher  events.Publisher
	now        func() time.Time

	writeMu sync.Mutex

	mu       sync.RWMutex
	all      []results.Result
	loadedAt time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithNearPolicy overrides the insert guard thresholds.
func WithNearPolicy(p dedupe.NearPolicy) StoreOption {
	return func(s *Store) { s.policy = p }
}

// WithPublisher emits result events.
func WithPublisher(p events.Publisher) StoreOption {
	return func(s *Store) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithNormalizer replaces the default normalizer.
func WithNormalizer(n *results.Normalizer) StoreOption {
	return func(s *Store) { s.normalizer = n }
}

// NewStore builds an empty store. Call Reload to populate it.
func NewStore(sources []Source, opts ...StoreOption) (*Store, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("at least one results source is required")
	}
	for i, src := range sources {
		if src.Backend == nil {
			return nil, fmt.Errorf("results source %d has no backend", i)
		}
		if strings.TrimSpace(src.Name) == "" {
			sources[i].Name = fmt.Sprintf("source-%d", i)
		}
	}
	s := &Store{
		sources:    sources,
		normalizer: results.NewNormalizer(),
		policy:     dedupe.DefaultNearPolicy,
		publisher:  events.Noop{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Reload lists every source and replaces the collection. If any source
// fails, the previous collection is kept.
func (s *Store) Reload(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.reloadLocked(ctx)
}

func (s *Store) reloadLocked(ctx context.Context) error {
	start := time.Now()
	var next []results.Result
	for _, src := range s.sources {
		raws, err := src.Backend.ListResults(ctx)
		if err != nil {
			metrics.IncReloadFailures()
			telemetry.Error("store.reload_failed", map[string]any{
				"source": src.Name,
				"error":  err,
			})
			return fmt.Errorf("reload %s: %w", src.Name, err)
		}
		next = append(next, s.normalizer.NormalizeAll(raws, src.Name)...)
	}

	s.mu.Lock()
	s.all = next
	s.loadedAt = s.now()
	s.mu.Unlock()

	elapsed := time.Since(start)
	metrics.IncReloads()
	metrics.ObserveReloadDurationMs(float64(elapsed.Milliseconds()))
	telemetry.Info("store.reloaded", map[string]any{
		"count":       len(next),
		"sources":     len(s.sources),
		"duration_ms": elapsed.Milliseconds(),
	})
	return nil
}

// Insert stores res unless it nearly duplicates an existing record, then
// reloads. A skipped duplicate is not an error.
func (s *Store) Insert(ctx context.Context, res results.Result) (InsertOutcome, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := s.now()
	if existing, dup := dedupe.FindNearDuplicate(s.snapshot(), res, now, s.policy); dup {
		metrics.IncDuplicatesSkipped()
		telemetry.Info("store.duplicate_skipped", map[string]any{
			"company":     res.CompanyName,
			"score":       res.Score,
			"existing_id": existing.ID,
		})
		return InsertOutcome{ID: existing.ID, Duplicate: true}, nil
	}

	if res.CreatedAt.IsZero() {
		res.CreatedAt = now.UTC()
	}
	if res.ID == "" {
		res.ID = s.normalizer.GenerateID()
	}

	primary := s.sources[0]
	id, err := primary.Backend.CreateResult(ctx, results.Outbound(res))
	if err != nil {
		telemetry.Error("store.insert_failed", map[string]any{
			"source":  primary.Name,
			"company": res.CompanyName,
			"error":   err,
		})
		return InsertOutcome{}, fmt.Errorf("create result: %w", err)
	}
	if id == "" {
		id = res.ID
	}
	metrics.IncResultsInserted()
	telemetry.Info("store.inserted", map[string]any{
		"result_id": id,
		"company":   res.CompanyName,
		"score":     res.Score,
	})
	s.publish(ctx, events.Event{
		Kind:        events.KindResultInserted,
		ResultID:    id,
		CompanyName: res.CompanyName,
		Score:       res.Score,
		At:          now.UTC(),
	})

	if err := s.reloadLocked(ctx); err != nil {
		telemetry.Warn("store.reload_after_insert_failed", map[string]any{"result_id": id, "error": err})
	}
	return InsertOutcome{ID: id}, nil
}

// Delete removes id from every source that currently lists it, then
// reloads. A source that no longer has the id counts as done. When any
// source refuses, the collection is left unchanged.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	rec, ok := s.Get(id)
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	holders := s.sourcesHolding(id)
	for _, src := range holders {
		err := src.Backend.DeleteResult(ctx, id)
		if err == nil || errors.Is(err, remote.ErrNotFound) {
			continue
		}
		telemetry.Warn("store.delete_rejected", map[string]any{
			"result_id": id,
			"source":    src.Name,
			"error":     err,
		})
		if errors.Is(err, remote.ErrRemoteRejected) {
			return err
		}
		return fmt.Errorf("%w: delete %s from %s: %v", remote.ErrRemoteRejected, id, src.Name, err)
	}
	telemetry.Info("store.deleted", map[string]any{"result_id": id, "sources": len(holders)})
	s.publish(ctx, events.Event{
		Kind:        events.KindResultDeleted,
		ResultID:    id,
		CompanyName: rec.CompanyName,
		At:          s.now().UTC(),
	})

	if err := s.reloadLocked(ctx); err != nil {
		telemetry.Warn("store.reload_after_delete_failed", map[string]any{"result_id": id, "error": err})
	}
	return nil
}

// sourcesHolding lists, in source order, the sources whose records carry
// id. Records with an unknown origin map to the primary source.
func (s *Store) sourcesHolding(id string) []Source {
	origins := map[string]bool{}
	s.mu.RLock()
	for _, r := range s.all {
		if r.ID == id {
			origins[s.sourceFor(r.Origin).Name] = true
		}
	}
	s.mu.RUnlock()

	var out []Source
	for _, src := range s.sources {
		if origins[src.Name] {
			out = append(out, src)
		}
	}
	return out
}

func (s *Store) sourceFor(origin string) Source {
	for _, src := range s.sources {
		if src.Name == origin {
			return src
		}
	}
	return s.sources[0]
}

func (s *Store) publish(ctx context.Context, e events.Event) {
	if err := s.publisher.Publish(ctx, e); err != nil {
		telemetry.Warn("store.event_failed", map[string]any{"kind": e.Kind, "error": err})
	}
}

func (s *Store) snapshot() []results.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]results.Result(nil), s.all...)
}

// List returns the collection with exact duplicates removed.
func (s *Store) List() []results.Result {
	return dedupe.FilterExact(s.snapshot())
}

// View applies the user's hide-duplicates toggle on top of List.
func (s *Store) View(hideDuplicates bool) []results.Result {
	return dedupe.Visible(s.List(), hideDuplicates)
}

// Groups returns companies that were analysed more than once.
func (s *Store) Groups() []dedupe.Group {
	return dedupe.GroupByName(s.List())
}

// Get finds a result by id.
func (s *Store) Get(id string) (results.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.all {
		if r.ID == id {
			return r, true
		}
	}
	return results.Result{}, false
}

// Compare returns the requested results in request order.
func (s *Store) Compare(ids []string) ([]results.Result, error) {
	out := make([]results.Result, 0, len(ids))
	seen := map[string]struct{}{}
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		r, ok := s.Get(id)
		if !ok {
			return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		out = append(out, r)
	}
	return out, nil
}

// Len is the size of the exact-filtered collection.
func (s *Store) Len() int {
	return len(s.List())
}

// LoadedAt is when the last successful reload finished.
func (s *Store) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

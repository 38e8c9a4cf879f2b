package poller

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"startup-analyst/internal/progress"
	"startup-analyst/internal/shared/telemetry"
)

type manualTicker struct {
	ch      chan time.Time
	stopped atomic.Bool
}

func (m *manualTicker) C() <-chan time.Time { return m.ch }
func (m *manualTicker) Stop()               { m.stopped.Store(true) }

// fire delivers one tick unless a tick is already pending.
func (m *manualTicker) fire() {
	select {
	case m.ch <- time.Now():
	default:
	}
}

type tickerRecorder struct {
	mu      sync.Mutex
	tickers []*manualTicker
}

func (r *tickerRecorder) factory(time.Duration) Ticker {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := &manualTicker{ch: make(chan time.Time, 1)}
	r.tickers = append(r.tickers, t)
	return t
}

// pair returns the poll and elapsed tickers of the n-th activation.
func (r *tickerRecorder) pair(n int) (*manualTicker, *manualTicker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tickers[2*n], r.tickers[2*n+1]
}

type scriptedSource struct {
	mu    sync.Mutex
	steps []func(ctx context.Context) (progress.Snapshot, error)
	calls int
}

func (s *scriptedSource) QueryProgress(ctx context.Context) (progress.Snapshot, error) {
	s.mu.Lock()
	i := s.calls
	s.calls++
	var step func(ctx context.Context) (progress.Snapshot, error)
	if i < len(s.steps) {
		step = s.steps[i]
	} else if len(s.steps) > 0 {
		step = s.steps[len(s.steps)-1]
	}
	s.mu.Unlock()
	if step == nil {
		return progress.NewSnapshot(), nil
	}
	return step(ctx)
}

func returns(records ...progress.Record) func(context.Context) (progress.Snapshot, error) {
	return func(context.Context) (progress.Snapshot, error) {
		return progress.NewSnapshot(records...), nil
	}
}

type recorder struct {
	completed chan []progress.Record
	errored   chan string
	updates   chan Status
}

func newRecorder() *recorder {
	return &recorder{
		completed: make(chan []progress.Record, 4),
		errored:   make(chan string, 4),
		updates:   make(chan Status, 64),
	}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnComplete: func(records []progress.Record) { r.completed <- records },
		OnError:    func(msg string) { r.errored <- msg },
		OnUpdate: func(s Status) {
			select {
			case r.updates <- s:
			default:
			}
		},
	}
}

func (r *recorder) waitUpdate(t *testing.T, match func(Status) bool) Status {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case s := <-r.updates:
			if match(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("timed out waiting for status update")
		}
	}
}

func quietLogs(t *testing.T) {
	t.Helper()
	restore := telemetry.SetOutput(io.Discard)
	t.Cleanup(restore)
}

func setupPoller(t *testing.T, source Source) (*Poller, *tickerRecorder, *recorder) {
	t.Helper()
	quietLogs(t)
	tickers := &tickerRecorder{}
	p := New(source, WithTickerFactory(tickers.factory))
	rec := newRecorder()
	p.Rebind(rec.callbacks())
	t.Cleanup(p.Stop)
	return p, tickers, rec
}

func running(id string, pct int, msg string) progress.Record {
	return progress.Record{JobID: id, ProgressPercent: pct, Status: progress.StatusRunning, Message: msg}
}

func completed(id string) progress.Record {
	return progress.Record{JobID: id, ProgressPercent: 100, Status: progress.StatusCompleted, Message: "Analysis completed successfully"}
}

func failed(id, msg string) progress.Record {
	return progress.Record{JobID: id, ProgressPercent: progress.ErrorSentinel, Status: progress.StatusErrored, Message: "Processing failed", Error: msg}
}

func TestPollerErrorWinsOverCompletion(t *testing.T) {
	source := &scriptedSource{steps: []func(context.Context) (progress.Snapshot, error){
		returns(completed("A"), running("B", 0, "Validating file format...")),
		returns(completed("A"), failed("B", "could not parse deck")),
	}}
	p, tickers, rec := setupPoller(t, source)

	p.Start(context.Background(), []string{"A", "B"})
	poll, _ := tickers.pair(0)

	poll.fire()
	s := rec.waitUpdate(t, func(s Status) bool { return len(s.Records) == 2 && s.Records[0].Status == progress.StatusCompleted })
	if s.Percent != 50 {
		t.Fatalf("expected aggregate 50, got %v", s.Percent)
	}
	if s.Message != "Validating file format..." {
		t.Fatalf("unexpected message %q", s.Message)
	}

	poll.fire()
	select {
	case msg := <-rec.errored:
		if msg != "could not parse deck" {
			t.Fatalf("unexpected error text %q", msg)
		}
	case <-rec.completed:
		t.Fatalf("completion callback must not fire when a job errored")
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for error callback")
	}
	if got := p.Status().State; got != StateErrored {
		t.Fatalf("expected errored state, got %s", got)
	}
}

func TestPollerCompletesExactlyOnceAndStopsTimers(t *testing.T) {
	source := &scriptedSource{steps: []func(context.Context) (progress.Snapshot, error){
		returns(completed("A"), completed("B")),
	}}
	p, tickers, rec := setupPoller(t, source)

	p.Start(context.Background(), nil)
	poll, elapsed := tickers.pair(0)
	poll.fire()

	select {
	case records := <-rec.completed:
		if len(records) != 2 {
			t.Fatalf("expected both records, got %d", len(records))
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for completion")
	}

	poll.fire()
	poll.fire()
	time.Sleep(50 * time.Millisecond)
	if n := len(rec.completed); n != 0 {
		t.Fatalf("expected a single completion, got %d more", n)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !(poll.stopped.Load() && elapsed.stopped.Load()) {
		if time.Now().After(deadline) {
			t.Fatalf("expected both tickers stopped after terminal transition")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := p.Status().State; got != StateCompleted {
		t.Fatalf("expected completed state, got %s", got)
	}
}

func TestPollerNoCallbackAfterStop(t *testing.T) {
	gate := make(chan struct{})
	called := make(chan struct{}, 1)
	source := &scriptedSource{steps: []func(context.Context) (progress.Snapshot, error){
		func(context.Context) (progress.Snapshot, error) {
			called <- struct{}{}
			<-gate
			return progress.NewSnapshot(completed("A")), nil
		},
	}}
	p, tickers, rec := setupPoller(t, source)

	p.Start(context.Background(), []string{"A"})
	poll, elapsed := tickers.pair(0)
	poll.fire()
	<-called

	p.Stop()
	p.Stop()
	close(gate)

	time.Sleep(50 * time.Millisecond)
	if len(rec.completed) != 0 || len(rec.errored) != 0 {
		t.Fatalf("no terminal callback may fire after cancellation")
	}
	status := p.Status()
	if status.State != StateIdle || status.Percent != 0 || len(status.JobIDs) != 0 {
		t.Fatalf("expected cleared idle state, got %+v", status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !(poll.stopped.Load() && elapsed.stopped.Load()) {
		if time.Now().After(deadline) {
			t.Fatalf("expected both tickers stopped after cancellation")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPollerTransientErrorIsRetried(t *testing.T) {
	source := &scriptedSource{steps: []func(context.Context) (progress.Snapshot, error){
		func(context.Context) (progress.Snapshot, error) {
			return progress.Snapshot{}, errors.New("dial tcp 127.0.0.1:8000: connect: connection refused")
		},
		returns(completed("A")),
	}}
	p, tickers, rec := setupPoller(t, source)

	p.Start(context.Background(), []string{"A"})
	poll, _ := tickers.pair(0)

	poll.fire()
	s := rec.waitUpdate(t, func(s Status) bool { return s.Message == RetryMessage })
	if s.State != StatePolling {
		t.Fatalf("transient failure must not change state, got %s", s.State)
	}
	if s.LastError == "" {
		t.Fatalf("expected last error recorded")
	}

	poll.fire()
	select {
	case <-rec.completed:
	case <-rec.errored:
		t.Fatalf("transient failure must not count as a job error")
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for completion after retry")
	}
}

func TestPollerDropsStaleResponses(t *testing.T) {
	slowGate := make(chan struct{})
	called := make(chan struct{}, 2)
	source := &scriptedSource{steps: []func(context.Context) (progress.Snapshot, error){
		func(context.Context) (progress.Snapshot, error) {
			called <- struct{}{}
			<-slowGate
			return progress.NewSnapshot(running("A", 10, "Starting content extraction...")), nil
		},
		func(context.Context) (progress.Snapshot, error) {
			called <- struct{}{}
			return progress.NewSnapshot(running("A", 80, "Finalizing results...")), nil
		},
	}}
	p, tickers, rec := setupPoller(t, source)

	p.Start(context.Background(), []string{"A"})
	poll, _ := tickers.pair(0)

	poll.fire()
	<-called
	poll.fire()
	<-called
	rec.waitUpdate(t, func(s Status) bool { return s.Percent == 80 })

	close(slowGate)
	time.Sleep(50 * time.Millisecond)
	if got := p.Status(); got.Percent != 80 || got.Message != "Finalizing results..." {
		t.Fatalf("stale response overwrote newer state: %+v", got)
	}
}

func TestPollerDropsLateFailure(t *testing.T) {
	slowGate := make(chan struct{})
	called := make(chan struct{}, 2)
	source := &scriptedSource{steps: []func(context.Context) (progress.Snapshot, error){
		func(context.Context) (progress.Snapshot, error) {
			called <- struct{}{}
			<-slowGate
			return progress.Snapshot{}, errors.New("read tcp: i/o timeout")
		},
		func(context.Context) (progress.Snapshot, error) {
			called <- struct{}{}
			return progress.NewSnapshot(running("A", 60, "Generating AI insights...")), nil
		},
	}}
	p, tickers, rec := setupPoller(t, source)

	p.Start(context.Background(), []string{"A"})
	poll, _ := tickers.pair(0)

	poll.fire()
	<-called
	poll.fire()
	<-called
	rec.waitUpdate(t, func(s Status) bool { return s.Percent == 60 })

	close(slowGate)
	time.Sleep(50 * time.Millisecond)
	got := p.Status()
	if got.Message != "Generating AI insights..." || got.LastError != "" {
		t.Fatalf("late failure overwrote a newer snapshot: %+v", got)
	}
}

func TestPollerElapsedAndRestartReset(t *testing.T) {
	source := &scriptedSource{steps: []func(context.Context) (progress.Snapshot, error){
		returns(running("A", 30, "Analyzing")),
	}}
	p, tickers, rec := setupPoller(t, source)

	p.Start(context.Background(), []string{"A"})
	poll, elapsed := tickers.pair(0)
	poll.fire()
	rec.waitUpdate(t, func(s Status) bool { return s.Percent == 30 })
	elapsed.fire()
	rec.waitUpdate(t, func(s Status) bool { return s.Elapsed == time.Second })

	p.Start(context.Background(), []string{"B"})
	status := p.Status()
	if status.Percent != 0 || status.Elapsed != 0 || status.Message != progress.DefaultMessage {
		t.Fatalf("expected reset session state, got %+v", status)
	}
	if len(status.JobIDs) != 1 || status.JobIDs[0] != "B" {
		t.Fatalf("expected new job ids, got %v", status.JobIDs)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !(poll.stopped.Load() && elapsed.stopped.Load()) {
		if time.Now().After(deadline) {
			t.Fatalf("previous activation tickers must stop on restart")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPollerRebindRoutesToNewCallbacks(t *testing.T) {
	gate := make(chan struct{})
	called := make(chan struct{}, 1)
	source := &scriptedSource{steps: []func(context.Context) (progress.Snapshot, error){
		func(context.Context) (progress.Snapshot, error) {
			called <- struct{}{}
			<-gate
			return progress.NewSnapshot(completed("A")), nil
		},
	}}
	p, tickers, first := setupPoller(t, source)

	p.Start(context.Background(), []string{"A"})
	poll, _ := tickers.pair(0)
	poll.fire()
	<-called

	second := newRecorder()
	p.Rebind(second.callbacks())
	close(gate)

	select {
	case <-second.completed:
	case <-time.After(2 * time.Second):
		t.Fatalf("rebound callback not invoked")
	}
	if len(first.completed) != 0 {
		t.Fatalf("stale callback invoked after rebind")
	}
}

package poller

import (
	"context"
	"errors"
	"sync"
	"time"

	"startup-analyst/internal/progress"
	"startup-analyst/internal/shared/metrics"
	"startup-analyst/internal/shared/telemetry"
)

// State is the poller lifecycle state.
type State string

const (
	StateIdle      State = "idle"
	StatePolling   State = "polling"
	StateCompleted State = "completed"
	StateErrored   State = "errored"
)

const (
	defaultInterval = time.Second
	// RetryMessage is displayed while the progress endpoint is unreachable.
	RetryMessage = "Connection issue, retrying…"
)

// Source answers progress queries for every job the backend knows.
type Source interface {
	QueryProgress(ctx context.Context) (progress.Snapshot, error)
}

// Callbacks receive poller notifications. Any of them may be nil.
// OnComplete and OnError fire at most once per activation.
type Callbacks struct {
	OnComplete func(records []progress.Record)
	OnError    func(message string)
	OnUpdate   func(status Status)
}

// Status is a point-in-time view of the poller.
type Status struct {
	State      State             `json:"state"`
	Activation uint64            `json:"activation"`
	Percent    float64           `json:"percent"`
	Message    string            `json:"message"`
	Elapsed    time.Duration     `json:"-"`
	ElapsedSec int64             `json:"elapsedSeconds"`
	JobIDs     []string          `json:"jobIds"`
	Records    []progress.Record `json:"records"`
	LastError  string            `json:"lastError,omitempty"`
}

// Ticker is the subset of time.Ticker the poller needs.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFactory creates tickers; tests substitute manual ones.
type TickerFactory func(d time.Duration) Ticker

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func newRealTicker(d time.Duration) Ticker {
	return realTicker{t: time.NewTicker(d)}
}

// Option configures a Poller.
type Option func(*Poller)

// WithInterval sets the progress query cadence.
func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithElapsedInterval sets the elapsed counter cadence.
func WithElapsedInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d > 0 {
			p.elapsedInterval = d
		}
	}
}

// WithTickerFactory overrides ticker construction. The poll ticker is
// created before the elapsed ticker on every Start.
func WithTickerFactory(f TickerFactory) Option {
	return func(p *Poller) {
		if f != nil {
			p.newTicker = f
		}
	}
}

// Poller turns a set of job IDs into exactly one terminal callback.
type Poller struct {
	source          Source
	interval        time.Duration
	elapsedInterval time.Duration
	newTicker       TickerFactory

	mu         sync.Mutex
	cb         Callbacks
	state      State
	activation uint64
	cancel     context.CancelFunc
	jobIDs     []string
	table      progress.Snapshot
	percent    float64
	message    string
	elapsed    time.Duration
	lastErr    string
	applied    uint64
}

// New constructs an idle poller.
func New(source Source, opts ...Option) *Poller {
	p := &Poller{
		source:          source,
		interval:        defaultInterval,
		elapsedInterval: time.Second,
		newTicker:       newRealTicker,
		state:           StateIdle,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Rebind replaces the callbacks. It takes effect for the next notification,
// including one from an activation already in flight.
func (p *Poller) Rebind(cb Callbacks) {
	p.mu.Lock()
	p.cb = cb
	p.mu.Unlock()
}

// Start begins a new activation tracking jobIDs (empty tracks every job).
// Any previous activation is cancelled without a callback.
func (p *Poller) Start(ctx context.Context, jobIDs []string) {
	p.Stop()

	p.mu.Lock()
	p.activation++
	act := p.activation
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.state = StatePolling
	p.jobIDs = append([]string(nil), jobIDs...)
	p.table = progress.NewSnapshot()
	p.percent = 0
	p.message = progress.DefaultMessage
	p.elapsed = 0
	p.lastErr = ""
	p.applied = 0
	pollTicker := p.newTicker(p.interval)
	elapsedTicker := p.newTicker(p.elapsedInterval)
	status := p.statusLocked()
	cb := p.cb
	p.mu.Unlock()

	telemetry.Info("poller.started", map[string]any{
		"activation": act,
		"job_ids":    jobIDs,
		"interval":   p.interval.String(),
	})
	cb.update(status)

	go p.run(runCtx, act, pollTicker, elapsedTicker)
}

// Stop cancels the current activation. It is idempotent and never fires a
// terminal callback.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.state == StatePolling {
		telemetry.Info("poller.cancelled", map[string]any{"activation": p.activation})
	}
	p.activation++
	p.state = StateIdle
	p.jobIDs = nil
	p.table = progress.NewSnapshot()
	p.percent = 0
	p.message = ""
	p.elapsed = 0
	p.lastErr = ""
}

// Status returns a copy of the current poller state.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Poller) statusLocked() Status {
	return Status{
		State:      p.state,
		Activation: p.activation,
		Percent:    p.percent,
		Message:    p.message,
		Elapsed:    p.elapsed,
		ElapsedSec: int64(p.elapsed / time.Second),
		JobIDs:     append([]string(nil), p.jobIDs...),
		Records:    p.recordsLocked(),
		LastError:  p.lastErr,
	}
}

func (p *Poller) recordsLocked() []progress.Record {
	if p.state != StatePolling && p.table.Len() == 0 {
		return nil
	}
	return progress.Relevant(p.table, p.jobIDs)
}

type fetchResult struct {
	seq  uint64
	snap progress.Snapshot
	err  error
}

func (p *Poller) run(ctx context.Context, act uint64, pollTicker, elapsedTicker Ticker) {
	defer pollTicker.Stop()
	defer elapsedTicker.Stop()

	results := make(chan fetchResult)
	var issued uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C():
			issued++
			go p.fetch(ctx, issued, results)
		case <-elapsedTicker.C():
			p.tickElapsed(act)
		case res := <-results:
			if p.apply(act, res) {
				return
			}
		}
	}
}

// fetch does not wait for earlier queries; apply discards late answers.
func (p *Poller) fetch(ctx context.Context, seq uint64, out chan<- fetchResult) {
	metrics.IncPolls()
	snap, err := p.source.QueryProgress(ctx)
	select {
	case out <- fetchResult{seq: seq, snap: snap, err: err}:
	case <-ctx.Done():
	}
}

func (p *Poller) tickElapsed(act uint64) {
	p.mu.Lock()
	if p.activation != act || p.state != StatePolling {
		p.mu.Unlock()
		return
	}
	p.elapsed += p.elapsedInterval
	status := p.statusLocked()
	cb := p.cb
	p.mu.Unlock()
	cb.update(status)
}

// apply folds one query result into the table and reports whether the
// activation has ended. Results older than the last applied snapshot are
// dropped, failures included.
func (p *Poller) apply(act uint64, res fetchResult) bool {
	p.mu.Lock()
	if p.activation != act || p.state != StatePolling {
		p.mu.Unlock()
		return true
	}

	if res.seq <= p.applied {
		p.mu.Unlock()
		telemetry.Info("poller.stale_response_dropped", map[string]any{
			"activation": act,
			"seq":        res.seq,
			"failed":     res.err != nil,
		})
		return false
	}
	if res.err != nil {
		if errors.Is(res.err, context.Canceled) {
			p.mu.Unlock()
			return false
		}
		p.message = RetryMessage
		p.lastErr = res.err.Error()
		status := p.statusLocked()
		cb := p.cb
		p.mu.Unlock()

		metrics.IncPollFailures()
		telemetry.Warn("poller.query_failed", map[string]any{
			"activation": act,
			"seq":        res.seq,
			"error":      res.err,
		})
		cb.update(status)
		return false
	}

	p.applied = res.seq
	p.table = res.snap
	p.lastErr = ""

	relevant := progress.Relevant(res.snap, p.jobIDs)
	p.percent = progress.Aggregate(relevant)
	p.message = progress.DisplayMessage(relevant)
	outcome := progress.Evaluate(relevant)
	if outcome.Done {
		if outcome.Failed {
			p.state = StateErrored
		} else {
			p.state = StateCompleted
		}
		if p.cancel != nil {
			p.cancel()
			p.cancel = nil
		}
	}
	status := p.statusLocked()
	cb := p.cb
	p.mu.Unlock()

	cb.update(status)
	if !outcome.Done {
		return false
	}

	if outcome.Failed {
		metrics.IncJobsFailed()
		telemetry.Error("poller.jobs_failed", map[string]any{
			"activation": act,
			"error":      outcome.ErrorText,
		})
		cb.fail(outcome.ErrorText)
	} else {
		metrics.IncJobsCompleted()
		telemetry.Info("poller.jobs_completed", map[string]any{
			"activation": act,
			"jobs":       len(relevant),
		})
		cb.complete(relevant)
	}
	p.releaseTable(act)
	return true
}

// releaseTable drops the records once the terminal callback consumed them.
func (p *Poller) releaseTable(act uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.activation == act {
		p.table = progress.NewSnapshot()
	}
}

func (c Callbacks) update(s Status) {
	if c.OnUpdate != nil {
		c.OnUpdate(s)
	}
}

func (c Callbacks) complete(records []progress.Record) {
	if c.OnComplete != nil {
		c.OnComplete(records)
	}
}

func (c Callbacks) fail(message string) {
	if c.OnError != nil {
		c.OnError(message)
	}
}

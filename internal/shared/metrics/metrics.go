package metrics

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/gin-gonic/gin"
)

var (
	pollsTotal            atomic.Uint64
	pollFailuresTotal     atomic.Uint64
	jobsSubmittedTotal    atomic.Uint64
	jobsCompletedTotal    atomic.Uint64
	jobsFailedTotal       atomic.Uint64
	resultsInsertedTotal  atomic.Uint64
	duplicatesSkipped     atomic.Uint64
	normalizeDefaultsUsed atomic.Uint64
	reloadsTotal          atomic.Uint64
	reloadFailuresTotal   atomic.Uint64
	eventsPublishedTotal  atomic.Uint64
	eventsFailedTotal     atomic.Uint64

	reloadDuration = newHistogram([]float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000})
)

// IncPolls counts progress queries issued by the poller.
func IncPolls() { pollsTotal.Add(1) }

// IncPollFailures counts transient progress query failures.
func IncPollFailures() { pollFailuresTotal.Add(1) }

// AddJobsSubmitted counts jobs returned by submissions.
func AddJobsSubmitted(n int) {
	if n > 0 {
		jobsSubmittedTotal.Add(uint64(n))
	}
}

// IncJobsCompleted counts tracking sessions that ended in completion.
func IncJobsCompleted() { jobsCompletedTotal.Add(1) }

// IncJobsFailed counts tracking sessions that ended in a job error.
func IncJobsFailed() { jobsFailedTotal.Add(1) }

// IncResultsInserted counts results accepted by the store.
func IncResultsInserted() { resultsInsertedTotal.Add(1) }

// IncDuplicatesSkipped counts candidates rejected by the near-duplicate guard.
func IncDuplicatesSkipped() { duplicatesSkipped.Add(1) }

// IncNormalizeDefaults counts raw records whose payload could not be parsed.
func IncNormalizeDefaults() { normalizeDefaultsUsed.Add(1) }

// IncReloads counts full store reloads.
func IncReloads() { reloadsTotal.Add(1) }

// IncReloadFailures counts reloads that kept the previous collection.
func IncReloadFailures() { reloadFailuresTotal.Add(1) }

// IncEventsPublished counts result events delivered to the broker.
func IncEventsPublished() { eventsPublishedTotal.Add(1) }

// IncEventsFailed counts result events the broker rejected.
func IncEventsFailed() { eventsFailedTotal.Add(1) }

// ObserveReloadDurationMs records a reload duration in milliseconds.
func ObserveReloadDurationMs(value float64) {
	if value < 0 {
		value = 0
	}
	reloadDuration.Observe(value)
}

// Handler exposes metrics in Prometheus text format.
func Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/plain; version=0.0.4")
		c.String(http.StatusOK, Render())
	}
}

// Render renders metrics in Prometheus text format.
func Render() string {
	var buf bytes.Buffer
	writeCounter(&buf, "progress_polls_total", "Progress queries issued", pollsTotal.Load())
	writeCounter(&buf, "progress_poll_failures_total", "Progress queries that failed transiently", pollFailuresTotal.Load())
	writeCounter(&buf, "jobs_submitted_total", "Jobs returned by submissions", jobsSubmittedTotal.Load())
	writeCounter(&buf, "jobs_completed_total", "Tracking sessions that completed", jobsCompletedTotal.Load())
	writeCounter(&buf, "jobs_failed_total", "Tracking sessions that ended with a job error", jobsFailedTotal.Load())
	writeCounter(&buf, "results_inserted_total", "Results accepted into the store", resultsInsertedTotal.Load())
	writeCounter(&buf, "results_duplicates_skipped_total", "Results rejected as near duplicates", duplicatesSkipped.Load())
	writeCounter(&buf, "results_normalize_defaults_total", "Raw results that fell back to defaults", normalizeDefaultsUsed.Load())
	writeCounter(&buf, "store_reloads_total", "Full result store reloads", reloadsTotal.Load())
	writeCounter(&buf, "store_reload_failures_total", "Result store reloads that failed", reloadFailuresTotal.Load())
	writeCounter(&buf, "result_events_published_total", "Result events published", eventsPublishedTotal.Load())
	writeCounter(&buf, "result_events_failed_total", "Result events that failed to publish", eventsFailedTotal.Load())
	writeHistogram(&buf, "store_reload_duration_ms", "Result store reload duration in milliseconds", reloadDuration.Snapshot())
	return buf.String()
}

type histogram struct {
	mu      sync.Mutex
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

type histogramSnapshot struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

func newHistogram(buckets []float64) *histogram {
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// Observe adds one sample to the first bucket that fits.
func (h *histogram) Observe(value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += value
	for i, bound := range h.buckets {
		if value <= bound {
			h.counts[i]++
			return
		}
	}
}

func (h *histogram) Snapshot() histogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return histogramSnapshot{
		buckets: append([]float64(nil), h.buckets...),
		counts:  append([]uint64(nil), h.counts...),
		sum:     h.sum,
		count:   h.count,
	}
}

func writeCounter(buf *bytes.Buffer, name, help string, value uint64) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s counter\n", name)
	fmt.Fprintf(buf, "%s %d\n", name, value)
}

// writeHistogram emits cumulative buckets; counts are stored per bucket.
func writeHistogram(buf *bytes.Buffer, name, help string, snap histogramSnapshot) {
	fmt.Fprintf(buf, "# HELP %s %s\n", name, help)
	fmt.Fprintf(buf, "# TYPE %s histogram\n", name)
	var cumulative uint64
	for i, bound := range snap.buckets {
		cumulative += snap.counts[i]
		fmt.Fprintf(buf, "%s_bucket{le=\"%s\"} %d\n", name, formatFloat(bound), cumulative)
	}
	fmt.Fprintf(buf, "%s_bucket{le=\"+Inf\"} %d\n", name, snap.count)
	fmt.Fprintf(buf, "%s_sum %s\n", name, formatFloat(snap.sum))
	fmt.Fprintf(buf, "%s_count %d\n", name, snap.count)
}

func formatFloat(value float64) string {
	if value == float64(int64(value)) {
		return strconv.FormatInt(int64(value), 10)
	}
	return strconv.FormatFloat(value, 'f', -1, 64)
}

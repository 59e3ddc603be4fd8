// Package throttle implements the request-rate governor (component O,
// §4.6): separate read/write token buckets per partition, each producing
// one of three outcomes — pass, delay, reject — the way
// original_source/src/replica/replica.cpp's throttling_controller gates
// on_client_write/on_client_read before they reach the commit pipeline.
//
// Grounded on golang.org/x/time/rate (pulled into the dependency stack the
// way cockroachdb-cockroach's go.mod wires it for its own admission
// control) for the bucket itself; the delay/reject decision and the
// counters around it are this package's own, since no example repo in the
// pack models a two-outcome throttle.
package throttle

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Outcome is the result of a single Allow check.
type Outcome int

const (
	Pass Outcome = iota
	Delay
	Reject
)

// Limits configures one direction (read or write) of a partition's
// throttle. A zero Rate disables throttling for that direction.
type Limits struct {
	Rate       rate.Limit
	Burst      int
	DelayMs    int64
	RejectOver int64 // queue delay above which a request is rejected outright, in ms
}

// Throttler holds one token bucket per direction for a single partition.
type Throttler struct {
	mu sync.Mutex

	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter
	readLimits   Limits
	writeLimits  Limits

	readDelayed   int64
	readRejected  int64
	writeDelayed  int64
	writeRejected int64
}

func New(readLimits, writeLimits Limits) *Throttler {
	t := &Throttler{readLimits: readLimits, writeLimits: writeLimits}
	if readLimits.Rate > 0 {
		t.readLimiter = rate.NewLimiter(readLimits.Rate, readLimits.Burst)
	}
	if writeLimits.Rate > 0 {
		t.writeLimiter = rate.NewLimiter(writeLimits.Rate, writeLimits.Burst)
	}
	return t
}

// AllowWrite checks the write-direction bucket, returning Pass immediately,
// Reject if throttled past the configured reject threshold, or Delay. A
// Delay outcome does not block: the per-replica executor (§5) must release
// its goroutine and re-enqueue the request after the returned duration
// rather than sleep here.
func (t *Throttler) AllowWrite(ctx context.Context) (Outcome, time.Duration) {
	return t.allow(ctx, t.writeLimiter, t.writeLimits, &t.writeDelayed, &t.writeRejected)
}

func (t *Throttler) AllowRead(ctx context.Context) (Outcome, time.Duration) {
	return t.allow(ctx, t.readLimiter, t.readLimits, &t.readDelayed, &t.readRejected)
}

// allow reserves one token and reports the outcome without sleeping; on
// Delay the caller is responsible for releasing its goroutine for the
// returned duration before retrying.
func (t *Throttler) allow(ctx context.Context, limiter *rate.Limiter, limits Limits, delayed, rejected *int64) (Outcome, time.Duration) {
	if limiter == nil {
		return Pass, 0
	}

	r := limiter.Reserve()
	if !r.OK() {
		t.mu.Lock()
		*rejected++
		t.mu.Unlock()
		return Reject, 0
	}

	d := r.Delay()
	if d == 0 {
		return Pass, 0
	}

	if limits.RejectOver > 0 && d > time.Duration(limits.RejectOver)*time.Millisecond {
		r.Cancel()
		t.mu.Lock()
		*rejected++
		t.mu.Unlock()
		return Reject, 0
	}

	if ctx.Err() != nil {
		r.Cancel()
		return Reject, 0
	}

	t.mu.Lock()
	*delayed++
	t.mu.Unlock()

	return Delay, d
}

// Counters snapshots the cumulative delay/reject counts for metrics export.
type Counters struct {
	ReadDelayed, ReadRejected   int64
	WriteDelayed, WriteRejected int64
}

func (t *Throttler) Counters() Counters {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Counters{
		ReadDelayed:   t.readDelayed,
		ReadRejected:  t.readRejected,
		WriteDelayed:  t.writeDelayed,
		WriteRejected: t.writeRejected,
	}
}

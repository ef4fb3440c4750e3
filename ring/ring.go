// Package ring implements the SPSC ring buffer and adaptive micro-batch
// scheduler that sit between a collection's producer calls
// (insert/update/remove) and its incremental operator graph (spec §4.9).
//
// Exactly one producer and one consumer context are assumed; a
// single-threaded cooperative runtime satisfies the concurrency contract
// trivially, but the buffer is still implemented with padded cursors so
// it is safe if the producer and consumer run on separate goroutines.
package ring

import (
	"sync/atomic"
	"time"
)

// Delta mirrors the collection-level delta record (spec §3): an insert,
// update, or delete against one row-id.
type Delta struct {
	Op       Op
	RowID    int
	Before   interface{}
	After    interface{}
	Seq      uint64
}

// Op enumerates a delta's kind.
type Op int

const (
	OpInsert Op = iota
	OpUpdate
	OpDelete
)

// Batch is an ordered sequence of deltas; operations on the same row-id
// within a batch must be order-preserving (spec §3).
type Batch []Delta

// paddedCursor pads an atomic counter to a cache line to avoid false
// sharing between the producer and consumer cursors (spec §4.9).
type paddedCursor struct {
	v    atomic.Uint64
	_pad [56]byte // 64 - 8
}

// Buffer is a fixed-capacity SPSC ring buffer of preallocated batch
// slots, sized to a power of two.
type Buffer struct {
	capacity uint64
	mask     uint64
	slots    []Batch

	producerCursor paddedCursor
	consumerCursor paddedCursor

	poisoned atomic.Bool
}

// NewBuffer returns a ring buffer with room for `capacity` batches,
// rounded up to the next power of two.
func NewBuffer(capacity int) *Buffer {
	c := nextPow2(capacity)
	return &Buffer{
		capacity: uint64(c),
		mask:     uint64(c - 1),
		slots:    make([]Batch, c),
	}
}

func nextPow2(n int) int {
	if n < 1 {
		n = 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// Utilization returns (producer-consumer) / capacity. prod-cons is
// always in [0, capacity] (a full buffer stalls the producer before it
// can advance past cons by more than capacity), so no modulo is needed
// here; taking one would wrap a full buffer's count back down to 0.
func (b *Buffer) Utilization() float64 {
	prod := b.producerCursor.v.Load()
	cons := b.consumerCursor.v.Load()
	inFlight := prod - cons
	return float64(inFlight) / float64(b.capacity)
}

// Len returns the number of batches currently queued.
func (b *Buffer) Len() int {
	prod := b.producerCursor.v.Load()
	cons := b.consumerCursor.v.Load()
	return int(prod - cons)
}

// Poison marks the buffer as cancelled; in-flight and future Produce
// calls observe this and return false.
func (b *Buffer) Poison() {
	b.poisoned.Store(true)
}

// Poisoned reports whether Poison has been called.
func (b *Buffer) Poisoned() bool {
	return b.poisoned.Load()
}

// Produce appends batch to the queue. It returns false (never blocking)
// when the buffer is full or poisoned; a full buffer accepts again once
// Consume has freed a slot (spec §5, "produce() never suspends").
func (b *Buffer) Produce(batch Batch) bool {
	if b.poisoned.Load() {
		return false
	}
	prod := b.producerCursor.v.Load()
	cons := b.consumerCursor.v.Load()
	if prod-cons >= b.capacity {
		return false
	}
	b.slots[prod&b.mask] = batch
	// Producer writes to the slot happen-before the cursor advance is
	// observed by the consumer (Store is a release on this field).
	b.producerCursor.v.Store(prod + 1)
	return true
}

// Consume removes and returns the oldest queued batch, or ok=false when
// empty.
func (b *Buffer) Consume() (Batch, bool) {
	cons := b.consumerCursor.v.Load()
	prod := b.producerCursor.v.Load()
	if cons == prod {
		return nil, false
	}
	batch := b.slots[cons&b.mask]
	b.slots[cons&b.mask] = nil
	b.consumerCursor.v.Store(cons + 1)
	return batch, true
}

// Drain discards all queued batches, used by destroy().
func (b *Buffer) Drain() {
	for {
		if _, ok := b.Consume(); !ok {
			return
		}
	}
}

// Backpressure tracks the 80/40% hysteresis policy (spec §4.9): once
// utilization reaches >= 0.8, rejection persists until utilization falls
// to <= 0.4.
type Backpressure struct {
	rejecting bool
	HighWater float64
	LowWater  float64
}

// NewBackpressure returns a tracker with the spec's default 0.8/0.4
// thresholds.
func NewBackpressure() *Backpressure {
	return &Backpressure{HighWater: 0.8, LowWater: 0.4}
}

// Allow reports whether a Produce should be attempted given the current
// utilization, updating internal hysteresis state.
func (bp *Backpressure) Allow(utilization float64) bool {
	if bp.rejecting {
		if utilization <= bp.LowWater {
			bp.rejecting = false
		} else {
			return false
		}
	} else if utilization >= bp.HighWater {
		bp.rejecting = true
		return false
	}
	return true
}

// Rejecting reports the current hysteresis state.
func (bp *Backpressure) Rejecting() bool {
	return bp.rejecting
}

// Scheduler adapts batch size to processing latency and enforces the
// minimum emit cadence (spec §4.9).
type Scheduler struct {
	BatchSize int
	MinBatch  int
	MaxBatch  int
	Target    time.Duration
	Cadence   time.Duration
	Alpha     float64

	ewmaLatency time.Duration
	hasEWMA     bool
	lastEmit    time.Time
}

// NewScheduler returns a scheduler with the spec's defaults: batch size
// starting at 256, bounded [256, 4096], 5ms target latency, 10ms minimum
// cadence, alpha 0.1.
func NewScheduler() *Scheduler {
	return &Scheduler{
		BatchSize: 256,
		MinBatch:  256,
		MaxBatch:  4096,
		Target:    5 * time.Millisecond,
		Cadence:   10 * time.Millisecond,
		Alpha:     0.1,
	}
}

// RecordLatency folds a completed batch's processing latency into the
// EWMA and adjusts BatchSize per the grow/shrink/hold rules.
func (s *Scheduler) RecordLatency(latency time.Duration, utilization float64) {
	if !s.hasEWMA {
		s.ewmaLatency = latency
		s.hasEWMA = true
	} else {
		s.ewmaLatency = time.Duration(s.Alpha*float64(latency) + (1-s.Alpha)*float64(s.ewmaLatency))
	}

	switch {
	case s.ewmaLatency > s.Target:
		s.BatchSize = clampInt(int(float64(s.BatchSize)*0.9), s.MinBatch, s.MaxBatch)
	case s.ewmaLatency < time.Duration(0.7*float64(s.Target)) && utilization > 0.6:
		s.BatchSize = clampInt(int(float64(s.BatchSize)*1.1), s.MinBatch, s.MaxBatch)
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EWMALatency returns the current exponentially weighted moving average
// processing latency.
func (s *Scheduler) EWMALatency() time.Duration {
	return s.ewmaLatency
}

// ShouldEmit reports whether the scheduler should drain a batch now,
// given the current time and queue utilization: the cadence floor is
// overridden once utilization exceeds the backpressure high-water mark.
func (s *Scheduler) ShouldEmit(now time.Time, utilization float64) bool {
	if utilization > 0.8 {
		return true
	}
	if s.lastEmit.IsZero() {
		return true
	}
	return now.Sub(s.lastEmit) >= s.Cadence
}

// MarkEmitted records that a batch was just emitted at `now`.
func (s *Scheduler) MarkEmitted(now time.Time) {
	s.lastEmit = now
}

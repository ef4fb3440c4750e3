package ring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProduceConsumeFIFO(t *testing.T) {
	b := NewBuffer(4)
	require.True(t, b.Produce(Batch{{Op: OpInsert, RowID: 1}}))
	require.True(t, b.Produce(Batch{{Op: OpInsert, RowID: 2}}))

	batch, ok := b.Consume()
	require.True(t, ok)
	assert.Equal(t, 1, batch[0].RowID)

	batch, ok = b.Consume()
	require.True(t, ok)
	assert.Equal(t, 2, batch[0].RowID)

	_, ok = b.Consume()
	assert.False(t, ok)
}

func TestProduceRejectsWhenFull(t *testing.T) {
	b := NewBuffer(2) // rounds to 2
	require.True(t, b.Produce(Batch{{RowID: 1}}))
	require.True(t, b.Produce(Batch{{RowID: 2}}))
	assert.False(t, b.Produce(Batch{{RowID: 3}}))
}

func TestPoisonRejectsProduce(t *testing.T) {
	b := NewBuffer(4)
	b.Poison()
	assert.False(t, b.Produce(Batch{{RowID: 1}}))
}

func TestBackpressureHysteresis(t *testing.T) {
	bp := NewBackpressure()
	assert.True(t, bp.Allow(0.5))
	assert.False(t, bp.Allow(0.85)) // crosses high water, starts rejecting
	assert.False(t, bp.Allow(0.5))  // still above low water
	assert.False(t, bp.Allow(0.41))
	assert.True(t, bp.Allow(0.3)) // drops to/below low water, resumes
}

func TestSchedulerShrinksOnHighLatency(t *testing.T) {
	s := NewScheduler()
	s.BatchSize = 1000 // above MinBatch, so a shrink is observable
	start := s.BatchSize
	s.RecordLatency(50*time.Millisecond, 0.5)
	assert.Less(t, s.BatchSize, start)
}

func TestSchedulerGrowsOnLowLatencyHighUtilization(t *testing.T) {
	s := NewScheduler()
	for i := 0; i < 5; i++ {
		s.RecordLatency(1*time.Millisecond, 0.9)
	}
	assert.Greater(t, s.BatchSize, 256)
}

func TestSchedulerCadence(t *testing.T) {
	s := NewScheduler()
	now := time.Now()
	assert.True(t, s.ShouldEmit(now, 0.1))
	s.MarkEmitted(now)
	assert.False(t, s.ShouldEmit(now.Add(time.Millisecond), 0.1))
	assert.True(t, s.ShouldEmit(now.Add(11*time.Millisecond), 0.1))
}

func TestSchedulerCadenceOverriddenByOverflow(t *testing.T) {
	s := NewScheduler()
	now := time.Now()
	s.MarkEmitted(now)
	assert.True(t, s.ShouldEmit(now.Add(time.Millisecond), 0.95))
}

func TestUtilization(t *testing.T) {
	b := NewBuffer(4)
	b.Produce(Batch{{RowID: 1}})
	b.Produce(Batch{{RowID: 2}})
	assert.InDelta(t, 0.5, b.Utilization(), 1e-9)
}

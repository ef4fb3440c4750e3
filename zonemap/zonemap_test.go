package zonemap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestZoneMapCanSkipEquality(t *testing.T) {
	z := New()
	for _, v := range []int{10, 20, 30} {
		z.Observe(v)
	}
	assert.True(t, z.CanSkip(OpEq, 5, nil))
	assert.True(t, z.CanSkip(OpEq, 35, nil))
	assert.False(t, z.CanSkip(OpEq, 20, nil))
	assert.False(t, z.CanSkip(OpEq, 15, nil)) // inside range, never a false "can skip"
}

func TestZoneMapRangeOps(t *testing.T) {
	z := New()
	for _, v := range []int{10, 20, 30} {
		z.Observe(v)
	}
	assert.True(t, z.CanSkip(OpGt, 30, nil))
	assert.False(t, z.CanSkip(OpGt, 29, nil))
	assert.True(t, z.CanSkip(OpLt, 10, nil))
}

func TestBloomNoFalseNegatives(t *testing.T) {
	b := NewBloom(1000, 0.01)
	for i := 0; i < 1000; i++ {
		b.Add([]byte{byte(i), byte(i >> 8)})
	}
	for i := 0; i < 1000; i++ {
		assert.True(t, b.MightContain([]byte{byte(i), byte(i >> 8)}))
	}
}

func TestBloomParamsClampK(t *testing.T) {
	_, k := BloomParams(1, 0.0000001)
	assert.LessOrEqual(t, k, 20)
	assert.GreaterOrEqual(t, k, 1)
}

func TestTrigramCandidates(t *testing.T) {
	tg := NewTrigram(1, time.Hour, 0)
	tg.Index(1, "hello world")
	tg.Index(2, "goodbye")
	tg.RecordQuery(time.Now())

	assert.True(t, tg.Active(time.Now()))
	cands, ok := tg.Candidates("lo wo")
	assert.True(t, ok)
	assert.Contains(t, cands, 1)
	assert.NotContains(t, cands, 2)
}

func TestTrigramActivationThreshold(t *testing.T) {
	tg := NewTrigram(3, time.Hour, 0)
	tg.RecordQuery(time.Now())
	assert.False(t, tg.Active(time.Now()))
	tg.RecordQuery(time.Now())
	tg.RecordQuery(time.Now())
	assert.True(t, tg.Active(time.Now()))
}

func TestTrigramIdleExpiry(t *testing.T) {
	tg := NewTrigram(1, time.Millisecond, 0)
	tg.RecordQuery(time.Now())
	assert.True(t, tg.Active(time.Now()))
	assert.False(t, tg.Active(time.Now().Add(time.Second)))
}

package speed

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestTickBuffer_EmptyCountsZero(t *testing.T) {
	b := NewTickBuffer(4 * time.Second)
	assert.Equal(t, 0, b.Count())
	assert.Equal(t, 0, b.EvictAndCount(epoch))
}

func TestTickBuffer_EvictsOnlyStaleTicks(t *testing.T) {
	window := 4 * time.Second
	b := NewTickBuffer(window)

	offsets := []time.Duration{0, 500 * time.Millisecond, 1 * time.Second, 3 * time.Second, 4500 * time.Millisecond, 6 * time.Second}
	for _, off := range offsets {
		b.Record(epoch.Add(off))
	}
	assert.Equal(t, len(offsets), b.Count())

	now := epoch.Add(5 * time.Second)
	// age <= 4s keeps ticks at 1s, 3s, 4.5s and 6s (the latter is "in the future", still retained)
	assert.Equal(t, 4, b.EvictAndCount(now))
}

func TestTickBuffer_TickAtExactWindowAgeIsRetained(t *testing.T) {
	b := NewTickBuffer(4 * time.Second)
	b.Record(epoch)

	assert.Equal(t, 1, b.EvictAndCount(epoch.Add(4*time.Second)))
	assert.Equal(t, 0, b.EvictAndCount(epoch.Add(4*time.Second+time.Nanosecond)))
}

func TestTickBuffer_CountMatchesAgeRuleForManySequences(t *testing.T) {
	window := 4 * time.Second
	sequences := [][]time.Duration{
		{},
		{0},
		{0, 0, 0},
		{0, 1 * time.Second, 2 * time.Second, 3 * time.Second, 4 * time.Second, 5 * time.Second},
		{100 * time.Millisecond, 7 * time.Second, 7 * time.Second, 9 * time.Second},
	}
	queries := []time.Duration{0, 2 * time.Second, 5 * time.Second, 9 * time.Second, 20 * time.Second}

	for _, seq := range sequences {
		for _, q := range queries {
			b := NewTickBuffer(window)
			for _, off := range seq {
				b.Record(epoch.Add(off))
			}
			now := epoch.Add(q)

			expected := 0
			for _, off := range seq {
				if now.Sub(epoch.Add(off)) <= window {
					expected++
				}
			}
			assert.Equal(t, expected, b.EvictAndCount(now), "seq=%v query=%v", seq, q)
		}
	}
}

func TestTickBuffer_EvictOlderThanThenCount(t *testing.T) {
	b := NewTickBuffer(4 * time.Second)
	for i := 0; i < 10; i++ {
		b.Record(epoch.Add(time.Duration(i) * time.Second))
	}
	b.EvictOlderThan(epoch.Add(7 * time.Second))
	assert.Equal(t, 3, b.Count())
}

func TestTickBuffer_Reset(t *testing.T) {
	b := NewTickBuffer(4 * time.Second)
	b.Record(epoch)
	b.Record(epoch)
	b.Reset()
	assert.Equal(t, 0, b.Count())
}

func TestTickBuffer_ConcurrentRecordAndEvict(t *testing.T) {
	b := NewTickBuffer(time.Hour)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.Record(epoch)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			b.EvictAndCount(epoch)
		}
	}()
	wg.Wait()
	assert.Equal(t, 1000, b.Count())
}

func TestNewTickBuffer_PanicsOnBadWindow(t *testing.T) {
	assert.Panics(t, func() { NewTickBuffer(0) })
}

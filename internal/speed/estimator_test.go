package speed

import (
	"bytes"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEstimator(t *testing.T, buffer *TickBuffer, now func() time.Time) *Estimator {
	t.Helper()
	return NewEstimator(buffer, DefaultEstimatorConfig(), now, log.New(&bytes.Buffer{}, "", 0))
}

func TestEstimator_ZeroTicksIsZero(t *testing.T) {
	e := newTestEstimator(t, NewTickBuffer(DefaultRetentionWindow), nil)
	assert.Equal(t, 0.0, e.Compute(epoch))
	assert.Equal(t, "0", FormatSpeed(e.Compute(epoch)))
}

func TestEstimator_EightTicksInLastTwoSeconds(t *testing.T) {
	buffer := NewTickBuffer(DefaultRetentionWindow)
	now := epoch.Add(10 * time.Second)
	for i := 0; i < 8; i++ {
		buffer.Record(now.Add(-2 * time.Second).Add(time.Duration(i) * 250 * time.Millisecond))
	}

	e := newTestEstimator(t, buffer, nil)
	got := e.Compute(now)

	expected := 8 * 24 * 3.14159 / 4 * 0.05682
	assert.InDelta(t, expected, got, 1e-9)
	assert.InDelta(t, 8.57, got, 0.01)
	assert.Equal(t, "9", FormatSpeed(got))
}

func TestEstimator_OrderInsensitiveWithinWindow(t *testing.T) {
	now := epoch.Add(time.Minute)
	windowSeconds := int(DefaultRetentionWindow / time.Second)

	spread := NewTickBuffer(DefaultRetentionWindow)
	for i := 0; i < windowSeconds; i++ {
		spread.Record(now.Add(-DefaultRetentionWindow).Add(time.Duration(i) * time.Second))
	}

	burst := NewTickBuffer(DefaultRetentionWindow)
	for i := 0; i < windowSeconds; i++ {
		burst.Record(now.Add(-DefaultRetentionWindow))
	}

	a := newTestEstimator(t, spread, nil).Compute(now)
	b := newTestEstimator(t, burst, nil).Compute(now)
	assert.Equal(t, a, b)
	assert.Greater(t, a, 0.0)
}

func TestEstimator_StaleTicksAgeOut(t *testing.T) {
	buffer := NewTickBuffer(DefaultRetentionWindow)
	buffer.Record(epoch)
	buffer.Record(epoch.Add(time.Second))

	e := newTestEstimator(t, buffer, nil)
	assert.Greater(t, e.Compute(epoch.Add(2*time.Second)), 0.0)
	assert.Equal(t, 0.0, e.Compute(epoch.Add(10*time.Second)))
	assert.Equal(t, 0, buffer.Count())
}

func TestEstimator_UpdateNotifiesListeners(t *testing.T) {
	buffer := NewTickBuffer(DefaultRetentionWindow)
	now := epoch
	buffer.Record(now)

	e := newTestEstimator(t, buffer, func() time.Time { return now })
	ch := make(chan float64, 1)
	unregister := e.ListenToSpeed(ch)
	defer unregister()

	value := e.Update()
	require.Len(t, ch, 1)
	assert.Equal(t, value, <-ch)
	assert.Equal(t, value, e.Current())
}

func TestEstimator_StartAndShutdown(t *testing.T) {
	buffer := NewTickBuffer(DefaultRetentionWindow)
	config := DefaultEstimatorConfig()
	config.Period = 5 * time.Millisecond
	e := NewEstimator(buffer, config, nil, log.New(&bytes.Buffer{}, "", 0))

	ch := make(chan float64, 16)
	unregister := e.ListenToSpeed(ch)
	defer unregister()

	e.Start()
	e.Start()
	select {
	case v := <-ch:
		assert.Equal(t, 0.0, v)
	case <-time.After(time.Second):
		t.Fatal("estimator loop never produced a value")
	}
	e.Shutdown()
	e.Shutdown()
}

func TestFormatSpeed_RoundsHalfToEven(t *testing.T) {
	assert.Equal(t, "2", FormatSpeed(2.5))
	assert.Equal(t, "4", FormatSpeed(3.5))
	assert.Equal(t, "13", FormatSpeed(12.6))
}

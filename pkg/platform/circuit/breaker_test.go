package circuit

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBreakerStartsClosed(t *testing.T) {
	b := New("notify-sink")
	assert.Equal(t, "notify-sink", b.Name())
	assert.Equal(t, StateClosed, b.State())
	assert.False(t, b.IsOpen())
}

func TestBreakerTransitions(t *testing.T) {
	type step struct {
		fail     bool
		fallback bool // for failures; for successes, !usePrimary
		opened   bool
		closed   bool
	}
	tests := []struct {
		name  string
		opts  []Option
		steps []step
		final State
	}{
		{
			name: "opens on the threshold failure",
			opts: []Option{WithFailureThreshold(3)},
			steps: []step{
				{fail: true},
				{fail: true},
				{fail: true, fallback: true, opened: true},
				{fail: true, fallback: true},
			},
			final: StateOpen,
		},
		{
			name: "success while closed resets the failure count",
			opts: []Option{WithFailureThreshold(2)},
			steps: []step{
				{fail: true},
				{fail: false},
				{fail: true},
			},
			final: StateClosed,
		},
		{
			name: "closes after enough consecutive successes",
			opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			steps: []step{
				{fail: true, fallback: true, opened: true},
				{fail: false, fallback: true},
				{fail: false, closed: true},
			},
			final: StateClosed,
		},
		{
			name: "a failure while recovering restarts the success count",
			opts: []Option{WithFailureThreshold(1), WithSuccessThreshold(2)},
			steps: []step{
				{fail: true, fallback: true, opened: true},
				{fail: false, fallback: true},
				{fail: true, fallback: true},
				{fail: false, fallback: true},
			},
			final: StateOpen,
		},
		{
			name: "non-positive thresholds keep defaults",
			opts: []Option{WithFailureThreshold(0), WithSuccessThreshold(-1)},
			steps: []step{
				{fail: true}, {fail: true}, {fail: true}, {fail: true},
				{fail: true, fallback: true, opened: true},
			},
			final: StateOpen,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := New("notify-sink", tt.opts...)
			for i, s := range tt.steps {
				if s.fail {
					fallback, change := b.RecordFailure()
					assert.Equal(t, s.fallback, fallback, "step %d fallback", i)
					assert.Equal(t, s.opened, change.Opened, "step %d opened", i)
					continue
				}
				primary, change := b.RecordSuccess()
				assert.Equal(t, !s.fallback, primary, "step %d primary", i)
				assert.Equal(t, s.closed, change.Closed, "step %d closed", i)
			}
			assert.Equal(t, tt.final, b.State())
		})
	}
}

func TestResetClosesOpenCircuit(t *testing.T) {
	b := New("notify-sink", WithFailureThreshold(1))
	b.RecordFailure()
	require.True(t, b.IsOpen())

	b.Reset()
	assert.False(t, b.IsOpen())
	fallback, _ := b.RecordFailure()
	assert.True(t, fallback, "counters restart from zero")
}

func TestConcurrentFailuresOpenExactlyOnce(t *testing.T) {
	b := New("notify-sink", WithFailureThreshold(10))
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		opened int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, change := b.RecordFailure(); change.Opened {
				mu.Lock()
				opened++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, opened)
	assert.True(t, b.IsOpen())
}

package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"passgate/internal/notify"
	"passgate/internal/notify/mocks"
	id "passgate/pkg/domain"
)

//go:generate mockgen -source=event.go -destination=mocks/mocks.go -package=mocks Sink

func event(kind notify.Kind) notify.Event {
	return notify.NewEvent(kind, id.NewPassID(), time.Now(), map[string]any{"holder_name": "Ada"})
}

func runDispatcher(t *testing.T, d *notify.Dispatcher) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	return cancel, done
}

func waitFor(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for delivery %d of %d", i+1, n)
		}
	}
}

func TestDispatcherDeliversInOrder(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	d := notify.NewDispatcher(sink)

	events := []notify.Event{event(notify.KindEntry), event(notify.KindExit), event(notify.KindPassCreated)}
	delivered := make(chan struct{}, len(events))
	calls := make([]any, 0, len(events))
	for _, evt := range events {
		calls = append(calls, sink.EXPECT().Publish(gomock.Any(), evt).DoAndReturn(
			func(context.Context, notify.Event) error {
				delivered <- struct{}{}
				return nil
			}))
	}
	gomock.InOrder(calls...)
	sink.EXPECT().Close().Return(nil)

	cancel, done := runDispatcher(t, d)
	for _, evt := range events {
		require.True(t, d.Enqueue(evt))
	}
	waitFor(t, delivered, len(events))
	cancel()
	require.NoError(t, <-done)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	ctrl := gomock.NewController(t)
	d := notify.NewDispatcher(mocks.NewMockSink(ctrl), notify.WithBufferSize(1))

	assert.True(t, d.Enqueue(event(notify.KindEntry)))
	assert.False(t, d.Enqueue(event(notify.KindExit)))
}

func TestDispatcherDrainsOnShutdown(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	d := notify.NewDispatcher(sink)

	require.True(t, d.Enqueue(event(notify.KindEntry)))
	require.True(t, d.Enqueue(event(notify.KindExit)))
	sink.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(nil).Times(2)
	sink.EXPECT().Close().Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))
}

func TestDispatcherSurvivesSinkOutage(t *testing.T) {
	ctrl := gomock.NewController(t)
	sink := mocks.NewMockSink(ctrl)
	d := notify.NewDispatcher(sink, notify.WithCooldown(time.Millisecond))

	attempts := make(chan struct{}, 4)
	outage := errors.New("broker unreachable")
	gomock.InOrder(
		sink.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, notify.Event) error {
			attempts <- struct{}{}
			return outage
		}).Times(3),
		sink.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(context.Context, notify.Event) error {
			attempts <- struct{}{}
			return nil
		}),
	)
	sink.EXPECT().Close().Return(nil)

	cancel, done := runDispatcher(t, d)
	for i := 0; i < 4; i++ {
		require.True(t, d.Enqueue(event(notify.KindEntry)))
	}
	waitFor(t, attempts, 4)
	cancel()
	require.NoError(t, <-done)
}

package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func receive(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		require.True(t, ok, "channel closed")
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func TestBusRoutesBySession(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus()
	ctx, cancel := context.WithCancel(context.Background())

	mine, err := bus.Subscribe(ctx, "s1")
	require.NoError(t, err)
	all, err := bus.Subscribe(ctx, "")
	require.NoError(t, err)

	bus.Publish(Event{Type: TypeStageChanged, SessionID: "s2", Stage: "PLANNING"})
	bus.Publish(Event{Type: TypeQueryStarted, SessionID: "s1", Query: "acme osha"})

	ev := receive(t, mine)
	assert.Equal(t, TypeQueryStarted, ev.Type)
	assert.Equal(t, "acme osha", ev.Query)
	assert.False(t, ev.At.IsZero())

	first := receive(t, all)
	second := receive(t, all)
	assert.Equal(t, "s2", first.SessionID)
	assert.Equal(t, "s1", second.SessionID)

	cancel()
	require.NoError(t, bus.Close())
	for range mine {
	}
	for range all {
	}
}

func TestBusClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := NewBus()
	ch, err := bus.Subscribe(context.Background(), "s1")
	require.NoError(t, err)

	require.NoError(t, bus.Close())
	require.NoError(t, bus.Close())
	bus.Publish(Event{Type: TypeReportReady, SessionID: "s1"})

	for range ch {
	}
}

func TestNilBus(t *testing.T) {
	var bus *Bus
	bus.Publish(Event{Type: TypeReportReady})
	assert.NoError(t, bus.Close())
	_, err := bus.Subscribe(context.Background(), "x")
	assert.Error(t, err)
}

func TestTopic(t *testing.T) {
	assert.Equal(t, "session.abc", Topic("abc"))
}

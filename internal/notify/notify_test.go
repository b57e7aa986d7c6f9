package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ChimfwembeMLF/tekrem-erp-sub005/agile"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type collector struct {
	mu  sync.Mutex
	ids []string
}

func (c *collector) Deliver(_ context.Context, ev agile.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = append(c.ids, ev.ID)
	return nil
}

func (c *collector) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.ids...)
}

func TestDispatcher_DeliversInOrderToEverySink(t *testing.T) {
	a, b := &collector{}, &collector{}
	d := NewDispatcher(Options{Buffer: 16}, a, b)

	for _, id := range []string{"1", "2", "3"} {
		d.Notify(context.Background(), agile.Event{ID: id, Kind: agile.EventCardCompleted})
	}
	d.Close()

	assert.Equal(t, []string{"1", "2", "3"}, a.IDs())
	assert.Equal(t, []string{"1", "2", "3"}, b.IDs())
	delivered, dropped := d.Stats()
	assert.Equal(t, int64(6), delivered)
	assert.Zero(t, dropped)
}

func TestDispatcher_DropsWhenFull(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	blocking := SinkFunc(func(context.Context, agile.Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	})

	d := NewDispatcher(Options{Buffer: 1, Logger: zap.New(core)}, blocking)
	d.Notify(context.Background(), agile.Event{ID: "in-flight"})
	<-started
	d.Notify(context.Background(), agile.Event{ID: "queued"})
	d.Notify(context.Background(), agile.Event{ID: "dropped"})

	close(release)
	d.Close()

	delivered, dropped := d.Stats()
	assert.Equal(t, int64(2), delivered)
	assert.Equal(t, int64(1), dropped)
	require.Equal(t, 1, logs.FilterMessage("Dropped notification").Len())
	assert.Equal(t, "queue full", logs.All()[0].ContextMap()["reason"])
}

func TestDispatcher_SinkFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	good := &collector{}
	failing := SinkFunc(func(context.Context, agile.Event) error { return errors.New("unreachable") })

	d := NewDispatcher(Options{Logger: zap.New(core)}, failing, good)
	d.Notify(context.Background(), agile.Event{ID: "e1", Kind: agile.EventSprintStarted})
	d.Close()

	assert.Equal(t, []string{"e1"}, good.IDs())
	assert.Equal(t, 1, logs.FilterMessage("Notification sink failed").Len())
}

func TestDispatcher_TimeoutReachesSink(t *testing.T) {
	var deadline bool
	sink := SinkFunc(func(ctx context.Context, _ agile.Event) error {
		_, deadline = ctx.Deadline()
		return nil
	})
	d := NewDispatcher(Options{Timeout: time.Second}, sink)
	d.Notify(context.Background(), agile.Event{ID: "e1"})
	d.Close()
	assert.True(t, deadline)
}

func TestDispatcher_NotifyAfterClose(t *testing.T) {
	d := NewDispatcher(Options{})
	d.Close()
	d.Close()

	assert.NotPanics(t, func() {
		d.Notify(context.Background(), agile.Event{ID: "late"})
	})
	_, dropped := d.Stats()
	assert.Equal(t, int64(1), dropped)
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	err := LogSink(zap.New(core)).Deliver(context.Background(), agile.Event{
		ID: "e1", Kind: agile.EventWipExceeded, ColumnID: "col-1",
	})
	require.NoError(t, err)
	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "WipExceeded", fields["kind"])
	assert.Equal(t, "col-1", fields["column_id"])
}

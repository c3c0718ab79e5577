package notify

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name   string
	err    error
	titles []string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyEventFilter(t *testing.T) {
	sender := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{sender}, []string{"settlement_failed"}, testLogger())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, "settlement_failed", "Settlement failed", "details"))
	require.NoError(t, n.Notify(ctx, "sweep_error", "Sweep error", "details"))

	assert.Equal(t, []string{"Settlement failed"}, sender.titles)
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	sender := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{sender}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), "anything", "Title", "msg"))
	assert.Len(t, sender.titles, 1)
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	broken := &fakeSender{name: "broken", err: fmt.Errorf("webhook gone")}
	ok := &fakeSender{name: "ok"}
	n := NewNotifier([]Sender{broken, ok}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "Title", "msg")
	assert.Error(t, err)
	assert.Len(t, ok.titles, 1)
}

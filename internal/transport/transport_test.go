package transport

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"meetsync/pkg/logx"
)

func TestOutboxRecordsAndForwards(t *testing.T) {
	var forwarded []string
	next := Func(func(_ context.Context, to, _, _ string) error {
		forwarded = append(forwarded, to)
		return nil
	})
	o := NewOutbox(next, 2)
	ctx := context.Background()
	for i := range 3 {
		require.NoError(t, o.Send(ctx, fmt.Sprintf("p%d@x.io", i), "s", "b"))
	}

	msgs := o.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, "p1@x.io", msgs[0].To)
	require.Equal(t, "p2@x.io", msgs[1].To)
	require.Equal(t, []string{"p0@x.io", "p1@x.io", "p2@x.io"}, forwarded)
}

func TestOutboxKeepsNothingOnFailure(t *testing.T) {
	boom := errors.New("provider down")
	o := NewOutbox(Func(func(context.Context, string, string, string) error { return boom }), 0)
	require.ErrorIs(t, o.Send(context.Background(), "a@x.io", "s", "b"), boom)
	require.Empty(t, o.Messages())
}

func TestLogTransport(t *testing.T) {
	l := NewLog(logx.Nop())
	require.NoError(t, l.Send(context.Background(), "a@x.io", "s", "b"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, l.Send(ctx, "a@x.io", "s", "b"), context.Canceled)
}

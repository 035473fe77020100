package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meetsync/internal/model"
	"meetsync/internal/retry"
	"meetsync/internal/runtime/supervisor"
)

func TestHubCreatesOnePollerPerRecipient(t *testing.T) {
	store := seed(t, 2)
	h := NewHub(Config{Retry: retry.Policy{MaxAttempts: 1}}, Deps{Store: store}, nil, 2)

	a, err := h.Get(" Alice@Example.com ")
	require.NoError(t, err)
	b, err := h.Get(alice)
	require.NoError(t, err)
	require.Same(t, a, b)

	_, err = h.Get("bob@example.com")
	require.NoError(t, err)
	_, err = h.Get("carol@example.com")
	require.ErrorIs(t, err, ErrHubFull)

	_, err = h.Get("not-an-email")
	require.True(t, model.IsValidation(err))
	require.Equal(t, []string{alice, "bob@example.com"}, h.Emails())
}

func TestHubViewPollsOnFirstRequest(t *testing.T) {
	store := seed(t, 3)
	h := NewHub(Config{Retry: retry.Policy{MaxAttempts: 1}}, Deps{Store: store}, nil, 0)

	snap, err := h.View(context.Background(), alice, false)
	require.NoError(t, err)
	require.Equal(t, StateOK, snap.State)
	require.Len(t, snap.Items, 3)
	require.Equal(t, 1, store.lists)

	_, err = h.View(context.Background(), alice, false)
	require.NoError(t, err)
	require.Equal(t, 1, store.lists)

	_, err = h.View(context.Background(), alice, true)
	require.NoError(t, err)
	require.Equal(t, 2, store.lists)
}

func TestHubRunsPollersUnderSupervisor(t *testing.T) {
	store := seed(t, 1)
	sup := supervisor.New(context.Background())
	h := NewHub(Config{Interval: time.Hour, Retry: retry.Policy{MaxAttempts: 1}}, Deps{Store: store}, sup, 0)

	p, err := h.Get(alice)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return p.Snapshot().State == StateOK }, time.Second, time.Millisecond)

	h.Apply(Config{Interval: time.Minute, Limit: 5})
	require.Equal(t, 5, p.config().Limit)
	require.Equal(t, alice, p.Email())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, sup.Stop(ctx))
}

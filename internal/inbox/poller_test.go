package inbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meetsync/internal/eventbus"
	"meetsync/internal/model"
	"meetsync/internal/retry"
	"meetsync/internal/storage"
)

const alice = "alice@example.com"

// flakyStore fails the next listFails reads and every write while writesDown.
type flakyStore struct {
	storage.NotificationRepository

	mu         sync.Mutex
	listFails  int
	listErr    error
	lists      int
	writesDown bool
}

func (f *flakyStore) ListByRecipient(ctx context.Context, email string, limit int) ([]model.Notification, error) {
	f.mu.Lock()
	f.lists++
	if f.listFails > 0 {
		f.listFails--
		err := f.listErr
		f.mu.Unlock()
		return nil, err
	}
	f.mu.Unlock()
	return f.NotificationRepository.ListByRecipient(ctx, email, limit)
}

func (f *flakyStore) MarkRead(ctx context.Context, email, id string) error {
	f.mu.Lock()
	down := f.writesDown
	f.mu.Unlock()
	if down {
		return errors.New("disk full")
	}
	return f.NotificationRepository.MarkRead(ctx, email, id)
}

func (f *flakyStore) MarkAllRead(ctx context.Context, email string) (int, error) {
	f.mu.Lock()
	down := f.writesDown
	f.mu.Unlock()
	if down {
		return 0, errors.New("disk full")
	}
	return f.NotificationRepository.MarkAllRead(ctx, email)
}

func (f *flakyStore) setWritesDown(v bool) {
	f.mu.Lock()
	f.writesDown = v
	f.mu.Unlock()
}

func seed(t *testing.T, n int) *flakyStore {
	t.Helper()
	mem := storage.NewMemory()
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		_, err := mem.Notifications().Create(context.Background(), model.Notification{
			ID:             model.NewID(),
			RecipientEmail: alice,
			MeetingID:      "m1",
			Kind:           model.NotifyInvitation,
			Title:          "Invitation",
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	return &flakyStore{NotificationRepository: mem.Notifications()}
}

func newTestPoller(store storage.NotificationRepository, bus eventbus.Bus) *Poller {
	return NewPoller(Config{
		Email: alice,
		Limit: 20,
		Retry: retry.Policy{MaxAttempts: 4},
	}, Deps{Store: store, Bus: bus})
}

func TestPollListsNewestFirstWithLimit(t *testing.T) {
	store := seed(t, 25)
	p := newTestPoller(store, nil)

	items, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 20)
	require.True(t, items[0].CreatedAt.After(items[1].CreatedAt))

	snap := p.Snapshot()
	require.Equal(t, StateOK, snap.State)
	require.Equal(t, 20, snap.Unread)
	require.Zero(t, snap.RetryCount)
	require.False(t, snap.LastPoll.IsZero())
}

func TestPollRetriesTransientErrors(t *testing.T) {
	store := seed(t, 2)
	store.listFails = 3
	store.listErr = retry.Transient(errors.New("connection reset"))
	p := newTestPoller(store, nil)

	items, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, 4, store.lists)
	require.Equal(t, StateOK, p.Snapshot().State)
	require.Zero(t, p.Snapshot().RetryCount)
}

func TestPollFailsAfterExhaustion(t *testing.T) {
	store := seed(t, 2)
	bus := eventbus.New()
	events, unsub := eventbus.Filtered(bus, 4, eventbus.TypeInboxFailed)
	defer unsub()

	p := newTestPoller(store, bus)
	_, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.Len(t, p.Snapshot().Items, 2)

	store.listFails = 10
	store.listErr = retry.Transient(errors.New("timeout"))
	_, err = p.Poll(context.Background())
	var tf *model.TransientReadFailure
	require.ErrorAs(t, err, &tf)

	snap := p.Snapshot()
	require.Equal(t, StateFailed, snap.State)
	require.Empty(t, snap.Items)
	require.Equal(t, 3, snap.RetryCount)
	require.NotEmpty(t, snap.LastError)

	select {
	case e := <-events:
		require.Equal(t, 4, e.Data.(FailedEvent).Attempts)
	case <-time.After(time.Second):
		t.Fatal("no inbox.failed event")
	}
}

func TestPollDoesNotRetryPermanentErrors(t *testing.T) {
	store := seed(t, 1)
	store.listFails = 1
	store.listErr = errors.New("no such table")
	p := newTestPoller(store, nil)

	_, err := p.Poll(context.Background())
	require.Error(t, err)
	require.Equal(t, 1, store.lists)
	require.Equal(t, StateFailed, p.Snapshot().State)
	require.Zero(t, p.Snapshot().RetryCount)
}

func TestMarkReadPersists(t *testing.T) {
	store := seed(t, 3)
	p := newTestPoller(store, nil)
	items, err := p.Poll(context.Background())
	require.NoError(t, err)

	require.NoError(t, p.MarkRead(context.Background(), items[0].ID))
	require.Equal(t, 2, p.Snapshot().Unread)

	fresh, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.True(t, fresh[0].IsRead)
}

func TestMarkReadUnknownID(t *testing.T) {
	p := newTestPoller(seed(t, 1), nil)
	_, err := p.Poll(context.Background())
	require.NoError(t, err)
	require.ErrorIs(t, p.MarkRead(context.Background(), "nope"), model.ErrNotFound)
	require.True(t, model.IsValidation(p.MarkRead(context.Background(), "")))
}

func TestMarkReadReconcilesAfterWriteFailure(t *testing.T) {
	store := seed(t, 3)
	p := newTestPoller(store, nil)
	items, err := p.Poll(context.Background())
	require.NoError(t, err)

	store.setWritesDown(true)
	require.NoError(t, p.MarkRead(context.Background(), items[1].ID))
	snap := p.Snapshot()
	require.Equal(t, 2, snap.Unread)
	require.Equal(t, 1, snap.Pending)

	// Still down: the pending write survives and the local flip is overlaid.
	_, err = p.Poll(context.Background())
	require.NoError(t, err)
	snap = p.Snapshot()
	require.Equal(t, 1, snap.Pending)
	require.Equal(t, 2, snap.Unread)

	store.setWritesDown(false)
	_, err = p.Poll(context.Background())
	require.NoError(t, err)
	require.Zero(t, p.Snapshot().Pending)

	stored, err := store.NotificationRepository.ListByRecipient(context.Background(), alice, 0)
	require.NoError(t, err)
	for _, n := range stored {
		require.Equal(t, n.ID == items[1].ID, n.IsRead, n.ID)
	}
}

func TestMarkAllReadTwoPhase(t *testing.T) {
	store := seed(t, 4)
	p := newTestPoller(store, nil)
	_, err := p.Poll(context.Background())
	require.NoError(t, err)

	store.setWritesDown(true)
	n, err := p.MarkAllRead(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, n)
	require.Zero(t, p.Snapshot().Unread)
	require.Equal(t, 1, p.Snapshot().Pending)

	store.setWritesDown(false)
	_, err = p.Poll(context.Background())
	require.NoError(t, err)
	require.Zero(t, p.Snapshot().Pending)
	require.Zero(t, p.Snapshot().Unread)
}

func TestRunStopsAutoPollingWhenFailed(t *testing.T) {
	store := seed(t, 1)
	store.listFails = 100
	store.listErr = errors.New("broken")
	p := NewPoller(Config{Email: alice, Interval: 5 * time.Millisecond, Retry: retry.Policy{MaxAttempts: 1}}, Deps{Store: store})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.Snapshot().State == StateFailed }, time.Second, time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	store.mu.Lock()
	lists := store.lists
	store.listFails = 0
	store.mu.Unlock()
	require.Equal(t, 1, lists)

	p.Retry()
	require.Eventually(t, func() bool { return p.Snapshot().State == StateOK }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

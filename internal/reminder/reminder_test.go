package reminder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meetsync/internal/model"
	"meetsync/internal/notifier"
	"meetsync/internal/storage"
)

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		in    string
		kind  SpecKind
		every time.Duration
		err   bool
	}{
		{in: "0 9 * * 1-5", kind: SpecCron},
		{in: "@daily", kind: SpecCron},
		{in: "@every 2h", kind: SpecCron},
		{in: "cron: */15 * * * *", kind: SpecCron},
		{in: "90m", kind: SpecInterval, every: 90 * time.Minute},
		{in: "01:30", kind: SpecInterval, every: 90 * time.Minute},
		{in: "every: 00:05", kind: SpecInterval, every: 5 * time.Minute},
		{in: "", err: true},
		{in: "00:00", err: true},
		{in: "01:75", err: true},
		{in: "soon", err: true},
		{in: "61 * * * *", err: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			spec, err := ParseSchedule(tt.in)
			if tt.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.kind, spec.Kind)
			require.Equal(t, tt.every, spec.Every)
			_, err = spec.CronSchedule()
			require.NoError(t, err)
		})
	}
}

type fakeReminder struct {
	mu       sync.Mutex
	calls    []string
	inFlight atomic.Int32
	peak     atomic.Int32
	fail     map[string]error
	delay    time.Duration
}

func (f *fakeReminder) SendReminders(ctx context.Context, id string) (notifier.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(f.delay)
	f.mu.Lock()
	f.calls = append(f.calls, id)
	f.mu.Unlock()
	if err := f.fail[id]; err != nil {
		return notifier.Result{}, err
	}
	return notifier.Result{Succeeded: []string{"a@x.io", "b@x.io"}, Failed: []notifier.Failure{{Email: "c@x.io", Reason: "down"}}}, nil
}

func seedMeetings(t *testing.T, st storage.Store, statuses ...model.MeetingStatus) []string {
	t.Helper()
	var ids []string
	for i, status := range statuses {
		m, err := st.Meetings().Create(context.Background(), model.Meeting{
			ID:              model.NewID(),
			Title:           "m",
			DurationMinutes: 30,
			Status:          status,
			CreatedAt:       time.Date(2025, 1, 1, 0, i, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		if status == model.StatusSent {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func TestSweepRemindsSentMeetingsConcurrently(t *testing.T) {
	st := storage.NewMemory()
	sent := seedMeetings(t, st,
		model.StatusSent, model.StatusDraft, model.StatusSent, model.StatusConfirmed,
		model.StatusSent, model.StatusSent, model.StatusCancelled)
	fr := &fakeReminder{
		delay: 20 * time.Millisecond,
		fail: map[string]error{
			sent[0]: errors.New("store offline"),
			sent[1]: &model.InvalidTransitionError{MeetingID: sent[1], From: model.StatusConfirmed, Op: "remind"},
		},
	}
	svc := New(Config{Concurrency: 2}, Deps{Meetings: st.Meetings(), Reminder: fr})

	rep, err := svc.Sweep(context.Background())
	require.NoError(t, err)
	require.Equal(t, 4, rep.Meetings)
	require.ElementsMatch(t, sent, fr.calls)
	require.Equal(t, 4, rep.Reminded)
	require.Equal(t, 2, rep.Failed)
	require.Len(t, rep.Errors, 1)
	require.LessOrEqual(t, fr.peak.Load(), int32(2))
	require.Equal(t, rep, svc.LastReport())
}

func TestSweepRejectsOverlap(t *testing.T) {
	st := storage.NewMemory()
	seedMeetings(t, st, model.StatusSent)
	fr := &fakeReminder{delay: 100 * time.Millisecond}
	svc := New(Config{}, Deps{Meetings: st.Meetings(), Reminder: fr})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Sweep(context.Background())
	}()
	require.Eventually(t, func() bool { return fr.inFlight.Load() == 1 }, time.Second, time.Millisecond)
	_, err := svc.Sweep(context.Background())
	require.ErrorIs(t, err, ErrSweepRunning)
	<-done
}

func TestScheduledSweepRunsAndStops(t *testing.T) {
	st := storage.NewMemory()
	seedMeetings(t, st, model.StatusSent)
	fr := &fakeReminder{}
	svc := New(Config{Enabled: true, Schedule: "@every 1s", Timezone: "UTC"}, Deps{Meetings: st.Meetings(), Reminder: fr})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		fr.mu.Lock()
		defer fr.mu.Unlock()
		return len(fr.calls) > 0
	}, 3*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestStartRejectsBadConfig(t *testing.T) {
	svc := New(Config{Enabled: true, Schedule: "whenever"}, Deps{})
	require.Error(t, svc.Start(context.Background()))

	svc = New(Config{Enabled: true, Timezone: "Mars/Olympus"}, Deps{})
	require.Error(t, svc.Start(context.Background()))

	svc = New(Config{}, Deps{})
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Apply(Config{Enabled: false, Concurrency: 8}))
}

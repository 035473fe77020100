package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meetsync/internal/model"
	"meetsync/internal/retry"
	logx "meetsync/pkg/logx"
)

func drivers(t *testing.T) map[string]Store {
	t.Helper()
	sq, err := Open(Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "meetsync.db")}, logx.Nop())
	require.NoError(t, err)
	mem, err := Open(Config{}, logx.Nop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sq.Close()
		_ = mem.Close()
	})
	return map[string]Store{"memory": mem, "sqlite": sq}
}

var base = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)

func meeting(id, org string, status model.MeetingStatus, created time.Time) model.Meeting {
	return model.Meeting{
		ID:              id,
		Title:           "Sync " + id,
		OrganizationID:  org,
		DurationMinutes: 30,
		Modality:        model.ModalityOnline,
		ProposedDates:   []model.ProposedDate{{Datetime: base, Label: "Mon"}},
		Participants: []model.Participant{
			{Name: "A", Email: "A@x.io", Kind: model.KindInternal, Status: model.ParticipantInvited},
			{Name: "dup", Email: "a@x.io"},
		},
		Status:         status,
		InvitationCode: "code-" + id,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func TestMeetingRepository(t *testing.T) {
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := st.Meetings()

			m, err := repo.Create(ctx, meeting("m1", "org1", model.StatusDraft, base))
			require.NoError(t, err)
			require.EqualValues(t, 1, m.Version)
			require.Len(t, m.Participants, 1, "participants deduplicated on write")

			_, err = repo.Create(ctx, meeting("m1", "org1", model.StatusDraft, base))
			require.ErrorIs(t, err, ErrExists)

			got, err := repo.Get(ctx, "m1")
			require.NoError(t, err)
			require.Equal(t, "a@x.io", got.Participants[0].Email)
			require.True(t, got.ProposedDates[0].Datetime.Equal(base))

			_, err = repo.Get(ctx, "missing")
			require.ErrorIs(t, err, model.ErrNotFound)

			got.Status = model.StatusSent
			upd, err := repo.Update(ctx, got, got.Version)
			require.NoError(t, err)
			require.EqualValues(t, 2, upd.Version)

			// Stale writer loses.
			got.Status = model.StatusCancelled
			_, err = repo.Update(ctx, got, got.Version)
			require.ErrorIs(t, err, ErrConflict)

			_, err = repo.Update(ctx, meeting("nope", "", model.StatusDraft, base), 1)
			require.ErrorIs(t, err, model.ErrNotFound)

			cur, err := repo.Get(ctx, "m1")
			require.NoError(t, err)
			require.Equal(t, model.StatusSent, cur.Status)
		})
	}
}

func TestMeetingQueries(t *testing.T) {
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := st.Meetings()
			for i, m := range []model.Meeting{
				meeting("b", "org1", model.StatusSent, base.Add(2*time.Hour)),
				meeting("a", "org1", model.StatusDraft, base.Add(time.Hour)),
				meeting("c", "org2", model.StatusConfirmed, base),
			} {
				_, err := repo.Create(ctx, m)
				require.NoError(t, err, "create %d", i)
			}

			byOrg, err := repo.ListByOrganization(ctx, "org1")
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b"}, ids(byOrg))

			byIDs, err := repo.ListByIDs(ctx, []string{"c", "b", "zzz"})
			require.NoError(t, err)
			require.Equal(t, []string{"c", "b"}, ids(byIDs))

			empty, err := repo.ListByIDs(ctx, nil)
			require.NoError(t, err)
			require.Empty(t, empty)

			active, err := repo.ListByStatus(ctx, model.StatusDraft, model.StatusSent)
			require.NoError(t, err)
			require.Equal(t, []string{"a", "b"}, ids(active))
		})
	}
}

func ids(ms []model.Meeting) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func TestResponseUpsertReplacesInPlace(t *testing.T) {
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := st.Responses()
			first := base.Add(-time.Hour)

			_, err := repo.Upsert(ctx, model.Response{
				MeetingID: "m1", ParticipantEmail: "P@x.io", AvailableDates: []time.Time{base},
				Status: model.ResponseAvailable, CreatedAt: first, UpdatedAt: first,
			})
			require.NoError(t, err)
			r, err := repo.Upsert(ctx, model.Response{
				MeetingID: "m1", ParticipantEmail: "p@x.io", Status: model.ResponseDeclined,
				Notes: "travelling", CreatedAt: base, UpdatedAt: base,
			})
			require.NoError(t, err)
			require.True(t, r.CreatedAt.Equal(first))

			_, err = repo.Upsert(ctx, model.Response{MeetingID: "m2", ParticipantEmail: "p@x.io", CreatedAt: base})
			require.NoError(t, err)

			list, err := repo.ListByMeeting(ctx, "m1")
			require.NoError(t, err)
			require.Len(t, list, 1)
			require.Equal(t, model.ResponseDeclined, list[0].Status)
			require.Empty(t, list[0].AvailableDates)

			got, err := repo.GetByParticipant(ctx, "m1", " P@X.io ")
			require.NoError(t, err)
			require.Equal(t, "travelling", got.Notes)

			_, err = repo.GetByParticipant(ctx, "m1", "other@x.io")
			require.ErrorIs(t, err, model.ErrNotFound)
		})
	}
}

func TestNotificationRepository(t *testing.T) {
	for name, st := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo := st.Notifications()
			for i := 0; i < 5; i++ {
				_, err := repo.Create(ctx, model.Notification{
					ID: string(rune('a' + i)), RecipientEmail: "Org@x.io", MeetingID: "m1",
					Kind: model.NotifyNewResponse, Title: "t", Message: "m",
					CreatedAt: base.Add(time.Duration(i) * time.Minute),
				})
				require.NoError(t, err)
			}
			_, err := repo.Create(ctx, model.Notification{ID: "z", RecipientEmail: "other@x.io", CreatedAt: base})
			require.NoError(t, err)
			_, err = repo.Create(ctx, model.Notification{ID: "z", RecipientEmail: "other@x.io", CreatedAt: base})
			require.ErrorIs(t, err, ErrExists)

			latest, err := repo.ListByRecipient(ctx, "org@x.io", 3)
			require.NoError(t, err)
			require.Len(t, latest, 3)
			require.Equal(t, "e", latest[0].ID)
			require.Equal(t, "c", latest[2].ID)
			require.Equal(t, model.NotifyNewResponse, latest[0].Kind)

			require.NoError(t, repo.MarkRead(ctx, "org@x.io", "e"))
			require.ErrorIs(t, repo.MarkRead(ctx, "org@x.io", "z"), model.ErrNotFound)

			n, err := repo.MarkAllRead(ctx, "ORG@x.io")
			require.NoError(t, err)
			require.Equal(t, 4, n)

			all, err := repo.ListByRecipient(ctx, "org@x.io", 0)
			require.NoError(t, err)
			require.Len(t, all, 5)
			for _, n := range all {
				require.True(t, n.IsRead, n.ID)
			}
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open(Config{Driver: "mongo"}, logx.Nop())
	require.Error(t, err)
}

func TestSQLiteRequiresPath(t *testing.T) {
	_, err := Open(Config{Driver: "sqlite"}, logx.Nop())
	require.Error(t, err)
}

func TestSQLiteLockContentionIsTransient(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "meetsync.db")
	st, err := Open(Config{Driver: "sqlite", Path: path, BusyTimeout: 20 * time.Millisecond}, logx.Nop())
	require.NoError(t, err)
	defer st.Close()
	_, err = st.Notifications().Create(ctx, model.Notification{ID: "n1", RecipientEmail: "a@x.io", Kind: model.NotifyInvitation, CreatedAt: base})
	require.NoError(t, err)

	other, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer other.Close()
	conn, err := other.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.ExecContext(ctx, "BEGIN IMMEDIATE")
	require.NoError(t, err)
	defer conn.ExecContext(ctx, "ROLLBACK")

	err = st.Notifications().MarkRead(ctx, "a@x.io", "n1")
	require.Error(t, err)
	require.True(t, retry.IsTransient(err), err.Error())

	require.False(t, retry.IsTransient(classify(errors.New("disk I/O"))))
	require.NoError(t, classify(nil))
}

package model

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInvitationLink(t *testing.T) {
	got := InvitationLink("https://meet.example.com/", "m1", "abc123", "Ana+test@ex ample.com")
	require.Equal(t, "https://meet.example.com/RespondToMeeting?meeting=m1&code=abc123&email=Ana%2Btest%40ex%20ample.com", got)
}

func TestEncodeURIComponent(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a@b.c", "a%40b.c"},
		{"-_.!~*'()", "-_.!~*'()"},
		{"a/b?c=d&e", "a%2Fb%3Fc%3Dd%26e"},
		{"é", "%C3%A9"},
	}
	for _, tc := range cases {
		if got := EncodeURIComponent(tc.in); got != tc.want {
			t.Fatalf("EncodeURIComponent(%q)=%q want %q", tc.in, got, tc.want)
		}
	}
}

func TestNewInvitationCodeIsOpaque(t *testing.T) {
	a, b := NewInvitationCode(), NewInvitationCode()
	require.Len(t, a, 32)
	require.NotEqual(t, a, b)
}

func TestDedupParticipantsFirstWins(t *testing.T) {
	in := []Participant{
		{Name: "Ana", Email: " Ana@Example.com "},
		{Name: "Bob", Email: "bob@example.com"},
		{Name: "Ana again", Email: "ana@example.com", Kind: KindExternal},
		{Name: "Nobody", Email: "  "},
	}
	out := DedupParticipants(in)
	require.Len(t, out, 2)
	require.Equal(t, "ana@example.com", out[0].Email)
	require.Equal(t, "Ana", out[0].Name)
	require.Equal(t, "bob@example.com", out[1].Email)
}

func TestMergeParticipantsReportsAdded(t *testing.T) {
	base := []Participant{{Email: "a@x.io"}}
	merged, added := MergeParticipants(base, []Participant{{Email: "A@x.io"}, {Email: "b@x.io"}})
	require.Len(t, merged, 2)
	require.Len(t, added, 1)
	require.Equal(t, "b@x.io", added[0].Email)
}

func TestBusyIntervalHalfOpen(t *testing.T) {
	base := time.Date(2024, 6, 10, 10, 0, 0, 0, time.UTC)
	b := BusyInterval{Start: base, End: base.Add(time.Hour)}
	require.False(t, b.Overlaps(base.Add(-time.Hour), base), "touching at start")
	require.False(t, b.Overlaps(base.Add(time.Hour), base.Add(2*time.Hour)), "touching at end")
	require.True(t, b.Overlaps(base.Add(59*time.Minute), base.Add(2*time.Hour)))
}

func TestCloneIsDeep(t *testing.T) {
	fd := time.Now()
	m := Meeting{Participants: []Participant{{Email: "a@x.io"}}, FinalDate: &fd}
	cp := m.Clone()
	cp.Participants[0].ReminderCount = 5
	*cp.FinalDate = fd.Add(time.Hour)
	require.Zero(t, m.Participants[0].ReminderCount)
	require.True(t, m.FinalDate.Equal(fd))
}

func TestErrorTypesAreMatchable(t *testing.T) {
	err := fmt.Errorf("wrap: %w", Invalid("title", "required"))
	require.True(t, IsValidation(err))

	var it *InvalidTransitionError
	err = fmt.Errorf("wrap: %w", &InvalidTransitionError{MeetingID: "m", From: StatusConfirmed, Op: "cancel"})
	require.True(t, errors.As(err, &it))
	require.Equal(t, StatusConfirmed, it.From)

	tf := &TransportFailure{Email: "a@x.io", Attempts: 2, Err: ErrNotFound}
	require.ErrorIs(t, tf, ErrNotFound)
}

package ranking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"meetsync/internal/model"
)

var (
	d1 = time.Date(2024, 7, 1, 9, 0, 0, 0, time.UTC)
	d2 = time.Date(2024, 7, 2, 9, 0, 0, 0, time.UTC)
	d3 = time.Date(2024, 7, 3, 9, 0, 0, 0, time.UTC)
)

func threeDateMeeting() model.Meeting {
	return model.Meeting{
		ID: "m1",
		ProposedDates: []model.ProposedDate{
			{Datetime: d1, Label: "D1"}, {Datetime: d2, Label: "D2"}, {Datetime: d3, Label: "D3"},
		},
		Participants: []model.Participant{{Email: "p1@x.io"}, {Email: "p2@x.io"}, {Email: "p3@x.io"}},
	}
}

func twoAvailableOneDeclined() []model.Response {
	return []model.Response{
		{MeetingID: "m1", ParticipantEmail: "p1@x.io", AvailableDates: []time.Time{d1, d2}, Status: model.ResponseAvailable},
		{MeetingID: "m1", ParticipantEmail: "p2@x.io", AvailableDates: []time.Time{d1}, Status: model.ResponseAvailable},
		{MeetingID: "m1", ParticipantEmail: "p3@x.io", Status: model.ResponseDeclined, Notes: "on leave"},
	}
}

func TestRankOrdersBySupportThenProposedOrder(t *testing.T) {
	m := threeDateMeeting()
	got := Rank(m, twoAvailableOneDeclined())
	require.Len(t, got, 3)
	require.Equal(t, d1, got[0].Date)
	require.Equal(t, 2, got[0].SupportCount)
	require.Equal(t, d2, got[1].Date)
	require.Equal(t, 1, got[1].SupportCount)
	require.Equal(t, d3, got[2].Date)
	require.Equal(t, 0, got[2].SupportCount)
	require.Empty(t, got[2].Supporters)

	st := ComputeStats(m, twoAvailableOneDeclined())
	require.Equal(t, 2, st.EffectiveResponseCount)
	require.Equal(t, 1, st.DeclinedCount)
	require.Equal(t, 3, st.ParticipantCount)
	require.InDelta(t, 2.0/3.0, st.ResponseRate, 1e-9)
	require.Equal(t, []string{"p3@x.io"}, st.Pending)
}

func TestRankIsIdempotent(t *testing.T) {
	m := threeDateMeeting()
	rs := twoAvailableOneDeclined()
	require.Equal(t, Rank(m, rs), Rank(m, rs))
}

func TestTiesKeepProposedOrder(t *testing.T) {
	m := threeDateMeeting()
	rs := []model.Response{
		{MeetingID: "m1", ParticipantEmail: "p1@x.io", AvailableDates: []time.Time{d3, d2}},
	}
	got := Rank(m, rs)
	require.Equal(t, []time.Time{d2, d3, d1}, []time.Time{got[0].Date, got[1].Date, got[2].Date})
}

func TestSupportNeverExceedsEffectiveCount(t *testing.T) {
	m := threeDateMeeting()
	rs := append(twoAvailableOneDeclined(),
		model.Response{MeetingID: "m1", ParticipantEmail: "p2@x.io", AvailableDates: []time.Time{d1, d2, d3}, UpdatedAt: time.Now()},
		model.Response{MeetingID: "m1", ParticipantEmail: "ghost@x.io", AvailableDates: []time.Time{d1.Add(time.Minute)}},
		model.Response{MeetingID: "other", ParticipantEmail: "p1@x.io", AvailableDates: []time.Time{d3}},
	)
	st := ComputeStats(m, rs)
	for _, ds := range Rank(m, rs) {
		require.LessOrEqual(t, ds.SupportCount, st.EffectiveResponseCount)
	}
}

func TestLatestResponseWins(t *testing.T) {
	m := threeDateMeeting()
	now := time.Now()
	rs := []model.Response{
		{MeetingID: "m1", ParticipantEmail: "p1@x.io", AvailableDates: []time.Time{d1}, UpdatedAt: now},
		{MeetingID: "m1", ParticipantEmail: "P1@x.io", Status: model.ResponseDeclined, UpdatedAt: now.Add(time.Minute)},
	}
	require.Zero(t, Support(m, rs, d1))
	st := ComputeStats(m, rs)
	require.Equal(t, 0, st.EffectiveResponseCount)
	require.Equal(t, 1, st.DeclinedCount)
}

func TestStatsNoParticipants(t *testing.T) {
	st := ComputeStats(model.Meeting{ID: "m"}, nil)
	require.Zero(t, st.ResponseRate)
	require.Empty(t, st.Pending)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		support, max int
		want         Band
	}{
		{0, 0, BandLow},
		{1, 1, BandTop},
		{0, 1, BandLow},
		{3, 3, BandTop},
		{2, 3, BandSecond},
		{1, 3, BandLow},
		{1, 2, BandSecond},
	}
	for _, tc := range cases {
		if got := Classify(tc.support, tc.max); got != tc.want {
			t.Fatalf("Classify(%d,%d)=%s want %s", tc.support, tc.max, got, tc.want)
		}
	}
}

func TestMaxSupport(t *testing.T) {
	require.Equal(t, 2, MaxSupport(Rank(threeDateMeeting(), twoAvailableOneDeclined())))
	require.Zero(t, MaxSupport(nil))
}

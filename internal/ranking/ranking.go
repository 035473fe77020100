// Package ranking aggregates participant responses into a ranked list of
// proposed dates plus response statistics. It is pure and re-reads the full
// response set on every call.
package ranking

import (
	"slices"
	"time"

	"meetsync/internal/model"
)

// Supporter identifies a participant who marked a date as available.
type Supporter struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

type DateSupport struct {
	Date         time.Time   `json:"date"`
	Label        string      `json:"label,omitempty"`
	SupportCount int         `json:"support_count"`
	Supporters   []Supporter `json:"supporters"`
}

type Stats struct {
	EffectiveResponseCount int `json:"effective_response_count"`
	DeclinedCount          int `json:"declined_count"`
	ParticipantCount       int `json:"participant_count"`
	// ResponseRate is EffectiveResponseCount/ParticipantCount in [0,1].
	ResponseRate float64 `json:"response_rate"`
	// Pending lists participants without a non-declined response, in meeting order.
	Pending []string `json:"pending"`
}

// Band is an informational label derived from support counts.
type Band string

const (
	BandTop    Band = "top"
	BandSecond Band = "second"
	BandLow    Band = "low"
)

// Latest collapses responses to one per participant email, keeping the most
// recently updated. Responses for other meetings are dropped.
func Latest(meetingID string, responses []model.Response) []model.Response {
	idx := make(map[string]int, len(responses))
	out := make([]model.Response, 0, len(responses))
	for _, r := range responses {
		if meetingID != "" && r.MeetingID != meetingID {
			continue
		}
		key := model.NormalizeEmail(r.ParticipantEmail)
		if i, ok := idx[key]; ok {
			if !r.UpdatedAt.Before(out[i].UpdatedAt) {
				out[i] = r
			}
			continue
		}
		idx[key] = len(out)
		out = append(out, r)
	}
	return out
}

// Rank orders proposed dates by support, highest first. Ties keep the
// proposed-date order. Calling Rank twice on the same input yields the same
// ordering.
func Rank(m model.Meeting, responses []model.Response) []DateSupport {
	rs := Latest(m.ID, responses)
	out := make([]DateSupport, 0, len(m.ProposedDates))
	for _, d := range m.ProposedDates {
		ds := DateSupport{Date: d.Datetime, Label: d.Label, Supporters: []Supporter{}}
		for _, r := range rs {
			if r.Supports(d.Datetime) {
				ds.SupportCount++
				ds.Supporters = append(ds.Supporters, Supporter{Name: r.ParticipantName, Email: r.ParticipantEmail})
			}
		}
		out = append(out, ds)
	}
	slices.SortStableFunc(out, func(a, b DateSupport) int {
		return b.SupportCount - a.SupportCount
	})
	return out
}

// Support returns the number of non-declined responses naming t.
func Support(m model.Meeting, responses []model.Response, t time.Time) int {
	n := 0
	for _, r := range Latest(m.ID, responses) {
		if r.Supports(t) {
			n++
		}
	}
	return n
}

func ComputeStats(m model.Meeting, responses []model.Response) Stats {
	rs := Latest(m.ID, responses)
	st := Stats{ParticipantCount: len(m.Participants), Pending: []string{}}
	answered := make(map[string]struct{}, len(rs))
	for _, r := range rs {
		if r.Declined() {
			st.DeclinedCount++
			continue
		}
		st.EffectiveResponseCount++
		answered[model.NormalizeEmail(r.ParticipantEmail)] = struct{}{}
	}
	if st.ParticipantCount > 0 {
		st.ResponseRate = float64(st.EffectiveResponseCount) / float64(st.ParticipantCount)
	}
	for _, p := range m.Participants {
		if _, ok := answered[model.NormalizeEmail(p.Email)]; !ok {
			st.Pending = append(st.Pending, p.Email)
		}
	}
	return st
}

// Classify labels a support count relative to the maximum support.
func Classify(support, max int) Band {
	switch {
	case max > 0 && support == max:
		return BandTop
	case max > 1 && support == max-1:
		return BandSecond
	default:
		return BandLow
	}
}

// MaxSupport returns the highest SupportCount in ranked, or 0.
func MaxSupport(ranked []DateSupport) int {
	m := 0
	for _, d := range ranked {
		if d.SupportCount > m {
			m = d.SupportCount
		}
	}
	return m
}

package lifecycle

import (
	"context"
	"crypto/subtle"
	"fmt"
	"slices"
	"time"

	"meetsync/internal/eventbus"
	"meetsync/internal/model"
	logx "meetsync/pkg/logx"
)

// ResponseInput is an availability answer submitted through an invitation link.
type ResponseInput struct {
	MeetingID     string      `json:"meeting_id"`
	Code          string      `json:"code"`
	Email         string      `json:"email"`
	Name          string      `json:"name"`
	Dates         []time.Time `json:"dates"`
	TravelMinutes int         `json:"travel_minutes"`
	Notes         string      `json:"notes"`
}

// DeclineInput is a refusal submitted through an invitation link.
type DeclineInput struct {
	MeetingID string `json:"meeting_id"`
	Code      string `json:"code"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Reason    string `json:"reason"`
}

// SubmitResponse records the participant's available dates, replacing any
// earlier answer, and notifies the organizer.
func (s *Service) SubmitResponse(ctx context.Context, in ResponseInput) (r model.Response, err error) {
	defer func() { s.record("respond", err) }()
	if in.TravelMinutes < 0 {
		return model.Response{}, model.Invalid("travel_minutes", "must not be negative")
	}
	if len(in.Dates) == 0 {
		return model.Response{}, model.Invalid("dates", "at least one date is required")
	}
	return s.submit(ctx, in.MeetingID, in.Code, in.Email, func(m model.Meeting, p model.Participant) (model.Response, error) {
		dates := make([]time.Time, 0, len(in.Dates))
		for _, d := range in.Dates {
			idx := m.ProposedIndex(d)
			if idx < 0 {
				return model.Response{}, model.Invalid("dates", "%s is not a proposed date", d.UTC().Format(time.RFC3339))
			}
			pd := m.ProposedDates[idx].Datetime
			if !slices.ContainsFunc(dates, pd.Equal) {
				dates = append(dates, pd)
			}
		}
		slices.SortFunc(dates, time.Time.Compare)
		return model.Response{
			ParticipantName: nameOr(in.Name, p.Name),
			AvailableDates:  dates,
			TravelMinutes:   in.TravelMinutes,
			Notes:           plainText(in.Notes),
			Status:          model.ResponseAvailable,
		}, nil
	})
}

// SubmitDecline records that the participant will not attend. A reason is
// mandatory.
func (s *Service) SubmitDecline(ctx context.Context, in DeclineInput) (r model.Response, err error) {
	defer func() { s.record("decline", err) }()
	reason := plainText(in.Reason)
	if reason == "" {
		return model.Response{}, model.Invalid("reason", "required")
	}
	return s.submit(ctx, in.MeetingID, in.Code, in.Email, func(_ model.Meeting, p model.Participant) (model.Response, error) {
		return model.Response{
			ParticipantName: nameOr(in.Name, p.Name),
			AvailableDates:  []time.Time{},
			Notes:           reason,
			Status:          model.ResponseDeclined,
		}, nil
	})
}

func nameOr(name, fallback string) string {
	if n := plainText(name); n != "" {
		return n
	}
	return fallback
}

// submit checks the invitation, upserts the response built by fn and marks
// the participant as responded.
func (s *Service) submit(ctx context.Context, meetingID, code, email string, fn func(model.Meeting, model.Participant) (model.Response, error)) (model.Response, error) {
	email = model.NormalizeEmail(email)
	if !model.ValidEmail(email) {
		return model.Response{}, model.Invalid("email", "malformed address %q", email)
	}
	unlock := s.lock(meetingID)
	defer unlock()

	m, err := s.Get(ctx, meetingID)
	if err != nil {
		return model.Response{}, err
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(m.InvitationCode)) != 1 {
		return model.Response{}, model.ErrInvalidCode
	}
	if m.Status != model.StatusSent {
		return model.Response{}, &model.InvalidTransitionError{MeetingID: m.ID, From: m.Status, Op: "respond"}
	}
	p := m.Participant(email)
	if p == nil {
		return model.Response{}, model.Invalid("email", "%s is not a participant", email)
	}
	r, err := fn(m, *p)
	if err != nil {
		return model.Response{}, err
	}
	now := s.now().UTC()
	r.MeetingID = m.ID
	r.ParticipantEmail = email
	r.CreatedAt = now
	r.UpdatedAt = now
	r, err = s.responses.Upsert(ctx, r)
	if err != nil {
		return model.Response{}, fmt.Errorf("store response: %w", err)
	}

	m, err = s.mutate(ctx, meetingID, func(m *model.Meeting) error {
		mp := m.Participant(email)
		if mp == nil || mp.Status == model.ParticipantResponded {
			return errUnchanged
		}
		mp.Status = model.ParticipantResponded
		return nil
	})
	if err != nil {
		return r, err
	}

	who := nameOr(r.ParticipantName, email)
	kind, title, msg := model.NotifyNewResponse, "New response", fmt.Sprintf("%s responded to %q", who, m.Title)
	if r.Declined() {
		kind, title, msg = model.NotifyResponseDeclined, "Response declined", fmt.Sprintf("%s declined %q: %s", who, m.Title, r.Notes)
	}
	s.writeInbox(ctx, m.Organizer, m.ID, kind, title, msg)
	eventbus.Publish(s.bus, eventbus.TypeResponseSubmitted, ResponseEvent{MeetingID: m.ID, Email: email, Status: r.Status, At: now})
	s.log.Info("response recorded", logx.String("meeting", m.ID), logx.String("email", email), logx.String("status", string(r.Status)))
	return r, nil
}

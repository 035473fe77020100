package lifecycle

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"meetsync/internal/eventbus"
	"meetsync/internal/model"
	logx "meetsync/pkg/logx"
)

// CreateInput describes a new meeting.
type CreateInput struct {
	Title           string               `json:"title"`
	Description     string               `json:"description"`
	Location        string               `json:"location"`
	Organizer       string               `json:"organizer"`
	OrganizationID  string               `json:"organization_id"`
	DurationMinutes int                  `json:"duration_minutes"`
	Modality        model.Modality       `json:"modality"`
	ProposedDates   []model.ProposedDate `json:"proposed_dates"`
	Participants    []model.Participant  `json:"participants"`
}

const labelLayout = "Mon 02 Jan 2006 15:04 MST"

// Create validates in and stores a draft meeting with a fresh invitation
// code. Proposed dates are sorted ascending and participants de-duplicated.
func (s *Service) Create(ctx context.Context, in CreateInput) (m model.Meeting, err error) {
	defer func() { s.record("create", err) }()

	m, err = s.build(in)
	if err != nil {
		return model.Meeting{}, err
	}
	m, err = s.meetings.Create(ctx, m)
	if err != nil {
		return model.Meeting{}, fmt.Errorf("create meeting: %w", err)
	}
	s.publish(eventbus.TypeMeetingCreated, m)
	s.log.Info("meeting created",
		logx.String("meeting", m.ID),
		logx.Int("dates", len(m.ProposedDates)),
		logx.Int("participants", len(m.Participants)))
	return m, nil
}

func (s *Service) build(in CreateInput) (model.Meeting, error) {
	title := plainText(in.Title)
	if title == "" {
		return model.Meeting{}, model.Invalid("title", "required")
	}
	if in.DurationMinutes <= 0 {
		return model.Meeting{}, model.Invalid("duration_minutes", "must be positive, got %d", in.DurationMinutes)
	}
	modality := in.Modality
	switch modality {
	case "":
		modality = model.ModalityOnline
	case model.ModalityOnline, model.ModalityPhysical:
	default:
		return model.Meeting{}, model.Invalid("modality", "unknown modality %q", in.Modality)
	}
	organizer := model.NormalizeEmail(in.Organizer)
	if organizer != "" && !model.ValidEmail(organizer) {
		return model.Meeting{}, model.Invalid("organizer", "malformed address %q", in.Organizer)
	}

	dates, err := normalizeDates(in.ProposedDates)
	if err != nil {
		return model.Meeting{}, err
	}

	participants := model.DedupParticipants(in.Participants)
	if len(participants) == 0 {
		return model.Meeting{}, model.Invalid("participants", "at least one participant is required")
	}
	for i := range participants {
		if err := normalizeParticipant(&participants[i], model.KindInternal); err != nil {
			return model.Meeting{}, err
		}
	}

	now := s.now().UTC()
	return model.Meeting{
		ID:              model.NewID(),
		Title:           title,
		Description:     plainText(in.Description),
		Location:        plainText(in.Location),
		Organizer:       organizer,
		OrganizationID:  in.OrganizationID,
		DurationMinutes: in.DurationMinutes,
		Modality:        modality,
		ProposedDates:   dates,
		Participants:    participants,
		Status:          model.StatusDraft,
		InvitationCode:  model.NewInvitationCode(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

func normalizeDates(in []model.ProposedDate) ([]model.ProposedDate, error) {
	if len(in) == 0 {
		return nil, model.Invalid("proposed_dates", "at least one date is required")
	}
	if len(in) > model.MaxProposedDates {
		return nil, model.Invalid("proposed_dates", "at most %d dates, got %d", model.MaxProposedDates, len(in))
	}
	out := make([]model.ProposedDate, len(in))
	for i, d := range in {
		if d.Datetime.IsZero() {
			return nil, model.Invalid("proposed_dates", "date %d is empty", i)
		}
		d.Datetime = d.Datetime.UTC().Truncate(time.Minute)
		d.Label = strings.TrimSpace(d.Label)
		if d.Label == "" {
			d.Label = d.Datetime.Format(labelLayout)
		}
		out[i] = d
	}
	slices.SortStableFunc(out, func(a, b model.ProposedDate) int { return a.Datetime.Compare(b.Datetime) })
	for i := 1; i < len(out); i++ {
		if out[i].Datetime.Equal(out[i-1].Datetime) {
			return nil, model.Invalid("proposed_dates", "duplicate date %s", out[i].Datetime.Format(time.RFC3339))
		}
	}
	return out, nil
}

// normalizeParticipant validates an already de-duplicated participant and
// resets its delivery state.
func normalizeParticipant(p *model.Participant, defKind model.ParticipantKind) error {
	if !model.ValidEmail(p.Email) {
		return model.Invalid("participants", "malformed address %q", p.Email)
	}
	switch p.Kind {
	case "":
		p.Kind = defKind
	case model.KindInternal, model.KindExternal:
	default:
		return model.Invalid("participants", "unknown kind %q for %s", p.Kind, p.Email)
	}
	p.Name = plainText(p.Name)
	p.Company = plainText(p.Company)
	p.Status = model.ParticipantInvited
	p.ReminderCount = 0
	p.InvitedAt = time.Time{}
	return nil
}

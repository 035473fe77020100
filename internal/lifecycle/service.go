// Package lifecycle drives meetings through draft, sent, confirmed and
// cancelled, and ingests participant responses.
//
// Every read-modify-write of one meeting runs under a per-meeting lock and
// is persisted with a version check, so two processes sharing a store cannot
// both confirm the same meeting.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"meetsync/internal/eventbus"
	"meetsync/internal/metrics"
	"meetsync/internal/model"
	"meetsync/internal/notifier"
	"meetsync/internal/ranking"
	"meetsync/internal/storage"
	logx "meetsync/pkg/logx"
)

// Dispatcher delivers one notification kind to a batch of participants.
// *notifier.Dispatcher implements it.
type Dispatcher interface {
	SendToMany(ctx context.Context, m *model.Meeting, recipients []model.Participant, kind model.NotificationKind) (notifier.Result, error)
}

type Deps struct {
	Meetings      storage.MeetingRepository
	Responses     storage.ResponseRepository
	Notifications storage.NotificationRepository
	Dispatcher    Dispatcher
	Bus           eventbus.Bus
	Metrics       *metrics.Metrics
	Log           logx.Logger
	Now           func() time.Time
}

// MeetingEvent is the payload of meeting.* bus events.
type MeetingEvent struct {
	MeetingID string              `json:"meeting_id"`
	Status    model.MeetingStatus `json:"status"`
	At        time.Time           `json:"at"`
}

// ResponseEvent is the payload of response.submitted.
type ResponseEvent struct {
	MeetingID string               `json:"meeting_id"`
	Email     string               `json:"email"`
	Status    model.ResponseStatus `json:"status"`
	At        time.Time            `json:"at"`
}

const lockStripes = 64

type Service struct {
	meetings  storage.MeetingRepository
	responses storage.ResponseRepository
	inbox     storage.NotificationRepository
	disp      Dispatcher
	bus       eventbus.Bus
	metrics   *metrics.Metrics
	log       logx.Logger
	now       func() time.Time

	locks [lockStripes]sync.Mutex
}

func New(d Deps) (*Service, error) {
	if d.Meetings == nil || d.Responses == nil {
		return nil, errors.New("lifecycle: meeting and response repositories are required")
	}
	if d.Dispatcher == nil {
		return nil, errors.New("lifecycle: dispatcher is required")
	}
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Service{
		meetings:  d.Meetings,
		responses: d.Responses,
		inbox:     d.Notifications,
		disp:      d.Dispatcher,
		bus:       d.Bus,
		metrics:   d.Metrics,
		log:       d.Log.With(logx.Component("lifecycle")),
		now:       d.Now,
	}, nil
}

func (s *Service) lock(id string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	mu := &s.locks[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

func (s *Service) Get(ctx context.Context, id string) (model.Meeting, error) {
	m, err := s.meetings.Get(ctx, id)
	if err != nil {
		return model.Meeting{}, fmt.Errorf("meeting %s: %w", id, err)
	}
	return m, nil
}

// List returns the meetings of an organization in creation order.
func (s *Service) List(ctx context.Context, organizationID string) ([]model.Meeting, error) {
	return s.meetings.ListByOrganization(ctx, organizationID)
}

const maxCASAttempts = 5

// errUnchanged lets a mutate callback skip the write.
var errUnchanged = errors.New("unchanged")

// mutate loads the meeting, applies fn and writes it back with a version
// check. On conflict it reloads and applies fn again. fn may reject the
// current state by returning an error, which is returned unchanged.
// The caller must hold the meeting lock.
func (s *Service) mutate(ctx context.Context, id string, fn func(m *model.Meeting) error) (model.Meeting, error) {
	for i := 0; i < maxCASAttempts; i++ {
		cur, err := s.meetings.Get(ctx, id)
		if err != nil {
			return model.Meeting{}, fmt.Errorf("meeting %s: %w", id, err)
		}
		next := cur.Clone()
		if err := fn(&next); err != nil {
			if errors.Is(err, errUnchanged) {
				return cur, nil
			}
			return cur, err
		}
		next.UpdatedAt = s.now().UTC()
		stored, err := s.meetings.Update(ctx, next, cur.Version)
		if errors.Is(err, storage.ErrConflict) {
			s.log.Debug("version conflict, retrying", logx.String("meeting", id), logx.Int64("version", cur.Version))
			continue
		}
		if err != nil {
			return model.Meeting{}, fmt.Errorf("update meeting %s: %w", id, err)
		}
		return stored, nil
	}
	return model.Meeting{}, fmt.Errorf("update meeting %s: %w after %d attempts", id, storage.ErrConflict, maxCASAttempts)
}

func (s *Service) record(op string, err error) {
	s.metrics.Transition(op, err == nil)
}

func (s *Service) publish(typ string, m model.Meeting) {
	eventbus.Publish(s.bus, typ, MeetingEvent{MeetingID: m.ID, Status: m.Status, At: s.now().UTC()})
}

// Send moves a draft meeting to sent and invites every participant who was
// never invited. On an already sent meeting only newly added participants
// are invited.
func (s *Service) Send(ctx context.Context, id string) (m model.Meeting, res notifier.Result, err error) {
	defer func() { s.record("send", err) }()
	unlock := s.lock(id)
	defer unlock()

	m, err = s.mutate(ctx, id, func(m *model.Meeting) error {
		if m.Status.Terminal() {
			return &model.InvalidTransitionError{MeetingID: m.ID, From: m.Status, Op: "send"}
		}
		if m.Status == model.StatusSent {
			return errUnchanged
		}
		m.Status = model.StatusSent
		return nil
	})
	if err != nil {
		return model.Meeting{}, notifier.Result{}, err
	}
	s.publish(eventbus.TypeMeetingSent, m)

	var pending []model.Participant
	for _, p := range m.Participants {
		if p.Status == model.ParticipantInvited && p.InvitedAt.IsZero() {
			pending = append(pending, p)
		}
	}
	res = notifier.Result{Succeeded: []string{}, Failed: []notifier.Failure{}}
	if len(pending) == 0 {
		return m, res, nil
	}
	res, err = s.disp.SendToMany(ctx, &m, pending, model.NotifyInvitation)
	if err != nil {
		return m, res, fmt.Errorf("send invitations: %w", err)
	}
	s.log.Info("invitations sent", logx.String("meeting", id), logx.Int("ok", len(res.Succeeded)), logx.Int("failed", len(res.Failed)))
	return m, res, nil
}

// AddParticipants merges new participants into a draft or sent meeting.
// Existing emails are ignored. New participants default to external and are
// invited by the next Send.
func (s *Service) AddParticipants(ctx context.Context, id string, add []model.Participant) (m model.Meeting, added []model.Participant, err error) {
	defer func() { s.record("add_participants", err) }()
	add = model.DedupParticipants(add)
	if len(add) == 0 {
		return model.Meeting{}, nil, model.Invalid("participants", "at least one participant is required")
	}
	for i := range add {
		if err := normalizeParticipant(&add[i], model.KindExternal); err != nil {
			return model.Meeting{}, nil, err
		}
	}

	unlock := s.lock(id)
	defer unlock()
	m, err = s.mutate(ctx, id, func(m *model.Meeting) error {
		if m.Status.Terminal() {
			return &model.InvalidTransitionError{MeetingID: m.ID, From: m.Status, Op: "add participants"}
		}
		m.Participants, added = model.MergeParticipants(m.Participants, add)
		return nil
	})
	if err != nil {
		return model.Meeting{}, nil, err
	}
	return m, added, nil
}

// Confirm fixes the final date of a sent meeting. chosen must be one of the
// proposed dates and at least one participant must support it.
func (s *Service) Confirm(ctx context.Context, id string, chosen time.Time) (m model.Meeting, res notifier.Result, err error) {
	defer func() { s.record("confirm", err) }()
	unlock := s.lock(id)
	defer unlock()

	var responses []model.Response
	m, err = s.mutate(ctx, id, func(m *model.Meeting) error {
		if m.Status != model.StatusSent {
			return &model.InvalidTransitionError{MeetingID: m.ID, From: m.Status, Op: "confirm"}
		}
		idx := m.ProposedIndex(chosen)
		if idx < 0 {
			return &model.ConfirmationError{MeetingID: m.ID, Reason: fmt.Sprintf("%s is not a proposed date", chosen.UTC().Format(time.RFC3339))}
		}
		rs, err := s.responses.ListByMeeting(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("list responses: %w", err)
		}
		final := m.ProposedDates[idx].Datetime
		if ranking.Support(*m, rs, final) == 0 {
			return &model.ConfirmationError{MeetingID: m.ID, Reason: "no participant is available on the chosen date"}
		}
		responses = rs
		m.Status = model.StatusConfirmed
		m.FinalDate = &final
		return nil
	})
	if err != nil {
		return model.Meeting{}, notifier.Result{}, err
	}
	s.publish(eventbus.TypeMeetingConfirmed, m)
	s.log.Info("meeting confirmed", logx.String("meeting", id), logx.Time("final", *m.FinalDate))

	res, err = s.notifyAttendees(ctx, &m, responses, model.NotifyConfirmed)
	return m, res, err
}

// Cancel moves a draft or sent meeting to cancelled. Participants of a sent
// meeting who did not decline are notified.
func (s *Service) Cancel(ctx context.Context, id string) (m model.Meeting, res notifier.Result, err error) {
	defer func() { s.record("cancel", err) }()
	unlock := s.lock(id)
	defer unlock()

	wasSent := false
	m, err = s.mutate(ctx, id, func(m *model.Meeting) error {
		if m.Status.Terminal() {
			return &model.InvalidTransitionError{MeetingID: m.ID, From: m.Status, Op: "cancel"}
		}
		wasSent = m.Status == model.StatusSent
		m.Status = model.StatusCancelled
		return nil
	})
	if err != nil {
		return model.Meeting{}, notifier.Result{}, err
	}
	s.publish(eventbus.TypeMeetingCancelled, m)
	s.log.Info("meeting cancelled", logx.String("meeting", id), logx.Bool("was_sent", wasSent))

	res = notifier.Result{Succeeded: []string{}, Failed: []notifier.Failure{}}
	if !wasSent {
		return m, res, nil
	}
	rs, err := s.responses.ListByMeeting(ctx, id)
	if err != nil {
		return m, res, fmt.Errorf("list responses: %w", err)
	}
	res, err = s.notifyAttendees(ctx, &m, rs, model.NotifyCancelled)
	return m, res, err
}

// notifyAttendees writes an inbox row and sends kind to every participant
// without a declined response.
func (s *Service) notifyAttendees(ctx context.Context, m *model.Meeting, responses []model.Response, kind model.NotificationKind) (notifier.Result, error) {
	declined := map[string]bool{}
	for _, r := range ranking.Latest(m.ID, responses) {
		if r.Declined() {
			declined[model.NormalizeEmail(r.ParticipantEmail)] = true
		}
	}
	var to []model.Participant
	for _, p := range m.Participants {
		if !declined[model.NormalizeEmail(p.Email)] {
			to = append(to, p)
		}
	}
	res := notifier.Result{Succeeded: []string{}, Failed: []notifier.Failure{}}
	if len(to) == 0 {
		return res, nil
	}
	title, msg := notifier.InboxText(kind, *m)
	for _, p := range to {
		s.writeInbox(ctx, p.Email, m.ID, kind, title, msg)
	}
	res, err := s.disp.SendToMany(ctx, m, to, kind)
	if err != nil {
		return res, fmt.Errorf("send %s: %w", kind, err)
	}
	return res, nil
}

func (s *Service) writeInbox(ctx context.Context, to, meetingID string, kind model.NotificationKind, title, msg string) {
	if s.inbox == nil || to == "" {
		return
	}
	n := model.Notification{
		ID:             model.NewID(),
		RecipientEmail: to,
		MeetingID:      meetingID,
		Kind:           kind,
		Title:          title,
		Message:        msg,
		CreatedAt:      s.now().UTC(),
	}
	if _, err := s.inbox.Create(context.WithoutCancel(ctx), n); err != nil {
		s.log.Warn("inbox write failed", logx.String("to", to), logx.String("meeting", meetingID), logx.Err(err))
	}
}

// Eligible returns the participants who have no non-declined response.
func Eligible(m model.Meeting, responses []model.Response) []model.Participant {
	answered := map[string]bool{}
	for _, r := range ranking.Latest(m.ID, responses) {
		if !r.Declined() {
			answered[model.NormalizeEmail(r.ParticipantEmail)] = true
		}
	}
	var out []model.Participant
	for _, p := range m.Participants {
		if !answered[model.NormalizeEmail(p.Email)] {
			out = append(out, p)
		}
	}
	return out
}

// SendReminders reminds every participant of a sent meeting who has no
// non-declined response. Participants who answered with dates are never
// reminded.
func (s *Service) SendReminders(ctx context.Context, id string) (res notifier.Result, err error) {
	defer func() { s.record("remind", err) }()
	unlock := s.lock(id)
	defer unlock()

	m, err := s.Get(ctx, id)
	if err != nil {
		return notifier.Result{}, err
	}
	if m.Status != model.StatusSent {
		return notifier.Result{}, &model.InvalidTransitionError{MeetingID: id, From: m.Status, Op: "remind"}
	}
	rs, err := s.responses.ListByMeeting(ctx, id)
	if err != nil {
		return notifier.Result{}, fmt.Errorf("list responses: %w", err)
	}
	res = notifier.Result{Succeeded: []string{}, Failed: []notifier.Failure{}}
	eligible := Eligible(m, rs)
	if len(eligible) == 0 {
		return res, nil
	}
	res, err = s.disp.SendToMany(ctx, &m, eligible, model.NotifyReminder)
	if err != nil {
		return res, fmt.Errorf("send reminders: %w", err)
	}
	s.log.Info("reminders sent", logx.String("meeting", id), logx.Int("ok", len(res.Succeeded)), logx.Int("failed", len(res.Failed)))
	return res, nil
}

// Summary is a read-only view of a meeting and its aggregated responses.
type Summary struct {
	Meeting    model.Meeting         `json:"meeting"`
	Ranking    []ranking.DateSupport `json:"ranking"`
	Bands      []ranking.Band        `json:"bands"`
	Stats      ranking.Stats         `json:"stats"`
	MaxSupport int                   `json:"max_support"`
}

func (s *Service) Summary(ctx context.Context, id string) (Summary, error) {
	m, err := s.Get(ctx, id)
	if err != nil {
		return Summary{}, err
	}
	rs, err := s.responses.ListByMeeting(ctx, id)
	if err != nil {
		return Summary{}, fmt.Errorf("list responses: %w", err)
	}
	ranked := ranking.Rank(m, rs)
	maxSupport := ranking.MaxSupport(ranked)
	bands := make([]ranking.Band, len(ranked))
	for i, d := range ranked {
		bands[i] = ranking.Classify(d.SupportCount, maxSupport)
	}
	return Summary{
		Meeting:    m,
		Ranking:    ranked,
		Bands:      bands,
		Stats:      ranking.ComputeStats(m, rs),
		MaxSupport: maxSupport,
	}, nil
}

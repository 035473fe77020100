package storage

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"meetsync/internal/model"
)

// Memory is a process-local Store. Values are deep-copied on the way in and
// out so callers never share state with the store.
type Memory struct {
	mu            sync.RWMutex
	closed        bool
	meetings      map[string]model.Meeting
	responses     map[string]model.Response // key: meetingID + "\x00" + email
	notifications []memNotification
	seq           uint64
}

type memNotification struct {
	n   model.Notification
	seq uint64
}

func NewMemory() *Memory {
	return &Memory{
		meetings:  map[string]model.Meeting{},
		responses: map[string]model.Response{},
	}
}

func (s *Memory) Meetings() MeetingRepository           { return memMeetings{s} }
func (s *Memory) Responses() ResponseRepository         { return memResponses{s} }
func (s *Memory) Notifications() NotificationRepository { return memNotifications{s} }

func (s *Memory) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type memMeetings struct{ s *Memory }

func (r memMeetings) Create(ctx context.Context, m model.Meeting) (model.Meeting, error) {
	if err := ctx.Err(); err != nil {
		return model.Meeting{}, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.closed {
		return model.Meeting{}, ErrClosed
	}
	if _, ok := r.s.meetings[m.ID]; ok {
		return model.Meeting{}, ErrExists
	}
	m = m.Clone()
	m.Participants = model.DedupParticipants(m.Participants)
	m.Version = 1
	r.s.meetings[m.ID] = m
	return m.Clone(), nil
}

func (r memMeetings) Get(ctx context.Context, id string) (model.Meeting, error) {
	if err := ctx.Err(); err != nil {
		return model.Meeting{}, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	m, ok := r.s.meetings[id]
	if !ok {
		return model.Meeting{}, model.ErrNotFound
	}
	return m.Clone(), nil
}

func (r memMeetings) Update(ctx context.Context, m model.Meeting, expectedVersion int64) (model.Meeting, error) {
	if err := ctx.Err(); err != nil {
		return model.Meeting{}, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.closed {
		return model.Meeting{}, ErrClosed
	}
	cur, ok := r.s.meetings[m.ID]
	if !ok {
		return model.Meeting{}, model.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return model.Meeting{}, ErrConflict
	}
	m = m.Clone()
	m.Participants = model.DedupParticipants(m.Participants)
	m.Version = expectedVersion + 1
	r.s.meetings[m.ID] = m
	return m.Clone(), nil
}

func (r memMeetings) list(ctx context.Context, keep func(model.Meeting) bool) ([]model.Meeting, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	out := make([]model.Meeting, 0)
	for _, m := range r.s.meetings {
		if keep(m) {
			out = append(out, m.Clone())
		}
	}
	r.s.mu.RUnlock()
	sortMeetings(out)
	return out, nil
}

func (r memMeetings) ListByOrganization(ctx context.Context, organizationID string) ([]model.Meeting, error) {
	return r.list(ctx, func(m model.Meeting) bool { return m.OrganizationID == organizationID })
}

func (r memMeetings) ListByIDs(ctx context.Context, ids []string) ([]model.Meeting, error) {
	if len(ids) == 0 {
		return []model.Meeting{}, nil
	}
	return r.list(ctx, func(m model.Meeting) bool { return slices.Contains(ids, m.ID) })
}

func (r memMeetings) ListByStatus(ctx context.Context, statuses ...model.MeetingStatus) ([]model.Meeting, error) {
	if len(statuses) == 0 {
		return []model.Meeting{}, nil
	}
	return r.list(ctx, func(m model.Meeting) bool { return slices.Contains(statuses, m.Status) })
}

// sortMeetings orders by CreatedAt then ID, matching the sqlite driver.
func sortMeetings(ms []model.Meeting) {
	slices.SortFunc(ms, func(a, b model.Meeting) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

type memResponses struct{ s *Memory }

func responseKey(meetingID, email string) string {
	return meetingID + "\x00" + model.NormalizeEmail(email)
}

func cloneResponse(r model.Response) model.Response {
	r.AvailableDates = append([]time.Time(nil), r.AvailableDates...)
	return r
}

func (r memResponses) Upsert(ctx context.Context, resp model.Response) (model.Response, error) {
	if err := ctx.Err(); err != nil {
		return model.Response{}, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.closed {
		return model.Response{}, ErrClosed
	}
	resp = cloneResponse(resp)
	resp.ParticipantEmail = model.NormalizeEmail(resp.ParticipantEmail)
	key := responseKey(resp.MeetingID, resp.ParticipantEmail)
	if prev, ok := r.s.responses[key]; ok && !prev.CreatedAt.IsZero() {
		resp.CreatedAt = prev.CreatedAt
	}
	r.s.responses[key] = resp
	return cloneResponse(resp), nil
}

func (r memResponses) ListByMeeting(ctx context.Context, meetingID string) ([]model.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	out := make([]model.Response, 0)
	for _, resp := range r.s.responses {
		if resp.MeetingID == meetingID {
			out = append(out, cloneResponse(resp))
		}
	}
	r.s.mu.RUnlock()
	slices.SortFunc(out, func(a, b model.Response) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ParticipantEmail, b.ParticipantEmail)
	})
	return out, nil
}

func (r memResponses) GetByParticipant(ctx context.Context, meetingID, email string) (model.Response, error) {
	if err := ctx.Err(); err != nil {
		return model.Response{}, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	resp, ok := r.s.responses[responseKey(meetingID, email)]
	if !ok {
		return model.Response{}, model.ErrNotFound
	}
	return cloneResponse(resp), nil
}

type memNotifications struct{ s *Memory }

func (r memNotifications) Create(ctx context.Context, n model.Notification) (model.Notification, error) {
	if err := ctx.Err(); err != nil {
		return model.Notification{}, err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.closed {
		return model.Notification{}, ErrClosed
	}
	for _, e := range r.s.notifications {
		if e.n.ID == n.ID {
			return model.Notification{}, ErrExists
		}
	}
	n.RecipientEmail = model.NormalizeEmail(n.RecipientEmail)
	r.s.seq++
	r.s.notifications = append(r.s.notifications, memNotification{n: n, seq: r.s.seq})
	return n, nil
}

func (r memNotifications) ListByRecipient(ctx context.Context, email string, limit int) ([]model.Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := model.NormalizeEmail(email)
	r.s.mu.RLock()
	matched := make([]memNotification, 0)
	for _, e := range r.s.notifications {
		if e.n.RecipientEmail == key {
			matched = append(matched, e)
		}
	}
	r.s.mu.RUnlock()
	slices.SortFunc(matched, func(a, b memNotification) int {
		if c := b.n.CreatedAt.Compare(a.n.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.seq > b.seq:
			return -1
		case a.seq < b.seq:
			return 1
		}
		return 0
	})
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	out := make([]model.Notification, len(matched))
	for i, e := range matched {
		out[i] = e.n
	}
	return out, nil
}

func (r memNotifications) MarkRead(ctx context.Context, email, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := model.NormalizeEmail(email)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for i := range r.s.notifications {
		n := &r.s.notifications[i].n
		if n.ID == id && n.RecipientEmail == key {
			n.IsRead = true
			return nil
		}
	}
	return model.ErrNotFound
}

func (r memNotifications) MarkAllRead(ctx context.Context, email string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	key := model.NormalizeEmail(email)
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for i := range r.s.notifications {
		e := &r.s.notifications[i].n
		if e.RecipientEmail == key && !e.IsRead {
			e.IsRead = true
			n++
		}
	}
	return n, nil
}

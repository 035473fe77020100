// Package model holds the meeting coordination data model and its error taxonomy.
//
// Types here are plain values. Repositories hand out copies, so callers may
// mutate what they receive without affecting stored state until they write it
// back.
package model

import (
	"time"
)

// MaxProposedDates bounds how many candidate dates a meeting may carry.
const MaxProposedDates = 10

type ParticipantKind string

const (
	KindInternal ParticipantKind = "internal"
	KindExternal ParticipantKind = "external"
)

type ParticipantStatus string

const (
	ParticipantInvited   ParticipantStatus = "invited"
	ParticipantReminded  ParticipantStatus = "reminded"
	ParticipantResponded ParticipantStatus = "responded"
)

// Participant is owned by a Meeting. Email is the unique key within the meeting.
type Participant struct {
	Name          string            `json:"name"`
	Email         string            `json:"email"`
	Company       string            `json:"company,omitempty"`
	Kind          ParticipantKind   `json:"kind"`
	Status        ParticipantStatus `json:"status"`
	ReminderCount int               `json:"reminder_count"`
	// InvitedAt is set once the first invitation was delivered.
	InvitedAt time.Time `json:"invited_at,omitempty"`
}

// ProposedDate is a candidate meeting start.
type ProposedDate struct {
	Datetime time.Time `json:"datetime"`
	Label    string    `json:"label"`
}

// BusyInterval is the half-open range [Start, End).
type BusyInterval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether [start, end) intersects the interval.
func (b BusyInterval) Overlaps(start, end time.Time) bool {
	return start.Before(b.End) && b.Start.Before(end)
}

type Modality string

const (
	ModalityOnline   Modality = "online"
	ModalityPhysical Modality = "physical"
)

type MeetingStatus string

const (
	StatusDraft     MeetingStatus = "draft"
	StatusSent      MeetingStatus = "sent"
	StatusConfirmed MeetingStatus = "confirmed"
	StatusCancelled MeetingStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s MeetingStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusCancelled
}

type Meeting struct {
	ID              string         `json:"id"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	Location        string         `json:"location,omitempty"`
	Organizer       string         `json:"organizer"`
	OrganizationID  string         `json:"organization_id,omitempty"`
	DurationMinutes int            `json:"duration_minutes"`
	Modality        Modality       `json:"modality"`
	ProposedDates   []ProposedDate `json:"proposed_dates"`
	Participants    []Participant  `json:"participants"`
	Status          MeetingStatus  `json:"status"`
	FinalDate       *time.Time     `json:"final_date,omitempty"`
	InvitationCode  string         `json:"invitation_code"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	// Version is bumped by every successful repository update.
	Version int64 `json:"version"`
}

// Clone returns a deep copy.
func (m Meeting) Clone() Meeting {
	cp := m
	cp.ProposedDates = append([]ProposedDate(nil), m.ProposedDates...)
	cp.Participants = append([]Participant(nil), m.Participants...)
	if m.FinalDate != nil {
		t := *m.FinalDate
		cp.FinalDate = &t
	}
	return cp
}

// ProposedIndex returns the index of the proposed date equal to t, or -1.
func (m Meeting) ProposedIndex(t time.Time) int {
	for i, d := range m.ProposedDates {
		if d.Datetime.Equal(t) {
			return i
		}
	}
	return -1
}

// Participant returns a pointer into m.Participants for the given email.
func (m *Meeting) Participant(email string) *Participant {
	key := NormalizeEmail(email)
	for i := range m.Participants {
		if NormalizeEmail(m.Participants[i].Email) == key {
			return &m.Participants[i]
		}
	}
	return nil
}

type ResponseStatus string

const (
	ResponseAvailable ResponseStatus = "available"
	ResponseDeclined  ResponseStatus = "declined"
)

// Response is the single current answer of one participant for one meeting.
type Response struct {
	MeetingID        string         `json:"meeting_id"`
	ParticipantEmail string         `json:"participant_email"`
	ParticipantName  string         `json:"participant_name,omitempty"`
	AvailableDates   []time.Time    `json:"available_dates"`
	TravelMinutes    int            `json:"travel_minutes"`
	Notes            string         `json:"notes,omitempty"`
	Status           ResponseStatus `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// Declined reports whether the participant explicitly declined.
func (r Response) Declined() bool { return r.Status == ResponseDeclined }

// Supports reports whether a non-declined response names t as available.
func (r Response) Supports(t time.Time) bool {
	if r.Declined() {
		return false
	}
	for _, d := range r.AvailableDates {
		if d.Equal(t) {
			return true
		}
	}
	return false
}

type NotificationKind string

const (
	NotifyInvitation       NotificationKind = "invitation"
	NotifyReminder         NotificationKind = "reminder"
	NotifyConfirmed        NotificationKind = "meeting_confirmed"
	NotifyCancelled        NotificationKind = "meeting_cancelled"
	NotifyNewResponse      NotificationKind = "new_response"
	NotifyResponseDeclined NotificationKind = "response_declined"
)

// Notification is an inbox entry. Only IsRead ever changes after creation.
type Notification struct {
	ID             string           `json:"id"`
	RecipientEmail string           `json:"recipient_email"`
	MeetingID      string           `json:"meeting_id"`
	Kind           NotificationKind `json:"kind"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	IsRead         bool             `json:"is_read"`
	CreatedAt      time.Time        `json:"created_at"`
}

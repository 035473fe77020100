package storage

import (
	"context"
	"errors"
	"time"

	"meetsync/internal/model"
)

var (
	// ErrConflict is returned by MeetingRepository.Update when the stored
	// version differs from the expected one.
	ErrConflict = errors.New("storage: version conflict")
	// ErrExists is returned when creating an entity whose id is taken.
	ErrExists = errors.New("storage: already exists")
	ErrClosed = errors.New("storage: closed")
)

// Config configures storage.
//
// Driver values:
//   - "memory" (default when empty)
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

type MeetingRepository interface {
	// Create stores a new meeting. Version is set to 1.
	Create(ctx context.Context, m model.Meeting) (model.Meeting, error)
	Get(ctx context.Context, id string) (model.Meeting, error)
	// Update replaces the meeting if its stored version equals expectedVersion
	// and returns the stored copy with the bumped version.
	Update(ctx context.Context, m model.Meeting, expectedVersion int64) (model.Meeting, error)
	ListByOrganization(ctx context.Context, organizationID string) ([]model.Meeting, error)
	ListByIDs(ctx context.Context, ids []string) ([]model.Meeting, error)
	ListByStatus(ctx context.Context, statuses ...model.MeetingStatus) ([]model.Meeting, error)
}

type ResponseRepository interface {
	// Upsert replaces the single response of (MeetingID, ParticipantEmail).
	// CreatedAt of an existing row is preserved.
	Upsert(ctx context.Context, r model.Response) (model.Response, error)
	ListByMeeting(ctx context.Context, meetingID string) ([]model.Response, error)
	GetByParticipant(ctx context.Context, meetingID, email string) (model.Response, error)
}

type NotificationRepository interface {
	Create(ctx context.Context, n model.Notification) (model.Notification, error)
	// ListByRecipient returns the newest notifications first. limit <= 0 means all.
	ListByRecipient(ctx context.Context, email string, limit int) ([]model.Notification, error)
	MarkRead(ctx context.Context, email, id string) error
	// MarkAllRead returns how many notifications flipped to read.
	MarkAllRead(ctx context.Context, email string) (int, error)
}

// Store bundles the repositories of one driver.
type Store interface {
	Meetings() MeetingRepository
	Responses() ResponseRepository
	Notifications() NotificationRepository
	Close() error
}

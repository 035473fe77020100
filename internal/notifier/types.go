package notifier

import (
	"errors"
	"time"

	"meetsync/internal/model"
	"meetsync/internal/retry"
)

var (
	ErrNoRecipients = errors.New("notifier: no recipients")
	ErrNilMeeting   = errors.New("notifier: nil meeting")
	ErrUnknownKind  = errors.New("notifier: unknown notification kind")
)

// ReasonCancelled is the failure reason of recipients skipped after the
// batch context was cancelled.
const ReasonCancelled = "cancelled"

// MaxAttempts caps transport calls per recipient: the full template, then
// the fallback template.
const MaxAttempts = 2

// Config controls delivery pacing and retry.
type Config struct {
	// RatePerSec and Burst bound sends towards the transport. RatePerSec <= 0
	// disables limiting.
	RatePerSec float64
	Burst      int
	// BaseURL prefixes invitation links.
	BaseURL string
	// SendTimeout bounds a single transport call.
	SendTimeout time.Duration
	// Retry.MaxAttempts is the per-recipient attempt count, capped at
	// MaxAttempts. Attempt 1 uses the full template, attempt 2 the fallback.
	// Retries never wait.
	Retry retry.Policy
}

type Failure struct {
	Email  string `json:"email"`
	Reason string `json:"reason"`
}

type Result struct {
	Succeeded []string  `json:"succeeded"`
	Failed    []Failure `json:"failed"`
}

// OK reports whether every recipient succeeded.
func (r Result) OK() bool { return len(r.Failed) == 0 }

// Event is the payload of notifier.sent / notifier.failed bus events.
type Event struct {
	MeetingID string                 `json:"meeting_id"`
	Email     string                 `json:"email"`
	Kind      model.NotificationKind `json:"kind"`
	Attempt   int                    `json:"attempt"`
	Fallback  bool                   `json:"fallback"`
	At        time.Time              `json:"at"`
	Error     string                 `json:"error,omitempty"`
}

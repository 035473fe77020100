package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"meetsync/internal/eventbus"
	"meetsync/internal/metrics"
	"meetsync/internal/model"
	"meetsync/internal/retry"
	"meetsync/internal/storage"
	"meetsync/internal/transport"
	logx "meetsync/pkg/logx"
)

// Deps are the collaborators of a Dispatcher. Meetings and Notifications
// may be nil: participant patches then stay in memory and no inbox rows are
// written.
type Deps struct {
	Transport     transport.Transport
	Meetings      storage.MeetingRepository
	Notifications storage.NotificationRepository
	Bus           eventbus.Bus
	Metrics       *metrics.Metrics
	Log           logx.Logger
	Now           func() time.Time
}

// Dispatcher is safe for concurrent use; batches for different meetings may
// run in parallel and share the rate limiter.
type Dispatcher struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter

	tr      transport.Transport
	meet    storage.MeetingRepository
	inbox   storage.NotificationRepository
	bus     eventbus.Bus
	metrics *metrics.Metrics
	log     logx.Logger
	now     func() time.Time
}

func New(cfg Config, d Deps) *Dispatcher {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	s := &Dispatcher{
		tr:      d.Transport,
		meet:    d.Meetings,
		inbox:   d.Notifications,
		bus:     d.Bus,
		metrics: d.Metrics,
		log:     d.Log.With(logx.Component("notifier")),
		now:     d.Now,
	}
	s.applyLocked(cfg)
	return s
}

// Apply swaps pacing and retry settings. In-flight batches keep the limiter
// they started with.
func (s *Dispatcher) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Dispatcher) applyLocked(cfg Config) {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	// Full template then one immediate fallback, never more.
	attempts := cfg.Retry.MaxAttempts
	if attempts <= 0 || attempts > MaxAttempts {
		attempts = MaxAttempts
	}
	cfg.Retry = retry.Immediate(attempts)
	s.cfg = cfg
	if cfg.RatePerSec > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst)
	} else {
		s.limiter = nil
	}
}

func (s *Dispatcher) snapshot() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

// SendToMany delivers kind to recipients one at a time in input order.
//
// It returns an error only for precondition violations. Transport failures
// are reported per recipient in Result.Failed. When ctx is cancelled the
// current send completes, and every recipient not yet attempted is reported
// failed with ReasonCancelled.
//
// On return m reflects the participant patch that was persisted.
func (s *Dispatcher) SendToMany(ctx context.Context, m *model.Meeting, recipients []model.Participant, kind model.NotificationKind) (Result, error) {
	if m == nil {
		return Result{}, ErrNilMeeting
	}
	if len(recipients) == 0 {
		return Result{}, ErrNoRecipients
	}
	if !Supported(kind) {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if s.tr == nil {
		return Result{}, errors.New("notifier: no transport configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, lim := s.snapshot()
	start := s.now()
	res := Result{Succeeded: []string{}, Failed: []Failure{}}
	log := s.log.With(logx.String("meeting", m.ID), logx.String("kind", string(kind)))

	for i, p := range recipients {
		if ctx.Err() == nil && lim != nil {
			// Wait returns early when ctx is cancelled.
			_ = lim.Wait(ctx)
		}
		if ctx.Err() != nil {
			for _, rest := range recipients[i:] {
				res.Failed = append(res.Failed, Failure{Email: model.NormalizeEmail(rest.Email), Reason: ReasonCancelled})
				s.metrics.RecipientResult(string(kind), false)
			}
			log.Info("batch cancelled", logx.Int("remaining", len(recipients)-i))
			break
		}

		email := model.NormalizeEmail(p.Email)
		if err := s.sendOne(ctx, cfg, *m, p, kind); err != nil {
			res.Failed = append(res.Failed, Failure{Email: email, Reason: err.Error()})
			s.metrics.RecipientResult(string(kind), false)
			log.Warn("notification failed", logx.String("to", email), logx.Err(err))
			continue
		}
		res.Succeeded = append(res.Succeeded, email)
		s.metrics.RecipientResult(string(kind), true)
		s.writeInbox(ctx, *m, email, kind)
	}

	if len(res.Succeeded) > 0 {
		if err := s.patchParticipants(ctx, m, res.Succeeded, kind); err != nil {
			// Delivery already happened; surface the bookkeeping failure in logs.
			log.Error("participant patch failed", logx.Err(err), logx.Int("succeeded", len(res.Succeeded)))
		}
	}

	s.metrics.ObserveBatch(string(kind), s.now().Sub(start))
	fields := []logx.Field{logx.Int("total", len(recipients)), logx.Int("failed", len(res.Failed)), logx.Duration("dur", s.now().Sub(start))}
	if len(res.Failed) > 0 {
		log.Warn("batch finished with failures", fields...)
	} else {
		log.Info("batch finished", fields...)
	}
	return res, nil
}

// sendOne runs the per-recipient retry policy. The transport call is
// detached from ctx cancellation so an in-flight send is never interrupted.
func (s *Dispatcher) sendOne(ctx context.Context, cfg Config, m model.Meeting, p model.Participant, kind model.NotificationKind) error {
	email := model.NormalizeEmail(p.Email)
	var attempts int
	err := cfg.Retry.Do(ctx, func(_ context.Context, attempt int) error {
		attempts = attempt
		fallback := attempt > 1
		msg, err := Render(kind, fallback, m, p, cfg.BaseURL)
		if err != nil {
			return retry.Permanent(err)
		}
		s.metrics.SendAttempt(string(kind), fallback)

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.SendTimeout)
		err = s.tr.Send(callCtx, email, msg.Subject, msg.Body)
		cancel()

		ev := Event{MeetingID: m.ID, Email: email, Kind: kind, Attempt: attempt, Fallback: fallback, At: s.now()}
		if err != nil {
			ev.Error = err.Error()
			eventbus.Publish(s.bus, eventbus.TypeNotifierFailed, ev)
			s.log.Debug("send attempt failed", logx.String("to", email), logx.Int("attempt", attempt), logx.Bool("fallback", fallback), logx.Err(err))
			return err
		}
		eventbus.Publish(s.bus, eventbus.TypeNotifierSent, ev)
		return nil
	})
	if err != nil {
		return &model.TransportFailure{Email: email, Attempts: attempts, Err: err}
	}
	return nil
}

func (s *Dispatcher) writeInbox(ctx context.Context, m model.Meeting, email string, kind model.NotificationKind) {
	if s.inbox == nil || (kind != model.NotifyInvitation && kind != model.NotifyReminder) {
		return
	}
	title, msg := InboxText(kind, m)
	n := model.Notification{
		ID:             model.NewID(),
		RecipientEmail: email,
		MeetingID:      m.ID,
		Kind:           kind,
		Title:          title,
		Message:        msg,
		CreatedAt:      s.now().UTC(),
	}
	if _, err := s.inbox.Create(context.WithoutCancel(ctx), n); err != nil {
		s.log.Warn("inbox write failed", logx.String("to", email), logx.String("meeting", m.ID), logx.Err(err))
	}
}

const maxPatchAttempts = 5

// patchParticipants applies the post-delivery participant changes to m and
// persists them with optimistic concurrency, re-reading on conflict.
func (s *Dispatcher) patchParticipants(ctx context.Context, m *model.Meeting, succeeded []string, kind model.NotificationKind) error {
	if kind != model.NotifyReminder && kind != model.NotifyInvitation {
		return nil
	}
	now := s.now().UTC()
	apply := func(mt *model.Meeting) {
		for _, email := range succeeded {
			p := mt.Participant(email)
			if p == nil {
				continue
			}
			switch kind {
			case model.NotifyReminder:
				p.ReminderCount++
				p.Status = model.ParticipantReminded
			case model.NotifyInvitation:
				if p.InvitedAt.IsZero() {
					p.InvitedAt = now
				}
			}
		}
		mt.UpdatedAt = now
	}

	if s.meet == nil {
		apply(m)
		return nil
	}

	pctx := context.WithoutCancel(ctx)
	cur := m.Clone()
	for i := 0; i < maxPatchAttempts; i++ {
		if i > 0 {
			fresh, err := s.meet.Get(pctx, m.ID)
			if err != nil {
				return fmt.Errorf("reload meeting: %w", err)
			}
			cur = fresh
		}
		next := cur.Clone()
		apply(&next)
		stored, err := s.meet.Update(pctx, next, cur.Version)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return fmt.Errorf("update meeting: %w", err)
		}
		*m = stored
		return nil
	}
	return fmt.Errorf("update meeting: %w after %d attempts", storage.ErrConflict, maxPatchAttempts)
}

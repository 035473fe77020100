package inbox

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"meetsync/internal/eventbus"
	"meetsync/internal/metrics"
	"meetsync/internal/model"
	"meetsync/internal/retry"
	"meetsync/internal/storage"
	logx "meetsync/pkg/logx"
)

const (
	DefaultInterval = 30 * time.Second
	DefaultLimit    = 20
)

// DefaultRetry allows three retries after the first read: 2s, 4s, 8s.
var DefaultRetry = retry.Exponential(4, 2*time.Second, 30*time.Second)

type State string

const (
	StateIdle     State = "idle"
	StateOK       State = "ok"
	StateRetrying State = "retrying"
	StateFailed   State = "failed"
)

type Config struct {
	Email    string
	Interval time.Duration
	Limit    int
	Retry    retry.Policy
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Limit <= 0 {
		c.Limit = DefaultLimit
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry = DefaultRetry
	}
	c.Email = model.NormalizeEmail(c.Email)
	return c
}

type Deps struct {
	Store   storage.NotificationRepository
	Bus     eventbus.Bus
	Metrics *metrics.Metrics
	Log     logx.Logger
	Now     func() time.Time
}

// Snapshot is a copy of the poller's view.
type Snapshot struct {
	Email      string               `json:"email"`
	Items      []model.Notification `json:"items"`
	Unread     int                  `json:"unread"`
	State      State                `json:"state"`
	LastError  string               `json:"last_error,omitempty"`
	RetryCount int                  `json:"retry_count"`
	Pending    int                  `json:"pending"`
	LastPoll   time.Time            `json:"last_poll,omitzero"`
}

// FailedEvent is published on the bus when a poll gives up.
type FailedEvent struct {
	Email    string
	Attempts int
	Err      error
}

// pendingWrite is a mark-read that has not reached the store yet.
// An empty id means mark-all.
type pendingWrite struct {
	id string
}

type Poller struct {
	store   storage.NotificationRepository
	bus     eventbus.Bus
	metrics *metrics.Metrics
	log     logx.Logger
	now     func() time.Time

	pollMu sync.Mutex // serializes Poll

	mu         sync.Mutex
	cfg        Config
	items      []model.Notification
	state      State
	lastErr    error
	retryCount int
	lastPoll   time.Time
	pending    []pendingWrite

	wake chan struct{}
}

func NewPoller(cfg Config, d Deps) *Poller {
	cfg = cfg.withDefaults()
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return &Poller{
		store:   d.Store,
		bus:     d.Bus,
		metrics: d.Metrics,
		log:     d.Log.With(logx.Component("inbox"), logx.String("email", cfg.Email)),
		now:     d.Now,
		cfg:     cfg,
		state:   StateIdle,
		wake:    make(chan struct{}, 1),
	}
}

func (p *Poller) Email() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.Email
}

// Apply updates interval, limit and retry policy. The email never changes.
func (p *Poller) Apply(cfg Config) {
	p.mu.Lock()
	cfg.Email = p.cfg.Email
	p.cfg = cfg.withDefaults()
	p.mu.Unlock()
}

func (p *Poller) config() Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

// Poll reconciles pending mark-read writes and then reads the newest
// notifications. Transient read errors are retried per the policy; any
// other error fails the poll immediately. After a failed poll the items are
// cleared and the poller stays in StateFailed until Retry.
func (p *Poller) Poll(ctx context.Context) ([]model.Notification, error) {
	if p.store == nil {
		return nil, errors.New("inbox: no notification store")
	}
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	cfg := p.config()
	p.reconcile(ctx, cfg.Email)

	var items []model.Notification
	attempts := 0
	err := cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		attempts = attempt
		list, err := p.store.ListByRecipient(ctx, cfg.Email, cfg.Limit)
		if err == nil {
			items = list
			return nil
		}
		if !retry.IsTransient(err) {
			return retry.Permanent(err)
		}
		err = &model.TransientReadFailure{Err: err}
		if attempt < cfg.Retry.Attempts() {
			p.mu.Lock()
			p.state = StateRetrying
			p.retryCount = attempt
			p.lastErr = err
			p.mu.Unlock()
			p.metrics.Poll("retry")
			p.log.Warn("inbox read failed, retrying", logx.Int("attempt", attempt), logx.Err(err))
		}
		return err
	})

	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("poll %s: %w", cfg.Email, ctx.Err())
		}
		err = unwrapPermanent(err)
		p.mu.Lock()
		p.items = nil
		p.state = StateFailed
		p.lastErr = err
		p.retryCount = attempts - 1
		p.lastPoll = p.now()
		p.mu.Unlock()
		p.metrics.Poll("failed")
		p.log.Error("inbox poll failed", logx.Int("attempts", attempts), logx.Err(err))
		eventbus.Publish(p.bus, eventbus.TypeInboxFailed, FailedEvent{Email: cfg.Email, Attempts: attempts, Err: err})
		return nil, fmt.Errorf("poll %s: %w", cfg.Email, err)
	}

	p.mu.Lock()
	p.items = overlay(items, p.pending)
	p.state = StateOK
	p.lastErr = nil
	p.retryCount = 0
	p.lastPoll = p.now()
	out := slices.Clone(p.items)
	p.mu.Unlock()
	p.metrics.Poll("ok")
	return out, nil
}

func unwrapPermanent(err error) error {
	if retry.IsPermanent(err) {
		if u := errors.Unwrap(err); u != nil {
			return u
		}
	}
	return err
}

// reconcile re-sends pending mark-read writes. Writes that fail again stay
// pending.
func (p *Poller) reconcile(ctx context.Context, email string) {
	p.mu.Lock()
	todo := slices.Clone(p.pending)
	p.mu.Unlock()
	if len(todo) == 0 {
		return
	}
	var left []pendingWrite
	for _, w := range todo {
		var err error
		if w.id == "" {
			_, err = p.store.MarkAllRead(ctx, email)
		} else {
			err = p.store.MarkRead(ctx, email, w.id)
			if errors.Is(err, model.ErrNotFound) {
				err = nil
			}
		}
		if err != nil {
			left = append(left, w)
		}
	}
	p.mu.Lock()
	// Writes recorded while reconciling are kept.
	p.pending = append(left, p.pending[len(todo):]...)
	p.mu.Unlock()
	if n := len(todo) - len(left); n > 0 {
		p.log.Info("reconciled mark-read writes", logx.Int("count", n), logx.Int("pending", len(left)))
	}
}

// overlay applies pending mark-read writes to freshly read items.
func overlay(items []model.Notification, pending []pendingWrite) []model.Notification {
	if len(pending) == 0 {
		return items
	}
	ids := map[string]bool{}
	all := false
	for _, w := range pending {
		if w.id == "" {
			all = true
		}
		ids[w.id] = true
	}
	for i := range items {
		if all || ids[items[i].ID] {
			items[i].IsRead = true
		}
	}
	return items
}

// MarkRead flips one notification to read. The local view changes first;
// when the store write fails it is kept pending and nil is returned.
// model.ErrNotFound is returned only when neither the view nor the store
// knows the id.
func (p *Poller) MarkRead(ctx context.Context, id string) error {
	if id == "" {
		return model.Invalid("id", "required")
	}
	p.mu.Lock()
	email := p.cfg.Email
	local := false
	for i := range p.items {
		if p.items[i].ID == id {
			local = true
			p.items[i].IsRead = true
		}
	}
	p.mu.Unlock()

	if p.store == nil {
		if !local {
			return model.ErrNotFound
		}
		return nil
	}
	err := p.store.MarkRead(ctx, email, id)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, model.ErrNotFound):
		if local {
			return nil
		}
		return model.ErrNotFound
	default:
		p.addPending(pendingWrite{id: id})
		p.log.Warn("mark read not persisted, will reconcile", logx.String("id", id), logx.Err(err))
		return nil
	}
}

// MarkAllRead flips every notification of the recipient to read and
// returns how many changed.
func (p *Poller) MarkAllRead(ctx context.Context) (int, error) {
	p.mu.Lock()
	email := p.cfg.Email
	flipped := 0
	for i := range p.items {
		if !p.items[i].IsRead {
			p.items[i].IsRead = true
			flipped++
		}
	}
	p.mu.Unlock()

	if p.store == nil {
		return flipped, nil
	}
	n, err := p.store.MarkAllRead(ctx, email)
	if err != nil {
		p.addPending(pendingWrite{})
		p.log.Warn("mark all read not persisted, will reconcile", logx.Err(err))
		return flipped, nil
	}
	return max(n, flipped), nil
}

func (p *Poller) addPending(w pendingWrite) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if slices.Contains(p.pending, w) {
		return
	}
	p.pending = append(p.pending, w)
}

// Refresh asks Run to poll now. It never blocks.
func (p *Poller) Refresh() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Retry leaves StateFailed and polls on the next Run iteration.
func (p *Poller) Retry() {
	p.resetFailed()
	p.Refresh()
}

func (p *Poller) resetFailed() {
	p.mu.Lock()
	if p.state == StateFailed {
		p.state = StateIdle
		p.retryCount = 0
	}
	p.mu.Unlock()
}

func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := Snapshot{
		Email:      p.cfg.Email,
		Items:      slices.Clone(p.items),
		State:      p.state,
		RetryCount: p.retryCount,
		Pending:    len(p.pending),
		LastPoll:   p.lastPoll,
	}
	if s.Items == nil {
		s.Items = []model.Notification{}
	}
	for _, n := range s.Items {
		if !n.IsRead {
			s.Unread++
		}
	}
	if p.lastErr != nil {
		s.LastError = p.lastErr.Error()
	}
	return s
}

// Run polls immediately and then every Interval until ctx is done. In
// StateFailed ticks are ignored; Refresh and Retry still poll.
func (p *Poller) Run(ctx context.Context) error {
	p.poll(ctx)
	for {
		t := time.NewTimer(p.config().Interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-p.wake:
			t.Stop()
			p.poll(ctx)
		case <-t.C:
			if p.Snapshot().State == StateFailed {
				continue
			}
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	// Errors are recorded in the snapshot.
	_, _ = p.Poll(ctx)
}

package inbox

import (
	"context"
	"errors"
	"sort"
	"sync"

	"meetsync/internal/model"
	"meetsync/internal/runtime/supervisor"
)

// ErrHubFull is returned when the hub already tracks its maximum number of
// recipients.
var ErrHubFull = errors.New("inbox: too many active recipients")

// Hub lazily creates one Poller per recipient and runs it under a
// supervisor.
type Hub struct {
	sup *supervisor.Supervisor
	d   Deps
	max int

	mu      sync.Mutex
	cfg     Config
	pollers map[string]*Poller
}

// NewHub returns a hub. sup may be nil, in which case pollers are only
// driven by explicit Poll calls. limit <= 0 means unbounded.
func NewHub(cfg Config, d Deps, sup *supervisor.Supervisor, limit int) *Hub {
	return &Hub{sup: sup, d: d, max: limit, cfg: cfg, pollers: map[string]*Poller{}}
}

// Get returns the poller for email, creating and starting it on first use.
func (h *Hub) Get(email string) (*Poller, error) {
	email = model.NormalizeEmail(email)
	if !model.ValidEmail(email) {
		return nil, model.Invalid("email", "malformed address %q", email)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.pollers[email]; ok {
		return p, nil
	}
	if h.max > 0 && len(h.pollers) >= h.max {
		return nil, ErrHubFull
	}
	cfg := h.cfg
	cfg.Email = email
	p := NewPoller(cfg, h.d)
	h.pollers[email] = p
	if h.sup != nil {
		h.sup.Go("inbox:"+email, p.Run)
	}
	return p, nil
}

// View returns the snapshot for email. The first request for a recipient,
// or one with refresh set, polls synchronously.
func (h *Hub) View(ctx context.Context, email string, refresh bool) (Snapshot, error) {
	p, err := h.Get(email)
	if err != nil {
		return Snapshot{}, err
	}
	if refresh || p.Snapshot().LastPoll.IsZero() {
		if refresh {
			p.resetFailed()
		}
		// Failures are reported through the snapshot state.
		_, _ = p.Poll(ctx)
	}
	return p.Snapshot(), nil
}

// Apply pushes interval, limit and retry settings to every poller.
func (h *Hub) Apply(cfg Config) {
	h.mu.Lock()
	h.cfg = cfg
	ps := make([]*Poller, 0, len(h.pollers))
	for _, p := range h.pollers {
		ps = append(ps, p)
	}
	h.mu.Unlock()
	for _, p := range ps {
		p.Apply(cfg)
	}
}

// Emails lists tracked recipients in sorted order.
func (h *Hub) Emails() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.pollers))
	for e := range h.pollers {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

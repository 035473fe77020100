// Package busy provides BusyIntervalSource adapters: a static in-memory
// table, a directory of per-participant .ics files, and an LRU cache that
// fronts either of them.
package busy

import (
	"context"
	"slices"
	"sync"
	"time"

	"meetsync/internal/model"
)

// Source returns known busy intervals of participants on a date.
type Source interface {
	Busy(ctx context.Context, emails []string, date time.Time) ([]model.BusyInterval, error)
}

// Static serves busy intervals from memory. It is safe for concurrent use.
type Static struct {
	mu sync.RWMutex
	by map[string][]model.BusyInterval
}

func NewStatic() *Static { return &Static{by: map[string][]model.BusyInterval{}} }

// Add records intervals for email.
func (s *Static) Add(email string, intervals ...model.BusyInterval) {
	key := model.NormalizeEmail(email)
	s.mu.Lock()
	s.by[key] = append(s.by[key], intervals...)
	s.mu.Unlock()
}

func (s *Static) Busy(ctx context.Context, emails []string, date time.Time) ([]model.BusyInterval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start, end := dayBounds(date)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.BusyInterval
	for _, e := range emails {
		for _, b := range s.by[model.NormalizeEmail(e)] {
			if b.Overlaps(start, end) {
				out = append(out, b)
			}
		}
	}
	sortIntervals(out)
	return out, nil
}

// Multi unions the intervals of several sources. The first error wins.
type Multi []Source

func (m Multi) Busy(ctx context.Context, emails []string, date time.Time) ([]model.BusyInterval, error) {
	var out []model.BusyInterval
	for _, s := range m {
		b, err := s.Busy(ctx, emails, date)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	sortIntervals(out)
	return out, nil
}

// dayBounds returns the calendar day containing date in date's location.
func dayBounds(date time.Time) (time.Time, time.Time) {
	y, mo, d := date.Date()
	start := time.Date(y, mo, d, 0, 0, 0, 0, date.Location())
	return start, start.AddDate(0, 0, 1)
}

func sortIntervals(in []model.BusyInterval) {
	slices.SortFunc(in, func(a, b model.BusyInterval) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return a.End.Compare(b.End)
	})
}

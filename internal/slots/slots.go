// Package slots computes open meeting slots against busy intervals.
//
// Everything here is pure: no I/O except FindCommonSlots, which asks a
// busy source once and then runs the same search.
package slots

import (
	"context"
	"fmt"
	"iter"
	"time"

	"meetsync/internal/model"
)

const (
	DefaultSearchStart = 8 * time.Hour
	DefaultSearchEnd   = 22 * time.Hour
	DefaultStep        = 30 * time.Minute
)

// Options bounds the daily search window. Offsets are measured from local
// midnight in Location; a zero bound takes its default on its own.
type Options struct {
	SearchStart time.Duration
	SearchEnd   time.Duration
	Step        time.Duration
	// Location is the wall-clock zone of the search window. Nil means UTC.
	Location *time.Location
	// TravelMinutes pads each busy interval on both sides.
	TravelMinutes int
}

func (o Options) withDefaults() Options {
	if o.SearchStart <= 0 {
		o.SearchStart = DefaultSearchStart
	}
	if o.SearchEnd <= 0 {
		o.SearchEnd = DefaultSearchEnd
	}
	if o.Step <= 0 {
		o.Step = DefaultStep
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.TravelMinutes < 0 {
		o.TravelMinutes = 0
	}
	return o
}

// FindOpenSlots yields every step-aligned start t in
// [SearchStart, SearchEnd-duration] on day such that [t, t+duration) overlaps
// no busy interval. Yielded times are in UTC. Ranging twice restarts.
func FindOpenSlots(day time.Time, busy []model.BusyInterval, durationMinutes int, opts Options) iter.Seq[time.Time] {
	opts = opts.withDefaults()
	return func(yield func(time.Time) bool) {
		if durationMinutes <= 0 {
			return
		}
		dur := time.Duration(durationMinutes) * time.Minute
		pad := time.Duration(opts.TravelMinutes) * time.Minute

		d := day.In(opts.Location)
		midnight := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, opts.Location)
		start := midnight.Add(opts.SearchStart)
		last := midnight.Add(opts.SearchEnd - dur)

		for t := start; !t.After(last); t = t.Add(opts.Step) {
			end := t.Add(dur)
			if overlapsAny(busy, t, end, pad) {
				continue
			}
			if !yield(t.UTC()) {
				return
			}
		}
	}
}

func overlapsAny(busy []model.BusyInterval, start, end time.Time, pad time.Duration) bool {
	for _, b := range busy {
		if !b.End.After(b.Start) {
			continue
		}
		padded := model.BusyInterval{Start: b.Start.Add(-pad), End: b.End.Add(pad)}
		if padded.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// First collects at most n values from seq. n <= 0 collects everything.
func First[T any](seq iter.Seq[T], n int) []T {
	var out []T
	for v := range seq {
		out = append(out, v)
		if n > 0 && len(out) >= n {
			break
		}
	}
	return out
}

// DefaultSuggestLimit caps interactive suggestions.
const DefaultSuggestLimit = 3

// BusySource returns the busy intervals of a set of participants on a date.
type BusySource interface {
	Busy(ctx context.Context, emails []string, date time.Time) ([]model.BusyInterval, error)
}

// Query is a multi-day search for slots common to Emails.
type Query struct {
	Emails          []string
	Day             time.Time
	Days            int
	DurationMinutes int
	// Limit <= 0 returns every open slot in the window.
	Limit int
	// Slots starting before NotBefore are skipped. Zero keeps all.
	NotBefore time.Time
}

// SuggestMeetingTimes searches days 0..days-1 starting at from and returns up
// to limit slots, earliest day first then earliest time. Slots that start
// before from are never suggested. limit <= 0 returns every open slot.
func SuggestMeetingTimes(busy []model.BusyInterval, durationMinutes int, from time.Time, days, limit int, opts Options) []time.Time {
	q := Query{Day: from, Days: days, DurationMinutes: durationMinutes, Limit: limit, NotBefore: from}
	out, _ := suggest(context.Background(), func(context.Context, time.Time) ([]model.BusyInterval, error) {
		return busy, nil
	}, q, opts)
	return out
}

// SuggestCommonSlots runs the multi-day search with busy intervals fetched
// from src once per day.
func SuggestCommonSlots(ctx context.Context, src BusySource, q Query, opts Options) ([]time.Time, error) {
	return suggest(ctx, func(ctx context.Context, day time.Time) ([]model.BusyInterval, error) {
		return lookup(ctx, src, q.Emails, day)
	}, q, opts)
}

type busyFunc func(ctx context.Context, day time.Time) ([]model.BusyInterval, error)

func suggest(ctx context.Context, busyOn busyFunc, q Query, opts Options) ([]time.Time, error) {
	opts = opts.withDefaults()
	out := []time.Time{}
	if q.Days <= 0 || q.DurationMinutes <= 0 {
		return out, nil
	}
	base := q.Day.In(opts.Location)
	for i := range q.Days {
		day := base.AddDate(0, 0, i)
		busy, err := busyOn(ctx, day)
		if err != nil {
			return nil, err
		}
		for t := range FindOpenSlots(day, busy, q.DurationMinutes, opts) {
			if t.Before(q.NotBefore) {
				continue
			}
			out = append(out, t)
			if q.Limit > 0 && len(out) >= q.Limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func lookup(ctx context.Context, src BusySource, emails []string, day time.Time) ([]model.BusyInterval, error) {
	if src == nil || len(emails) == 0 {
		return nil, nil
	}
	b, err := src.Busy(ctx, emails, day)
	if err != nil {
		return nil, fmt.Errorf("busy lookup: %w", err)
	}
	return b, nil
}

// FindCommonSlots fetches the union of busy intervals for emails and returns
// up to limit open slots on day. limit <= 0 returns all.
func FindCommonSlots(ctx context.Context, src BusySource, emails []string, day time.Time, durationMinutes, limit int, opts Options) ([]time.Time, error) {
	busy, err := lookup(ctx, src, emails, day)
	if err != nil {
		return nil, err
	}
	return First(FindOpenSlots(day, busy, durationMinutes, opts), limit), nil
}

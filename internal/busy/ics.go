package busy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/spf13/afero"

	"meetsync/internal/model"
	logx "meetsync/pkg/logx"
)

// ICSDir reads <Dir>/<email>.ics for every participant. A missing file means
// the participant has no known commitments.
type ICSDir struct {
	Dir string
	// FS defaults to the OS filesystem.
	FS afero.Fs
	// Location resolves floating DTSTART/DTEND values. Nil means UTC.
	Location *time.Location
	Log      logx.Logger
}

func (s *ICSDir) Busy(ctx context.Context, emails []string, date time.Time) ([]model.BusyInterval, error) {
	start, end := dayBounds(date)
	var out []model.BusyInterval
	for _, e := range emails {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		intervals, err := s.read(model.NormalizeEmail(e))
		if err != nil {
			return nil, err
		}
		for _, b := range intervals {
			if b.Overlaps(start, end) {
				out = append(out, b)
			}
		}
	}
	sortIntervals(out)
	return out, nil
}

func (s *ICSDir) read(email string) ([]model.BusyInterval, error) {
	if email == "" || strings.ContainsAny(email, `/\`) {
		return nil, nil
	}
	path := filepath.Join(s.Dir, email+".ics")
	fsys := s.FS
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	f, err := fsys.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open calendar %s: %w", path, err)
	}
	defer f.Close()

	intervals, skipped, err := ParseICS(f, s.Location)
	if err != nil {
		return nil, fmt.Errorf("parse calendar %s: %w", path, err)
	}
	if !s.Log.IsZero() && skipped > 0 {
		s.Log.Debug("calendar events skipped", logx.String("email", email), logx.Int("skipped", skipped))
	}
	return intervals, nil
}

// ParseICS extracts busy intervals from VEVENT components. Cancelled and
// transparent (free) events and events without a usable time range are
// skipped and counted.
func ParseICS(r io.Reader, loc *time.Location) (intervals []model.BusyInterval, skipped int, err error) {
	if loc == nil {
		loc = time.UTC
	}
	dec := ical.NewDecoder(r)
	for {
		cal, err := dec.Decode()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, skipped, err
		}
		for _, comp := range cal.Children {
			if comp.Name != ical.CompEvent {
				continue
			}
			b, ok := eventInterval(comp, loc)
			if !ok {
				skipped++
				continue
			}
			intervals = append(intervals, b)
		}
	}
	sortIntervals(intervals)
	return intervals, skipped, nil
}

func eventInterval(comp *ical.Component, loc *time.Location) (model.BusyInterval, bool) {
	if p := comp.Props.Get(ical.PropStatus); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		return model.BusyInterval{}, false
	}
	if p := comp.Props.Get("TRANSP"); p != nil && strings.EqualFold(p.Value, "TRANSPARENT") {
		return model.BusyInterval{}, false
	}
	sp := comp.Props.Get(ical.PropDateTimeStart)
	ep := comp.Props.Get(ical.PropDateTimeEnd)
	if sp == nil || ep == nil {
		return model.BusyInterval{}, false
	}
	start, err := sp.DateTime(loc)
	if err != nil {
		return model.BusyInterval{}, false
	}
	end, err := ep.DateTime(loc)
	if err != nil || !end.After(start) {
		return model.BusyInterval{}, false
	}
	return model.BusyInterval{Start: start.UTC(), End: end.UTC()}, true
}

package busy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"meetsync/internal/model"
)

var day = time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

func iv(h1, h2 int) model.BusyInterval {
	return model.BusyInterval{Start: day.Add(time.Duration(h1) * time.Hour), End: day.Add(time.Duration(h2) * time.Hour)}
}

const sampleICS = "BEGIN:VCALENDAR\r\n" +
	"VERSION:2.0\r\n" +
	"PRODID:-//meetsync//test//EN\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:1\r\n" +
	"DTSTAMP:20240601T000000Z\r\n" +
	"SUMMARY:Standup\r\n" +
	"DTSTART:20240610T100000Z\r\n" +
	"DTEND:20240610T110000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:2\r\n" +
	"DTSTAMP:20240601T000000Z\r\n" +
	"SUMMARY:Dropped\r\n" +
	"STATUS:CANCELLED\r\n" +
	"DTSTART:20240610T120000Z\r\n" +
	"DTEND:20240610T130000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:3\r\n" +
	"DTSTAMP:20240601T000000Z\r\n" +
	"SUMMARY:Focus (free)\r\n" +
	"TRANSP:TRANSPARENT\r\n" +
	"DTSTART:20240610T140000Z\r\n" +
	"DTEND:20240610T150000Z\r\n" +
	"END:VEVENT\r\n" +
	"BEGIN:VEVENT\r\n" +
	"UID:4\r\n" +
	"DTSTAMP:20240601T000000Z\r\n" +
	"SUMMARY:Next day\r\n" +
	"DTSTART:20240611T090000Z\r\n" +
	"DTEND:20240611T100000Z\r\n" +
	"END:VEVENT\r\n" +
	"END:VCALENDAR\r\n"

func TestParseICSSkipsCancelledAndFree(t *testing.T) {
	got, skipped, err := ParseICS(strings.NewReader(sampleICS), time.UTC)
	require.NoError(t, err)
	require.Equal(t, 2, skipped)
	require.Len(t, got, 2)
	require.True(t, got[0].Start.Equal(iv(10, 11).Start))
	require.True(t, got[0].End.Equal(iv(10, 11).End))
}

func TestICSDirFiltersByDayAndMissingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ana@x.io.ics"), []byte(sampleICS), 0o644))

	src := &ICSDir{Dir: dir}
	got, err := src.Busy(context.Background(), []string{"Ana@x.io", "nobody@x.io"}, day.Add(9*time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, got[0].Start.Equal(iv(10, 11).Start))
}

func TestICSDirRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad@x.io.ics"), []byte("not a calendar"), 0o644))
	_, err := (&ICSDir{Dir: dir}).Busy(context.Background(), []string{"bad@x.io"}, day)
	require.Error(t, err)
}

func TestICSDirReadsFromFS(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/cal/ana@x.io.ics", []byte(sampleICS), 0o644))

	src := &ICSDir{Dir: "/cal", FS: fsys}
	got, err := src.Busy(context.Background(), []string{"ana@x.io", "../etc/passwd"}, day)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestStaticUnionsParticipants(t *testing.T) {
	s := NewStatic()
	s.Add("a@x.io", iv(12, 13))
	s.Add("B@x.io", iv(10, 11))
	s.Add("c@x.io", iv(30, 31))

	got, err := s.Busy(context.Background(), []string{"a@x.io", "b@x.io", "c@x.io"}, day)
	require.NoError(t, err)
	require.Equal(t, []model.BusyInterval{iv(10, 11), iv(12, 13)}, got)
}

func TestMultiPropagatesErrors(t *testing.T) {
	s := NewStatic()
	s.Add("a@x.io", iv(9, 10))
	boom := errors.New("boom")
	_, err := Multi{s, &countingSource{err: boom}}.Busy(context.Background(), []string{"a@x.io"}, day)
	require.ErrorIs(t, err, boom)
}

type countingSource struct {
	calls int
	err   error
	out   []model.BusyInterval
}

func (c *countingSource) Busy(context.Context, []string, time.Time) ([]model.BusyInterval, error) {
	c.calls++
	return c.out, c.err
}

func TestCachedHitsSourceOncePerKey(t *testing.T) {
	src := &countingSource{out: []model.BusyInterval{iv(9, 10)}}
	c := NewCached(src, 8, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		got, err := c.Busy(ctx, []string{"b@x.io", "A@x.io"}, day)
		require.NoError(t, err)
		require.Len(t, got, 1)
	}
	_, err := c.Busy(ctx, []string{"a@x.io", "b@x.io", "b@x.io"}, day.Add(3*time.Hour))
	require.NoError(t, err)
	require.Equal(t, 1, src.calls, "same participant set and day share an entry")

	_, err = c.Busy(ctx, []string{"a@x.io"}, day)
	require.NoError(t, err)
	require.Equal(t, 2, src.calls)

	c.Purge()
	_, err = c.Busy(ctx, []string{"a@x.io"}, day)
	require.NoError(t, err)
	require.Equal(t, 3, src.calls)
}

func TestCachedDoesNotCacheErrors(t *testing.T) {
	src := &countingSource{err: errors.New("down")}
	c := NewCached(src, 8, time.Minute)
	_, err := c.Busy(context.Background(), []string{"a@x.io"}, day)
	require.Error(t, err)
	_, err = c.Busy(context.Background(), []string{"a@x.io"}, day)
	require.Error(t, err)
	require.Equal(t, 2, src.calls)
}

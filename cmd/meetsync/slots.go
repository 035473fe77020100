package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"meetsync/internal/busy"
	"meetsync/internal/slots"
)

type slotsFlags struct {
	date     string
	days     int
	duration int
	travel   int
	limit    int
	tz       string
	icsDir   string
	start    string
	end      string

	now func() time.Time
}

func newSlotsCmd() *cobra.Command {
	var f slotsFlags
	cmd := &cobra.Command{
		Use:   "slots [email...]",
		Short: "Print open slots common to every participant",
		Long: "Reads <ics-dir>/<email>.ics for each participant and prints the\n" +
			"start times where everyone is free. Without --ics-dir everyone is free.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := runSlots(cmd.Context(), f, args)
			if err != nil {
				return err
			}
			printSlots(cmd.OutOrStdout(), out, f.duration)
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.date, "date", "", "first day, YYYY-MM-DD (default today)")
	fl.IntVar(&f.days, "days", 1, "number of days to search")
	fl.IntVarP(&f.duration, "duration", "d", 60, "meeting length in minutes")
	fl.IntVar(&f.travel, "travel", 0, "travel minutes padded around busy intervals")
	fl.IntVarP(&f.limit, "limit", "n", 10, "maximum slots to print (0 = all)")
	fl.StringVar(&f.tz, "tz", "UTC", "timezone of the search window")
	fl.StringVar(&f.icsDir, "ics-dir", "", "directory of <email>.ics calendars")
	fl.StringVar(&f.start, "from", "08:00", "window start, HH:MM")
	fl.StringVar(&f.end, "to", "22:00", "window end, HH:MM")
	return cmd
}

func runSlots(ctx context.Context, f slotsFlags, emails []string) ([]time.Time, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	loc, err := time.LoadLocation(f.tz)
	if err != nil {
		return nil, fmt.Errorf("--tz: %w", err)
	}
	now := time.Now
	if f.now != nil {
		now = f.now
	}
	day := now().In(loc)
	if f.date != "" {
		day, err = time.ParseInLocation(time.DateOnly, f.date, loc)
		if err != nil {
			return nil, fmt.Errorf("--date: want YYYY-MM-DD: %w", err)
		}
	}
	start, err := clock(f.start)
	if err != nil {
		return nil, fmt.Errorf("--from: %w", err)
	}
	end, err := clock(f.end)
	if err != nil {
		return nil, fmt.Errorf("--to: %w", err)
	}
	if f.days <= 0 {
		f.days = 1
	}

	var src slots.BusySource
	if f.icsDir != "" {
		src = &busy.ICSDir{Dir: f.icsDir, Location: loc}
	}
	opts := slots.Options{SearchStart: start, SearchEnd: end, Location: loc, TravelMinutes: f.travel}

	found, err := slots.SuggestCommonSlots(ctx, src, slots.Query{
		Emails:          emails,
		Day:             day,
		Days:            f.days,
		DurationMinutes: f.duration,
		Limit:           f.limit,
		NotBefore:       now(),
	}, opts)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(found))
	for _, t := range found {
		out = append(out, t.In(loc))
	}
	return out, nil
}

// clock parses HH:MM into an offset from midnight.
func clock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

var (
	dayStyle  = color.New(color.Bold).SprintFunc()
	slotStyle = color.New(color.FgGreen).SprintFunc()
	noneStyle = color.New(color.FgYellow).SprintFunc()
)

// printSlots groups slots under a header per day. Colors are dropped
// automatically when w is not a terminal.
func printSlots(w io.Writer, out []time.Time, duration int) {
	if len(out) == 0 {
		fmt.Fprintln(w, noneStyle("no open slots"))
		return
	}
	d := time.Duration(duration) * time.Minute
	var day string
	for _, t := range out {
		if h := t.Format("Mon 2006-01-02 MST"); h != day {
			day = h
			fmt.Fprintln(w, dayStyle(h))
		}
		fmt.Fprintf(w, "  %s\n", slotStyle(t.Format("15:04")+"-"+t.Add(d).Format("15:04")))
	}
}

// Package trigger starts workflow runs on a cron schedule or on demand.
package trigger

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
)

// DefaultCron fires at 14:00 Monday through Saturday.
const DefaultCron = "0 14 * * 1-6"

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule is a parsed cron expression bound to a time zone.
type Schedule struct {
	expr  string
	loc   *time.Location
	sched cron.Schedule
}

// ParseSchedule parses a five-field cron expression evaluated in timezone. An
// empty timezone means UTC.
func ParseSchedule(expr, timezone string) (*Schedule, error) {
	loc := time.UTC
	if timezone != "" {
		var err error
		if loc, err = time.LoadLocation(timezone); err != nil {
			return nil, eris.Wrapf(err, "trigger: load timezone %q", timezone)
		}
	}
	s, err := parser.Parse(expr)
	if err != nil {
		return nil, eris.Wrapf(err, "trigger: parse cron %q", expr)
	}
	if spec, ok := s.(*cron.SpecSchedule); ok {
		spec.Location = loc
	}
	return &Schedule{expr: expr, loc: loc, sched: s}, nil
}

// String returns the cron expression.
func (s *Schedule) String() string { return s.expr }

// Location returns the zone the expression is evaluated in.
func (s *Schedule) Location() *time.Location { return s.loc }

// Next returns the first fire time strictly after t.
func (s *Schedule) Next(t time.Time) time.Time {
	return s.sched.Next(t)
}

// NextN returns the next n fire times after t.
func (s *Schedule) NextN(t time.Time, n int) []time.Time {
	out := make([]time.Time, 0, max(n, 0))
	for range n {
		t = s.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}

// Due reports whether the minute containing t is a fire time.
func (s *Schedule) Due(t time.Time) bool {
	m := t.Truncate(time.Minute)
	return s.Next(m.Add(-time.Second)).Equal(m)
}

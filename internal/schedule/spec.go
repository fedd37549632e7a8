package schedule

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SpecKind describes the normalized kind of a schedule string.
//
// We intentionally keep this small: either a cron expression (robfig/cron)
// or a fixed interval.
type SpecKind int

const (
	SpecCron SpecKind = iota
	SpecInterval
)

// Spec represents a parsed schedule string.
//
// Supported forms:
//   - Cron (crontab.guru-style): "*/5 * * * *", "55 * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "every:" forces interval parsing
type Spec struct {
	Kind   SpecKind
	Cron   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"

	sched cron.Schedule
}

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// Parse parses a schedule string into either a cron expression or an interval.
// Cron expressions are validated eagerly so a bad spec is rejected at task
// creation time, not at fire time.
func Parse(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Spec{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Spec{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return parseCron(expr)
	}
	if strings.HasPrefix(low, "every:") {
		v := strings.TrimSpace(s[len("every:"):])
		d, src, err := parseInterval(v)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: SpecInterval, Every: d, Source: src}, nil
	}

	// Heuristics:
	// - any whitespace or leading '@' => cron
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}

	// - HH:MM => interval duration
	if reHHMM.MatchString(s) {
		d, _, err := parseHHMMDuration(s)
		if err != nil {
			return Spec{}, err
		}
		return Spec{Kind: SpecInterval, Every: d, Source: "hhmm"}, nil
	}

	// - Go duration => interval duration
	d, err := time.ParseDuration(s)
	if err == nil {
		if d <= 0 {
			return Spec{}, fmt.Errorf("interval must be > 0")
		}
		return Spec{Kind: SpecInterval, Every: d, Source: "duration"}, nil
	}

	return Spec{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')",
		raw,
	)
}

// Next returns the next fire time strictly after the given time.
func (s Spec) Next(after time.Time) time.Time {
	switch s.Kind {
	case SpecCron:
		if s.sched == nil {
			return time.Time{}
		}
		return s.sched.Next(after)
	default:
		if s.Every <= 0 {
			return time.Time{}
		}
		return after.Add(s.Every)
	}
}

// Next is the one-shot form: parse raw and compute the next fire time after t.
func Next(raw string, after time.Time) (time.Time, error) {
	sp, err := Parse(raw)
	if err != nil {
		return time.Time{}, err
	}
	n := sp.Next(after)
	if n.IsZero() {
		return time.Time{}, fmt.Errorf("schedule %q yields no next run", raw)
	}
	return n, nil
}

func parseCron(expr string) (Spec, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return Spec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Spec{Kind: SpecCron, Cron: expr, Source: "cron", sched: sched}, nil
}

func parseInterval(v string) (time.Duration, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, "", fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		d, _, err := parseHHMMDuration(v)
		return d, "hhmm", err
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, "", fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return 0, "", fmt.Errorf("interval must be > 0")
	}
	return d, "duration", nil
}

func parseHHMMDuration(v string) (time.Duration, string, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, "", fmt.Errorf("invalid HH:MM %q", v)
	}
	// safe parse: hours up to 999, minutes 0..59
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm < 0 || mm > 59 {
		return 0, "", fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, "", fmt.Errorf("interval must be > 0")
	}
	return d, "hhmm", nil
}

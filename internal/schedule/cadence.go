package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

type Frequency string

const (
	FrequencyHourly  Frequency = "hourly"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// Cadence is a recurring wall-clock time evaluated in the scheduler's location.
// Build one with Hourly, DailyAt, WeeklyAt or MonthlyAt.
type Cadence struct {
	Frequency Frequency
	Minute    int
	Hour      int
	Weekday   time.Weekday
	// Day of month, 1-31. Months shorter than Day fire on their last day.
	Day int
}

func Hourly(minute int) Cadence {
	return Cadence{Frequency: FrequencyHourly, Minute: minute}
}

func DailyAt(hour, minute int) Cadence {
	return Cadence{Frequency: FrequencyDaily, Hour: hour, Minute: minute}
}

func WeeklyAt(weekday time.Weekday, hour, minute int) Cadence {
	return Cadence{Frequency: FrequencyWeekly, Weekday: weekday, Hour: hour, Minute: minute}
}

func MonthlyAt(day, hour, minute int) Cadence {
	return Cadence{Frequency: FrequencyMonthly, Day: day, Hour: hour, Minute: minute}
}

func (c Cadence) Validate() error {
	if c.Minute < 0 || c.Minute > 59 {
		return fmt.Errorf("cadence minute %d out of range", c.Minute)
	}
	switch c.Frequency {
	case FrequencyHourly:
		return nil
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	case "":
		return errors.New("cadence frequency is required")
	default:
		return fmt.Errorf("unknown cadence frequency %q", c.Frequency)
	}
	if c.Hour < 0 || c.Hour > 23 {
		return fmt.Errorf("cadence hour %d out of range", c.Hour)
	}
	if c.Frequency == FrequencyWeekly && (c.Weekday < time.Sunday || c.Weekday > time.Saturday) {
		return fmt.Errorf("cadence weekday %d out of range", c.Weekday)
	}
	if c.Frequency == FrequencyMonthly && (c.Day < 1 || c.Day > 31) {
		return fmt.Errorf("cadence day %d out of range", c.Day)
	}
	return nil
}

// Next returns the first firing time strictly after after, in loc.
func (c Cadence) Next(after time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t := after.In(loc)
	y, m, d := t.Date()

	switch c.Frequency {
	case FrequencyHourly:
		next := time.Date(y, m, d, t.Hour(), c.Minute, 0, 0, loc)
		if !next.After(after) {
			next = next.Add(time.Hour)
		}
		return next

	case FrequencyWeekly:
		ahead := (int(c.Weekday) - int(t.Weekday()) + 7) % 7
		next := time.Date(y, m, d+ahead, c.Hour, c.Minute, 0, 0, loc)
		if !next.After(after) {
			next = time.Date(y, m, d+ahead+7, c.Hour, c.Minute, 0, 0, loc)
		}
		return next

	case FrequencyMonthly:
		for i := 0; i < 13; i++ {
			day := min(c.Day, daysIn(y, m+time.Month(i), loc))
			next := time.Date(y, m+time.Month(i), day, c.Hour, c.Minute, 0, 0, loc)
			if next.After(after) {
				return next
			}
		}
		return time.Time{}

	default:
		next := time.Date(y, m, d, c.Hour, c.Minute, 0, 0, loc)
		if !next.After(after) {
			next = time.Date(y, m, d+1, c.Hour, c.Minute, 0, 0, loc)
		}
		return next
	}
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

func (c Cadence) String() string {
	at := fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
	switch c.Frequency {
	case FrequencyHourly:
		return fmt.Sprintf("hourly at :%02d", c.Minute)
	case FrequencyDaily:
		return "daily at " + at
	case FrequencyWeekly:
		return fmt.Sprintf("weekly on %s at %s", c.Weekday, at)
	case FrequencyMonthly:
		return fmt.Sprintf("monthly on the %s at %s", humanize.Ordinal(c.Day), at)
	default:
		return "unscheduled"
	}
}

// cadenceYAML is the file form of a Cadence:
//
//	every: weekly
//	weekday: monday
//	at: "08:00"
type cadenceYAML struct {
	Every   string `yaml:"every"`
	At      string `yaml:"at"`
	Minute  int    `yaml:"minute"`
	Weekday string `yaml:"weekday"`
	Day     int    `yaml:"day"`
}

func (c *Cadence) UnmarshalYAML(value *yaml.Node) error {
	var raw cadenceYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}

	var out Cadence
	switch Frequency(strings.ToLower(raw.Every)) {
	case FrequencyHourly:
		out = Hourly(raw.Minute)
	case FrequencyDaily:
		h, m, err := parseClock(raw.At)
		if err != nil {
			return err
		}
		out = DailyAt(h, m)
	case FrequencyWeekly:
		h, m, err := parseClock(raw.At)
		if err != nil {
			return err
		}
		wd, err := parseWeekday(raw.Weekday)
		if err != nil {
			return err
		}
		out = WeeklyAt(wd, h, m)
	case FrequencyMonthly:
		h, m, err := parseClock(raw.At)
		if err != nil {
			return err
		}
		out = MonthlyAt(raw.Day, h, m)
	default:
		return fmt.Errorf("line %d: unknown cadence %q", value.Line, raw.Every)
	}

	if err := out.Validate(); err != nil {
		return fmt.Errorf("line %d: %w", value.Line, err)
	}
	*c = out
	return nil
}

func parseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("parse time of day %q: want HH:MM", s)
	}
	return t.Hour(), t.Minute(), nil
}

func parseWeekday(s string) (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		name := strings.ToLower(d.String())
		if v := strings.ToLower(s); v == name || v == name[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}

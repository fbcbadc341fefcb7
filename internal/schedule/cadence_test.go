package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestCadenceNext(t *testing.T) {
	// Tuesday.
	after := time.Date(2026, 3, 10, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		cadence Cadence
		want    time.Time
	}{
		{"hourly later this hour", Hourly(45), time.Date(2026, 3, 10, 9, 45, 0, 0, time.UTC)},
		{"hourly next hour", Hourly(0), time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)},
		{"hourly exact is strictly after", Hourly(30), time.Date(2026, 3, 10, 10, 30, 0, 0, time.UTC)},
		{"daily later today", DailyAt(12, 0), time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)},
		{"daily tomorrow", DailyAt(3, 0), time.Date(2026, 3, 11, 3, 0, 0, 0, time.UTC)},
		{"weekly next monday", WeeklyAt(time.Monday, 8, 0), time.Date(2026, 3, 16, 8, 0, 0, 0, time.UTC)},
		{"weekly same day later", WeeklyAt(time.Tuesday, 10, 0), time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)},
		{"weekly same day passed", WeeklyAt(time.Tuesday, 9, 0), time.Date(2026, 3, 17, 9, 0, 0, 0, time.UTC)},
		{"monthly next month", MonthlyAt(1, 7, 0), time.Date(2026, 4, 1, 7, 0, 0, 0, time.UTC)},
		{"monthly later this month", MonthlyAt(15, 7, 0), time.Date(2026, 3, 15, 7, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cadence.Next(after, time.UTC))
		})
	}
}

func TestCadenceMonthlyClampsToMonthEnd(t *testing.T) {
	c := MonthlyAt(31, 0, 0)

	next := c.Next(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), time.UTC)
	assert.Equal(t, time.Date(2026, 2, 28, 0, 0, 0, 0, time.UTC), next)

	next = c.Next(next, time.UTC)
	assert.Equal(t, time.Date(2026, 3, 31, 0, 0, 0, 0, time.UTC), next)
}

func TestCadenceNextInLocation(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	after := time.Date(2026, 3, 10, 7, 30, 0, 0, time.UTC) // 08:30 in Berlin
	next := DailyAt(9, 0).Next(after, loc)
	assert.Equal(t, time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC), next.UTC())
}

func TestCadenceValidate(t *testing.T) {
	assert.NoError(t, Hourly(0).Validate())
	assert.NoError(t, MonthlyAt(31, 23, 59).Validate())
	assert.Error(t, Hourly(60).Validate())
	assert.Error(t, DailyAt(24, 0).Validate())
	assert.Error(t, MonthlyAt(0, 7, 0).Validate())
	assert.Error(t, WeeklyAt(time.Weekday(9), 7, 0).Validate())
	assert.Error(t, Cadence{}.Validate())
}

func TestCadenceString(t *testing.T) {
	assert.Equal(t, "hourly at :05", Hourly(5).String())
	assert.Equal(t, "daily at 03:00", DailyAt(3, 0).String())
	assert.Equal(t, "weekly on Monday at 08:00", WeeklyAt(time.Monday, 8, 0).String())
	assert.Equal(t, "monthly on the 1st at 07:00", MonthlyAt(1, 7, 0).String())
	assert.Equal(t, "monthly on the 22nd at 07:00", MonthlyAt(22, 7, 0).String())
}

func TestCadenceUnmarshalYAML(t *testing.T) {
	src := `
scan:
  every: hourly
  minute: 15
digest:
  every: weekly
  weekday: mon
  at: "08:30"
summary:
  every: monthly
  day: 1
  at: "07:00"
`
	var got map[string]Cadence
	require.NoError(t, yaml.Unmarshal([]byte(src), &got))

	assert.Equal(t, Hourly(15), got["scan"])
	assert.Equal(t, WeeklyAt(time.Monday, 8, 30), got["digest"])
	assert.Equal(t, MonthlyAt(1, 7, 0), got["summary"])
}

func TestCadenceUnmarshalYAMLErrors(t *testing.T) {
	cases := map[string]string{
		"unknown frequency": "x:\n  every: fortnightly\n",
		"bad clock":         "x:\n  every: daily\n  at: \"9am\"\n",
		"bad weekday":       "x:\n  every: weekly\n  weekday: someday\n  at: \"08:00\"\n",
		"day out of range":  "x:\n  every: monthly\n  day: 40\n  at: \"08:00\"\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			var got map[string]Cadence
			assert.Error(t, yaml.Unmarshal([]byte(src), &got))
		})
	}
}

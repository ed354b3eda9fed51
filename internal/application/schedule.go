package application

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// DailySchedule computes cycle start instants in a fixed UTC offset.
type DailySchedule struct {
	schedule cron.Schedule
	location *time.Location
	spec     string
}

// NewDailySchedule builds the schedule from a "HH:MM" time of day, or from
// cronExpr when it is not empty. utcOffset is applied to both.
func NewDailySchedule(dailyAt string, utcOffset time.Duration, cronExpr string) (*DailySchedule, error) {
	spec := strings.TrimSpace(cronExpr)
	if spec == "" {
		hour, minute, err := parseTimeOfDay(dailyAt)
		if err != nil {
			return nil, err
		}
		spec = fmt.Sprintf("%d %d * * *", minute, hour)
	}

	schedule, err := cronParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}

	return &DailySchedule{
		schedule: schedule,
		location: time.FixedZone(offsetName(utcOffset), int(utcOffset/time.Second)),
		spec:     spec,
	}, nil
}

// Next returns the first target instant strictly after now: today's target
// when it has not passed yet, tomorrow's otherwise.
func (s *DailySchedule) Next(now time.Time) time.Time {
	return s.schedule.Next(now.In(s.location))
}

func (s *DailySchedule) Location() *time.Location {
	return s.location
}

func (s *DailySchedule) String() string {
	return s.spec + " " + s.location.String()
}

func parseTimeOfDay(value string) (int, int, error) {
	hourPart, minutePart, ok := strings.Cut(strings.TrimSpace(value), ":")
	if !ok {
		return 0, 0, fmt.Errorf("parse time of day %q: expected HH:MM", value)
	}

	hour, err := strconv.Atoi(hourPart)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("parse time of day %q: invalid hour", value)
	}
	minute, err := strconv.Atoi(minutePart)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("parse time of day %q: invalid minute", value)
	}

	return hour, minute, nil
}

func offsetName(offset time.Duration) string {
	if offset == 0 {
		return "UTC"
	}

	sign := "+"
	if offset < 0 {
		sign = "-"
		offset = -offset
	}
	hours := int(offset / time.Hour)
	minutes := int((offset % time.Hour) / time.Minute)
	if minutes == 0 {
		return fmt.Sprintf("UTC%s%d", sign, hours)
	}
	return fmt.Sprintf("UTC%s%d:%02d", sign, hours, minutes)
}

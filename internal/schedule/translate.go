package schedule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/flowcore/pkg/schema"
)

// Kind classifies a user-facing schedule description.
type Kind string

const (
	KindDaily   Kind = "daily"
	KindWeekly  Kind = "weekly"
	KindMonthly Kind = "monthly"
	KindCustom  Kind = "custom"
)

// Spec is the user's local description of a schedule. Time is a local
// "HH:MM" wall-clock value; Days are ISO weekdays (Monday=1..Sunday=7);
// Cron holds the verbatim expression for custom schedules.
type Spec struct {
	Kind       Kind   `json:"kind"`
	Time       string `json:"time,omitempty"`
	Days       []int  `json:"days,omitempty"`
	DayOfMonth int    `json:"day_of_month,omitempty"`
	Cron       string `json:"cron,omitempty"`
}

// defaultSpec is returned when a stored cron expression cannot be parsed.
// It feeds editable UI state, so failing soft beats raising.
func defaultSpec() Spec {
	return Spec{Kind: KindDaily, Time: "09:00", Days: []int{1}, DayOfMonth: 1}
}

// standardParser accepts the 5-field minute/hour/dom/month/dow format.
var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks that a cron expression is a well-formed 5-field schedule.
func Validate(cronExpr string) error {
	if _, err := standardParser.Parse(cronExpr); err != nil {
		return schema.NewErrorf(schema.ErrCodeScheduleParse,
			"invalid cron expression %q: %s", cronExpr, err.Error()).WithCause(err)
	}
	return nil
}

// Next computes the next UTC activation of a cron expression after from.
func Next(cronExpr string, from time.Time) (time.Time, error) {
	sched, err := standardParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, schema.NewErrorf(schema.ErrCodeScheduleParse,
			"invalid cron expression %q: %s", cronExpr, err.Error()).WithCause(err)
	}
	return sched.Next(from.UTC()), nil
}

// ToCron converts a local schedule description into a UTC cron expression.
// The local wall-clock time is shifted by the timezone's offset at
// translation time, so daylight saving is honored for the current rule.
func ToCron(spec Spec, userTimezone string) (string, error) {
	if spec.Kind == KindCustom {
		if err := Validate(spec.Cron); err != nil {
			return "", err
		}
		return spec.Cron, nil
	}

	minute, hour, err := localToUTC(spec.Time, userTimezone)
	if err != nil {
		return "", err
	}

	switch spec.Kind {
	case KindDaily:
		return fmt.Sprintf("%d %d * * *", minute, hour), nil

	case KindWeekly:
		if len(spec.Days) == 0 {
			return "", schema.NewError(schema.ErrCodeScheduleParse, "weekly schedule requires at least one day")
		}
		cronDays := make([]int, 0, len(spec.Days))
		for _, d := range spec.Days {
			if d < 1 || d > 7 {
				return "", schema.NewErrorf(schema.ErrCodeScheduleParse, "invalid ISO weekday %d", d)
			}
			cronDays = append(cronDays, isoToCronWeekday(d))
		}
		sort.Ints(cronDays)
		parts := make([]string, len(cronDays))
		for i, d := range cronDays {
			parts[i] = strconv.Itoa(d)
		}
		return fmt.Sprintf("%d %d * * %s", minute, hour, strings.Join(parts, ",")), nil

	case KindMonthly:
		if spec.DayOfMonth < 1 || spec.DayOfMonth > 31 {
			return "", schema.NewErrorf(schema.ErrCodeScheduleParse, "invalid day of month %d", spec.DayOfMonth)
		}
		return fmt.Sprintf("%d %d %d * *", minute, hour, spec.DayOfMonth), nil

	default:
		return "", schema.NewErrorf(schema.ErrCodeScheduleParse, "unknown schedule kind %q", spec.Kind)
	}
}

// FromCron converts a stored UTC cron expression back into the caller's
// local schedule description for display. Malformed expressions fall back
// to a safe default rather than raising. Expressions using ranges or steps
// are classified as custom and passed through verbatim.
func FromCron(cronExpr, userTimezone string) Spec {
	fields := strings.Fields(cronExpr)
	if len(fields) != 5 {
		return defaultSpec()
	}

	minute, errMin := strconv.Atoi(fields[0])
	hour, errHour := strconv.Atoi(fields[1])
	if errMin != nil || errHour != nil {
		// Not a plain HH:MM schedule. Keep it editable as custom when it
		// is at least parseable, else fall back to the default.
		if Validate(cronExpr) == nil {
			return Spec{Kind: KindCustom, Cron: cronExpr}
		}
		return defaultSpec()
	}
	if minute < 0 || minute > 59 || hour < 0 || hour > 23 {
		return defaultSpec()
	}

	localTime := utcToLocal(minute, hour, userTimezone)

	dom, dow := fields[2], fields[4]

	if dow != "*" {
		var days []int
		for _, part := range strings.Split(dow, ",") {
			n, err := strconv.Atoi(part)
			if err != nil || n < 0 || n > 7 {
				return defaultSpec()
			}
			days = append(days, cronToISOWeekday(n))
		}
		sort.Ints(days)
		return Spec{Kind: KindWeekly, Time: localTime, Days: days}
	}

	if dom != "*" {
		day, err := strconv.Atoi(dom)
		if err != nil || day < 1 || day > 31 {
			return defaultSpec()
		}
		return Spec{Kind: KindMonthly, Time: localTime, DayOfMonth: day}
	}

	return Spec{Kind: KindDaily, Time: localTime}
}

// isoToCronWeekday maps ISO weekdays (Monday=1..Sunday=7) to cron weekday
// numbers (Sunday=0..Saturday=6): 7 becomes 0, 1-6 are unchanged.
func isoToCronWeekday(iso int) int {
	if iso == 7 {
		return 0
	}
	return iso
}

// cronToISOWeekday reverses isoToCronWeekday. Cron accepts both 0 and 7 for
// Sunday; both map to ISO 7.
func cronToISOWeekday(cronDay int) int {
	if cronDay == 0 || cronDay == 7 {
		return 7
	}
	return cronDay
}

// localToUTC converts a local "HH:MM" wall-clock value to UTC minute/hour
// using the timezone's offset today.
func localToUTC(hhmm, userTimezone string) (minute, hour int, err error) {
	h, m, err := parseClock(hhmm)
	if err != nil {
		return 0, 0, err
	}

	loc, err := time.LoadLocation(userTimezone)
	if err != nil {
		return 0, 0, schema.NewErrorf(schema.ErrCodeScheduleParse,
			"unknown timezone %q", userTimezone).WithCause(err)
	}

	now := time.Now().In(loc)
	local := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, loc)
	utc := local.UTC()
	return utc.Minute(), utc.Hour(), nil
}

// utcToLocal converts stored UTC minute/hour back to a local "HH:MM" string.
// An unknown timezone leaves the time in UTC.
func utcToLocal(minute, hour int, userTimezone string) string {
	loc, err := time.LoadLocation(userTimezone)
	if err != nil {
		loc = time.UTC
	}

	now := time.Now().UTC()
	utc := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	return utc.In(loc).Format("15:04")
}

func parseClock(hhmm string) (hour, minute int, err error) {
	parts := strings.SplitN(hhmm, ":", 2)
	if len(parts) != 2 {
		return 0, 0, schema.NewErrorf(schema.ErrCodeScheduleParse, "invalid time %q: expected HH:MM", hhmm)
	}
	hour, errH := strconv.Atoi(parts[0])
	minute, errM := strconv.Atoi(parts[1])
	if errH != nil || errM != nil || hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, schema.NewErrorf(schema.ErrCodeScheduleParse, "invalid time %q: expected HH:MM", hhmm)
	}
	return hour, minute, nil
}

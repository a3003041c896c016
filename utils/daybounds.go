// utils/daybounds.go
package utils

import (
	"fmt"
	"time"
)

// Offsets follow the JavaScript getTimezoneOffset convention: minutes to add
// to local time to get UTC, so UTC+8 is -480 and UTC-5 is +300. Clients that
// send the opposite sign are still accepted while the magnitude stays <= 14h.
const (
	MinTzOffset = -840
	MaxTzOffset = 840
)

// DayEpoch is day number 0.
var DayEpoch = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

// ValidTzOffset reports whether the offset is within +-14h.
func ValidTzOffset(tzOffsetMinutes int) bool {
	return tzOffsetMinutes >= MinTzOffset && tzOffsetMinutes <= MaxTzOffset
}

// localMidnight shifts the instant onto the user's wall clock and truncates to
// midnight. The result is expressed as a UTC time carrying the local date.
func localMidnight(instant time.Time, tzOffsetMinutes int) time.Time {
	local := instant.UTC().Add(-time.Duration(tzOffsetMinutes) * time.Minute)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

// UserDayStart returns the absolute instant of local 00:00:00 for the user's
// day containing instant.
func UserDayStart(instant time.Time, tzOffsetMinutes int) time.Time {
	return localMidnight(instant, tzOffsetMinutes).Add(time.Duration(tzOffsetMinutes) * time.Minute)
}

// UserDayEnd is the exclusive end of the user's day, 24h after its start.
func UserDayEnd(instant time.Time, tzOffsetMinutes int) time.Time {
	return UserDayStart(instant, tzOffsetMinutes).Add(day)
}

// DayNumber is the user-local calendar day index relative to DayEpoch.
func DayNumber(instant time.Time, tzOffsetMinutes int) int {
	return int(localMidnight(instant, tzOffsetMinutes).Sub(DayEpoch) / day)
}

// FormatLocalDate renders the user-local date as YYYY-MM-DD.
func FormatLocalDate(instant time.Time, tzOffsetMinutes int) string {
	return localMidnight(instant, tzOffsetMinutes).Format(time.DateOnly)
}

// DateOfDayNumber renders a day number as YYYY-MM-DD.
func DateOfDayNumber(n int) string {
	return DayEpoch.AddDate(0, 0, n).Format(time.DateOnly)
}

// ParseLocalDate converts a YYYY-MM-DD string into its day number.
func ParseLocalDate(date string) (int, error) {
	t, err := time.Parse(time.DateOnly, date)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return int(t.Sub(DayEpoch) / day), nil
}

// LocalNoon is the absolute instant of 12:00 local time on day n.
func LocalNoon(n int, tzOffsetMinutes int) time.Time {
	return DayEpoch.AddDate(0, 0, n).
		Add(12 * time.Hour).
		Add(time.Duration(tzOffsetMinutes) * time.Minute)
}

// UTCDayKey is the fixed-UTC calendar day used by global daily caps.
func UTCDayKey(instant time.Time) string {
	return instant.UTC().Format(time.DateOnly)
}

// UTCDayStart is UTC midnight of the instant's UTC day.
func UTCDayStart(instant time.Time) time.Time {
	return UserDayStart(instant, 0)
}

package bump

import (
	"strconv"
	"strings"
)

const (
	Second int64 = 1
	Minute       = 60 * Second
	Hour         = 60 * Minute
	Day          = 24 * Hour
	Week         = 7 * Day

	// MaxDelay bounds any delay or interval a command may request.
	MaxDelay = 100 * 365 * Day
)

type unit struct {
	seconds          int64
	singular, plural string
}

var (
	unitSecond = unit{Second, "second", "seconds"}
	unitMinute = unit{Minute, "minute", "minutes"}
	unitHour   = unit{Hour, "hour", "hours"}
	unitDay    = unit{Day, "day", "days"}
	unitWeek   = unit{Week, "week", "weeks"}
)

// unitWords maps every accepted spelling to its canonical unit.
var unitWords = map[string]unit{
	"second": unitSecond, "seconds": unitSecond, "sec": unitSecond, "secs": unitSecond,
	"minute": unitMinute, "minutes": unitMinute, "min": unitMinute, "mins": unitMinute,
	"hour": unitHour, "hours": unitHour, "hr": unitHour, "hrs": unitHour,
	"day": unitDay, "days": unitDay,
	"week": unitWeek, "weeks": unitWeek, "wk": unitWeek, "wks": unitWeek,
}

// Normalize converts an amount of unitWord into seconds and a display unit in
// canonical long form, singular for 1 and plural otherwise.
//
// It returns (0, "") for an unknown unit, a non-positive amount or a total
// above MaxDelay; callers must treat that as a parse failure.
func Normalize(amount int64, unitWord string) (int64, string) {
	u, ok := unitWords[strings.ToLower(strings.TrimSpace(unitWord))]
	if !ok || amount <= 0 || amount > MaxDelay/u.seconds {
		return 0, ""
	}
	if amount == 1 {
		return u.seconds, u.singular
	}
	return amount * u.seconds, u.plural
}

// ParseAmount reads a positive decimal count; "a" and "an" mean 1.
func ParseAmount(s string) (int64, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "a" || s == "an" {
		return 1, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// Plural formats "n word" with an "s" appended unless n is 1.
func Plural(n int64, word string) string {
	if n == 1 {
		return "1 " + word
	}
	return strconv.FormatInt(n, 10) + " " + word + "s"
}

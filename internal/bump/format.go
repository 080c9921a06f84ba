package bump

// FormatRemaining renders a non-negative number of seconds in the largest
// whole unit that fits (floored): "42 seconds", "1 minute", "3 hours", "1 week".
//
// Display only. The flooring makes it unusable for scheduling.
func FormatRemaining(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	switch {
	case seconds < Minute:
		return Plural(seconds, "second")
	case seconds < Hour:
		return Plural(seconds/Minute, "minute")
	case seconds < Day:
		return Plural(seconds/Hour, "hour")
	case seconds < Week:
		return Plural(seconds/Day, "day")
	default:
		return Plural(seconds/Week, "week")
	}
}

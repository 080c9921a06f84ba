package dispatch

import (
	"fmt"
	"strings"
	"time"
)

const DefaultSpec = "* * * * * *"

// normalizeSpec turns a dispatch.spec value into something the cron parser
// accepts. A Go duration of at least 1s becomes "@every <d>"; anything with
// whitespace or a leading '@' is passed through as cron.
func normalizeSpec(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return DefaultSpec, nil
	}
	if low := strings.ToLower(s); strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return "", fmt.Errorf("cron schedule required after 'cron:'")
		}
		return expr, nil
	}
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return s, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return "", fmt.Errorf("invalid dispatch spec %q (use cron like '* * * * * *' or a duration like '1s')", raw)
	}
	// Bump times have one-second resolution.
	if d < time.Second {
		return "", fmt.Errorf("dispatch interval must be at least 1s, got %s", d)
	}
	return "@every " + d.String(), nil
}

package bump

// OneTime is a single bump due at FiresAt (unix seconds). FiresAt never changes
// after creation.
type OneTime struct {
	ChatID  int64 `json:"chat_id"`
	FiresAt int64 `json:"fires_at"`
}

// Recurring is a bump repeated every IntervalSeconds. NextFiresAt only moves
// forward: after each delivery at tick time t it becomes t + IntervalSeconds.
type Recurring struct {
	ChatID          int64  `json:"chat_id"`
	IntervalSeconds int64  `json:"interval_seconds"`
	NextFiresAt     int64  `json:"next_fires_at"`
	Description     string `json:"description"`
}

// Due reports whether the bump should fire at now.
func (b OneTime) Due(now int64) bool { return b.FiresAt <= now }

// Due reports whether the bump should fire at now.
func (b Recurring) Due(now int64) bool { return b.NextFiresAt <= now }

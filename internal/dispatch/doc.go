// Package dispatch delivers due bumps. A robfig/cron entry (every second by
// default) calls Tick, which asks the schedule store for due entries and
// sends the bump text to each chat concurrently with bounded retries.
package dispatch

package storage

import (
	"context"
	"fmt"
	"strings"

	"bumpbot/internal/bump"
	logx "bumpbot/pkg/logx"
)

// Open initializes the configured backend. Driver "none" (or empty) yields a
// backend that discards writes.
func Open(cfg Config, log logx.Logger) (Backend, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driverName(driver)))

	switch driver {
	case "", "none":
		return nopBackend{}, nil
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

func driverName(d string) string {
	if d == "" {
		return "none"
	}
	return d
}

type nopBackend struct{}

func (nopBackend) LoadOneTime(context.Context) ([]bump.OneTime, error)      { return nil, nil }
func (nopBackend) LoadRecurring(context.Context) ([]bump.Recurring, error)  { return nil, nil }
func (nopBackend) ReplaceOneTime(context.Context, []bump.OneTime) error     { return nil }
func (nopBackend) ReplaceRecurring(context.Context, []bump.Recurring) error { return nil }
func (nopBackend) Close() error                                             { return nil }

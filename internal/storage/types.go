package storage

import (
	"context"
	"errors"
	"time"

	"bumpbot/internal/bump"
)

// ErrUnknownDriver is returned by Open for an unsupported storage.driver.
var ErrUnknownDriver = errors.New("unknown storage driver")

// Config configures storage.
//
// If Driver is empty or "none", nothing is persisted.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Backend persists the two bump collections. Loads on a fresh backend return
// empty slices and a nil error.
type Backend interface {
	LoadOneTime(ctx context.Context) ([]bump.OneTime, error)
	LoadRecurring(ctx context.Context) ([]bump.Recurring, error)

	// Replace* overwrite the whole collection with the given contents.
	ReplaceOneTime(ctx context.Context, items []bump.OneTime) error
	ReplaceRecurring(ctx context.Context, items []bump.Recurring) error

	Close() error
}

// ChatDeleter is implemented by backends that can drop one chat's rows
// without rewriting everything.
type ChatDeleter interface {
	DeleteChat(ctx context.Context, chatID int64) (int, error)
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"bumpbot/internal/bump"
	logx "bumpbot/pkg/logx"
)

// fileBackend keeps both collections in one JSON snapshot:
//
//	{"one_time": [...], "recurring": [...]}
//
// Every Replace rewrites the snapshot through <path>.tmp + rename so a crash
// mid-write leaves the previous snapshot intact.
type fileBackend struct {
	log  logx.Logger
	path string

	mu   sync.Mutex
	snap fileSnapshot
}

type fileSnapshot struct {
	OneTime   []bump.OneTime   `json:"one_time"`
	Recurring []bump.Recurring `json:"recurring"`
}

func openFile(cfg Config, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	b := &fileBackend{log: log, path: path}
	snap, err := readSnapshot(path)
	switch {
	case err == nil:
		b.snap = snap
	case errors.Is(err, os.ErrNotExist):
		// First run.
	default:
		// Malformed or unreadable: start empty but keep the old bytes around
		// for inspection instead of silently overwriting them.
		aside := path + ".corrupt"
		if rerr := os.Rename(path, aside); rerr != nil {
			log.Warn("schedule snapshot unreadable; starting empty", logx.Err(err), logx.Any("rename_err", rerr))
		} else {
			log.Warn("schedule snapshot unreadable; starting empty", logx.Err(err), logx.String("moved_to", aside))
		}
	}
	return b, nil
}

func readSnapshot(path string) (fileSnapshot, error) {
	var snap fileSnapshot
	raw, err := os.ReadFile(path)
	if err != nil {
		return snap, err
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return snap, nil
	}
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fileSnapshot{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return snap, nil
}

func (b *fileBackend) LoadOneTime(ctx context.Context) ([]bump.OneTime, error) {
	_ = ctx
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bump.OneTime(nil), b.snap.OneTime...), nil
}

func (b *fileBackend) LoadRecurring(ctx context.Context) ([]bump.Recurring, error) {
	_ = ctx
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]bump.Recurring(nil), b.snap.Recurring...), nil
}

func (b *fileBackend) ReplaceOneTime(ctx context.Context, items []bump.OneTime) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.snap
	next.OneTime = append([]bump.OneTime(nil), items...)
	return b.commitLocked(ctx, next)
}

func (b *fileBackend) ReplaceRecurring(ctx context.Context, items []bump.Recurring) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.snap
	next.Recurring = append([]bump.Recurring(nil), items...)
	return b.commitLocked(ctx, next)
}

func (b *fileBackend) DeleteChat(ctx context.Context, chatID int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var next fileSnapshot
	n := 0
	for _, o := range b.snap.OneTime {
		if o.ChatID == chatID {
			n++
			continue
		}
		next.OneTime = append(next.OneTime, o)
	}
	for _, r := range b.snap.Recurring {
		if r.ChatID == chatID {
			n++
			continue
		}
		next.Recurring = append(next.Recurring, r)
	}
	if n == 0 {
		return 0, nil
	}
	return n, b.commitLocked(ctx, next)
}

// commitLocked writes next to disk and only then adopts it, so a failed write
// leaves the cached snapshot matching what is on disk.
func (b *fileBackend) commitLocked(ctx context.Context, next fileSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if next.OneTime == nil {
		next.OneTime = []bump.OneTime{}
	}
	if next.Recurring == nil {
		next.Recurring = []bump.Recurring{}
	}
	raw, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}

	tmp := b.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return err
	}
	b.snap = next
	return nil
}

func (b *fileBackend) Close() error { return nil }

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"bumpbot/internal/bump"
	logx "bumpbot/pkg/logx"
)

func sampleOneTime() []bump.OneTime {
	return []bump.OneTime{{ChatID: -100, FiresAt: 2800}, {ChatID: 42, FiresAt: 1500}}
}

func sampleRecurring() []bump.Recurring {
	return []bump.Recurring{
		{ChatID: -100, IntervalSeconds: 7200, NextFiresAt: 8200, Description: "every 2 hours"},
		{ChatID: 42, IntervalSeconds: 60, NextFiresAt: 1060, Description: "every 1 minute"},
	}
}

func roundTrip(t *testing.T, open func() Backend) {
	t.Helper()
	ctx := context.Background()

	b := open()
	if ot, err := b.LoadOneTime(ctx); err != nil || len(ot) != 0 {
		t.Fatalf("fresh LoadOneTime = %v, %v", ot, err)
	}
	if err := b.ReplaceOneTime(ctx, sampleOneTime()); err != nil {
		t.Fatalf("ReplaceOneTime: %v", err)
	}
	if err := b.ReplaceRecurring(ctx, sampleRecurring()); err != nil {
		t.Fatalf("ReplaceRecurring: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b = open()
	defer b.Close()
	ot, err := b.LoadOneTime(ctx)
	if err != nil {
		t.Fatalf("LoadOneTime: %v", err)
	}
	if !reflect.DeepEqual(ot, sampleOneTime()) {
		t.Fatalf("one-time = %+v", ot)
	}
	rec, err := b.LoadRecurring(ctx)
	if err != nil {
		t.Fatalf("LoadRecurring: %v", err)
	}
	if !reflect.DeepEqual(rec, sampleRecurring()) {
		t.Fatalf("recurring = %+v", rec)
	}

	del, ok := b.(ChatDeleter)
	if !ok {
		t.Fatal("backend does not implement ChatDeleter")
	}
	n, err := del.DeleteChat(ctx, -100)
	if err != nil || n != 2 {
		t.Fatalf("DeleteChat = %d, %v", n, err)
	}
	ot, _ = b.LoadOneTime(ctx)
	rec, _ = b.LoadRecurring(ctx)
	if len(ot) != 1 || ot[0].ChatID != 42 || len(rec) != 1 || rec[0].ChatID != 42 {
		t.Fatalf("after DeleteChat: %+v %+v", ot, rec)
	}
}

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "bumps.json")
	roundTrip(t, func() Backend {
		b, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return b
	})
}

func TestSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bumps.db")
	roundTrip(t, func() Backend {
		b, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		return b
	})
}

func TestFileMalformedStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bumps.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	b, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer b.Close()
	ot, err := b.LoadOneTime(context.Background())
	if err != nil || len(ot) != 0 {
		t.Fatalf("LoadOneTime = %v, %v", ot, err)
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Fatalf("malformed snapshot not moved aside: %v", err)
	}
}

func TestReplaceWithEmptyClears(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bumps.json")
	b, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	_ = b.ReplaceOneTime(ctx, sampleOneTime())
	if err := b.ReplaceOneTime(ctx, nil); err != nil {
		t.Fatal(err)
	}
	b2, _ := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if ot, _ := b2.LoadOneTime(ctx); len(ot) != 0 {
		t.Fatalf("expected cleared collection, got %+v", ot)
	}
}

func TestOpenDrivers(t *testing.T) {
	for _, d := range []string{"", "none", "NONE"} {
		b, err := Open(Config{Driver: d}, logx.Nop())
		if err != nil || b == nil {
			t.Fatalf("Open(%q) = %v, %v", d, b, err)
		}
		if err := b.ReplaceOneTime(context.Background(), sampleOneTime()); err != nil {
			t.Fatalf("nop replace: %v", err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); !errors.Is(err, ErrUnknownDriver) {
		t.Fatalf("err = %v, want ErrUnknownDriver", err)
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("file driver without path should fail")
	}
}

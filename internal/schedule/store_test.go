package schedule

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"reflect"
	"sync"
	"testing"

	"bumpbot/internal/bump"
	"bumpbot/internal/storage"
	logx "bumpbot/pkg/logx"
)

type memBackend struct {
	mu        sync.Mutex
	oneTime   []bump.OneTime
	recurring []bump.Recurring
	fail      bool
	loadErr   error
	writes    int
}

func (m *memBackend) LoadOneTime(context.Context) ([]bump.OneTime, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]bump.OneTime(nil), m.oneTime...), nil
}

func (m *memBackend) LoadRecurring(context.Context) ([]bump.Recurring, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]bump.Recurring(nil), m.recurring...), nil
}

func (m *memBackend) ReplaceOneTime(_ context.Context, items []bump.OneTime) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.writes++
	m.oneTime = append([]bump.OneTime(nil), items...)
	return nil
}

func (m *memBackend) ReplaceRecurring(_ context.Context, items []bump.Recurring) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("disk full")
	}
	m.writes++
	m.recurring = append([]bump.Recurring(nil), items...)
	return nil
}

func (m *memBackend) Close() error { return nil }

func (m *memBackend) setFail(v bool) {
	m.mu.Lock()
	m.fail = v
	m.mu.Unlock()
}

func collect(got *[]Due) func(context.Context, []Due) {
	return func(_ context.Context, due []Due) { *got = append(*got, due...) }
}

func TestOneTimeFiresOnceAndIsRemoved(t *testing.T) {
	ctx := context.Background()
	be := &memBackend{}
	s := New(be, logx.Nop())

	b, err := s.AddOneTime(ctx, -100, 1800, 1000)
	if err != nil {
		t.Fatal(err)
	}
	if b.FiresAt != 2800 {
		t.Fatalf("FiresAt = %d, want 2800", b.FiresAt)
	}
	if len(be.oneTime) != 1 {
		t.Fatalf("not persisted: %+v", be.oneTime)
	}

	var sent []Due
	if res := s.Dispatch(ctx, 2799, collect(&sent)); res.Total() != 0 || len(sent) != 0 {
		t.Fatalf("tick 2799 fired: %+v", sent)
	}
	res := s.Dispatch(ctx, 2800, collect(&sent))
	if res.OneTime != 1 || len(sent) != 1 || sent[0].ChatID != -100 || sent[0].Recurring {
		t.Fatalf("tick 2800: res=%+v sent=%+v", res, sent)
	}
	if ot, _ := s.Snapshot(); len(ot) != 0 {
		t.Fatalf("one-time not removed: %+v", ot)
	}
	if len(be.oneTime) != 0 {
		t.Fatalf("removal not persisted: %+v", be.oneTime)
	}
	if res := s.Dispatch(ctx, 2801, collect(&sent)); res.Total() != 0 {
		t.Fatal("fired twice")
	}
}

func TestRecurringReschedulesFromTickTime(t *testing.T) {
	ctx := context.Background()
	s := New(&memBackend{}, logx.Nop())
	if _, err := s.AddRecurring(ctx, 7, 60, 1000, "every 1 minute"); err != nil {
		t.Fatal(err)
	}

	var sent []Due
	// Late tick: missed intervals are skipped, not replayed.
	res := s.Dispatch(ctx, 1300, collect(&sent))
	if res.Recurring != 1 || len(sent) != 1 || !sent[0].Recurring {
		t.Fatalf("res=%+v sent=%+v", res, sent)
	}
	_, rec := s.Snapshot()
	if rec[0].NextFiresAt != 1360 {
		t.Fatalf("NextFiresAt = %d, want 1360", rec[0].NextFiresAt)
	}
	if res := s.Dispatch(ctx, 1359, nil); res.Total() != 0 {
		t.Fatal("fired before next interval")
	}
}

func TestStopRemovesOnlyThatChat(t *testing.T) {
	ctx := context.Background()
	s := New(&memBackend{}, logx.Nop())
	_, _ = s.AddOneTime(ctx, 1, 10, 0)
	_, _ = s.AddOneTime(ctx, 2, 10, 0)
	_, _ = s.AddRecurring(ctx, 1, 60, 0, "every 1 minute")
	_, _ = s.AddRecurring(ctx, 1, 120, 0, "every 2 minutes")

	if n := s.Stop(ctx, 1); n != 3 {
		t.Fatalf("Stop = %d, want 3", n)
	}
	if n := s.Stop(ctx, 1); n != 0 {
		t.Fatalf("second Stop = %d, want 0", n)
	}
	ot, rec := s.Snapshot()
	if len(ot) != 1 || ot[0].ChatID != 2 || len(rec) != 0 {
		t.Fatalf("after stop: %+v %+v", ot, rec)
	}
}

func TestStopUsesChatDeleter(t *testing.T) {
	ctx := context.Background()
	be, err := storage.Open(storage.Config{Driver: "sqlite", Path: filepath.Join(t.TempDir(), "b.db")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer be.Close()

	s := New(be, logx.Nop())
	_, _ = s.AddOneTime(ctx, 1, 10, 0)
	_, _ = s.AddOneTime(ctx, 2, 10, 0)
	if n := s.Stop(ctx, 1); n != 1 {
		t.Fatalf("Stop = %d", n)
	}
	ot, err := be.LoadOneTime(ctx)
	if err != nil || len(ot) != 1 || ot[0].ChatID != 2 {
		t.Fatalf("backend after stop: %+v %v", ot, err)
	}
}

func TestForChatSortsOneTime(t *testing.T) {
	ctx := context.Background()
	s := New(nil, logx.Nop())
	_, _ = s.AddOneTime(ctx, 1, 300, 0)
	_, _ = s.AddOneTime(ctx, 1, 100, 0)
	_, _ = s.AddOneTime(ctx, 9, 50, 0)
	_, _ = s.AddOneTime(ctx, 1, 200, 0)

	ot, rec := s.ForChat(1)
	if len(rec) != 0 || len(ot) != 3 {
		t.Fatalf("ForChat = %+v %+v", ot, rec)
	}
	for i, want := range []int64{100, 200, 300} {
		if ot[i].FiresAt != want {
			t.Fatalf("ot[%d].FiresAt = %d, want %d", i, ot[i].FiresAt, want)
		}
	}
}

func TestAddRejectsNonPositiveDelay(t *testing.T) {
	s := New(nil, logx.Nop())
	if _, err := s.AddOneTime(context.Background(), 1, 0, 0); !errors.Is(err, ErrInvalidDelay) {
		t.Fatalf("err = %v", err)
	}
	if _, err := s.AddRecurring(context.Background(), 1, -5, 0, ""); !errors.Is(err, ErrInvalidDelay) {
		t.Fatalf("err = %v", err)
	}
}

func TestAddRejectsOverflowingDelay(t *testing.T) {
	ctx := context.Background()
	s := New(nil, logx.Nop())
	const now = 1_700_000_000
	huge := int64(math.MaxInt64 - now + 1)
	if _, err := s.AddOneTime(ctx, 1, huge, now); !errors.Is(err, ErrInvalidDelay) {
		t.Fatalf("one-time err = %v", err)
	}
	if _, err := s.AddRecurring(ctx, 1, huge, now, ""); !errors.Is(err, ErrInvalidDelay) {
		t.Fatalf("recurring err = %v", err)
	}
	if ot, rec := s.Snapshot(); len(ot)+len(rec) != 0 {
		t.Fatalf("store mutated: %+v %+v", ot, rec)
	}
}

func TestRescheduleNeverMovesBackward(t *testing.T) {
	ctx := context.Background()
	be := &memBackend{recurring: []bump.Recurring{{ChatID: 1, IntervalSeconds: math.MaxInt64 - 10, NextFiresAt: 100}}}
	s := New(be, logx.Nop())
	s.Load(ctx)

	if res := s.Dispatch(ctx, 1000, nil); res.Recurring != 1 {
		t.Fatalf("res = %+v", res)
	}
	_, rec := s.Snapshot()
	if rec[0].NextFiresAt != math.MaxInt64 {
		t.Fatalf("NextFiresAt = %d, want saturation", rec[0].NextFiresAt)
	}
	for now := int64(1001); now < 1004; now++ {
		if res := s.Dispatch(ctx, now, nil); res.Total() != 0 {
			t.Fatalf("fired again at %d", now)
		}
	}
}

func TestPersistFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	be := &memBackend{}
	s := New(be, logx.Nop())

	be.setFail(true)
	_, _ = s.AddOneTime(ctx, 1, 100, 0)
	if ot, _ := s.Snapshot(); len(ot) != 1 {
		t.Fatal("memory must stay authoritative when persistence fails")
	}

	be.setFail(false)
	// An idle tick reconciles dirty collections.
	s.Dispatch(ctx, 1, nil)
	if len(be.oneTime) != 1 || be.oneTime[0].FiresAt != 100 {
		t.Fatalf("dirty collection not reconciled: %+v", be.oneTime)
	}
}

func TestRehydrationRoundTrip(t *testing.T) {
	ctx := context.Background()
	be := &memBackend{}
	s := New(be, logx.Nop())
	_, _ = s.AddOneTime(ctx, 5, 60, 1000)
	_, _ = s.AddRecurring(ctx, 6, 3600, 1000, "every 1 hour")
	wantOT, wantRec := s.Snapshot()

	s2 := New(be, logx.Nop())
	if n1, n2 := s2.Load(ctx); n1 != 1 || n2 != 1 {
		t.Fatalf("Load = %d, %d", n1, n2)
	}
	gotOT, gotRec := s2.Snapshot()
	if !reflect.DeepEqual(gotOT, wantOT) || !reflect.DeepEqual(gotRec, wantRec) {
		t.Fatalf("rehydrated %+v %+v, want %+v %+v", gotOT, gotRec, wantOT, wantRec)
	}

	// Overdue entries fire on the first tick after restart.
	var sent []Due
	if res := s2.Dispatch(ctx, 999999, collect(&sent)); res.Total() != 2 {
		t.Fatalf("overdue tick = %+v", res)
	}
}

func TestLoadToleratesBrokenStorage(t *testing.T) {
	be := &memBackend{loadErr: errors.New("corrupt")}
	s := New(be, logx.Nop())
	if n1, n2 := s.Load(context.Background()); n1 != 0 || n2 != 0 {
		t.Fatalf("Load = %d, %d", n1, n2)
	}

	be2 := &memBackend{recurring: []bump.Recurring{{ChatID: 1, IntervalSeconds: 0}, {ChatID: 2, IntervalSeconds: 5}}}
	s2 := New(be2, logx.Nop())
	if _, n := s2.Load(context.Background()); n != 1 {
		t.Fatalf("invalid recurring entry kept, n=%d", n)
	}
}

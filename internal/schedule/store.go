// Package schedule owns the in-memory bump schedule. Every read-modify-write
// (commands and dispatch ticks) runs under one mutex, and each committed
// change is mirrored to a storage.Backend.
package schedule

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"bumpbot/internal/bump"
	"bumpbot/internal/storage"
	logx "bumpbot/pkg/logx"
)

var ErrInvalidDelay = errors.New("delay must be positive and fit the clock")

const defaultPersistTimeout = 5 * time.Second

// Due is one entry selected by a tick.
type Due struct {
	ChatID    int64
	Recurring bool
}

// TickResult summarises one Dispatch call.
type TickResult struct {
	OneTime   int
	Recurring int
}

func (r TickResult) Total() int { return r.OneTime + r.Recurring }

type Store struct {
	backend storage.Backend
	log     logx.Logger

	persistTimeout time.Duration

	mu        sync.Mutex
	oneTime   []bump.OneTime
	recurring []bump.Recurring

	// Set when a persist failed; the next persist retries the whole collection.
	dirtyOneTime   bool
	dirtyRecurring bool
}

// New returns an empty store. Call Load before the first tick.
func New(backend storage.Backend, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Store{
		backend:        backend,
		log:            log.With(logx.String("comp", "schedule")),
		persistTimeout: defaultPersistTimeout,
	}
}

// Load replaces the in-memory schedule with what the backend holds.
// Unreadable collections are logged and treated as empty; overdue entries are
// kept so the next tick fires them.
func (s *Store) Load(ctx context.Context) (oneTime, recurring int) {
	var (
		ot  []bump.OneTime
		rec []bump.Recurring
	)
	if s.backend != nil {
		var err error
		if ot, err = s.backend.LoadOneTime(ctx); err != nil {
			s.log.Warn("load one-time bumps failed; starting empty", logx.Err(err))
			ot = nil
		}
		if rec, err = s.backend.LoadRecurring(ctx); err != nil {
			s.log.Warn("load recurring bumps failed; starting empty", logx.Err(err))
			rec = nil
		}
	}

	valid := rec[:0]
	for _, r := range rec {
		if r.IntervalSeconds <= 0 {
			s.log.Warn("dropping recurring bump with invalid interval",
				logx.Int64("chat_id", r.ChatID), logx.Int64("interval", r.IntervalSeconds))
			continue
		}
		valid = append(valid, r)
	}

	s.mu.Lock()
	s.oneTime = ot
	s.recurring = valid
	s.dirtyOneTime, s.dirtyRecurring = false, false
	s.mu.Unlock()

	s.log.Info("schedule loaded", logx.Int("one_time", len(ot)), logx.Int("recurring", len(valid)))
	return len(ot), len(valid)
}

// AddOneTime schedules a bump delaySeconds after now.
func (s *Store) AddOneTime(ctx context.Context, chatID, delaySeconds, now int64) (bump.OneTime, error) {
	if !validDelay(delaySeconds, now) {
		return bump.OneTime{}, ErrInvalidDelay
	}
	b := bump.OneTime{ChatID: chatID, FiresAt: now + delaySeconds}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.oneTime = append(s.oneTime, b)
	s.persistLocked(ctx, true, false)
	return b, nil
}

// AddRecurring schedules a bump every intervalSeconds, first firing one
// interval after now.
func (s *Store) AddRecurring(ctx context.Context, chatID, intervalSeconds, now int64, description string) (bump.Recurring, error) {
	if !validDelay(intervalSeconds, now) {
		return bump.Recurring{}, ErrInvalidDelay
	}
	b := bump.Recurring{
		ChatID:          chatID,
		IntervalSeconds: intervalSeconds,
		NextFiresAt:     now + intervalSeconds,
		Description:     description,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recurring = append(s.recurring, b)
	s.persistLocked(ctx, false, true)
	return b, nil
}

// Stop removes every bump of chatID from both collections and returns how
// many were removed.
func (s *Store) Stop(ctx context.Context, chatID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	nOne, nRec := 0, 0
	ot := s.oneTime[:0]
	for _, o := range s.oneTime {
		if o.ChatID == chatID {
			nOne++
			continue
		}
		ot = append(ot, o)
	}
	s.oneTime = ot

	rec := s.recurring[:0]
	for _, r := range s.recurring {
		if r.ChatID == chatID {
			nRec++
			continue
		}
		rec = append(rec, r)
	}
	s.recurring = rec

	if nOne+nRec == 0 {
		return 0
	}

	// A clean backend can drop the chat's rows directly.
	if del, ok := s.backend.(storage.ChatDeleter); ok && !s.dirtyOneTime && !s.dirtyRecurring {
		pctx, cancel := s.persistContext(ctx)
		defer cancel()
		_, err := del.DeleteChat(pctx, chatID)
		if err == nil {
			return nOne + nRec
		}
		s.log.Warn("delete chat failed; rewriting collections", logx.Int64("chat_id", chatID), logx.Err(err))
	}
	s.persistLocked(ctx, nOne > 0, nRec > 0)
	return nOne + nRec
}

// ForChat returns copies of one chat's bumps: one-time sorted by FiresAt,
// recurring in stored order.
func (s *Store) ForChat(chatID int64) ([]bump.OneTime, []bump.Recurring) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ot []bump.OneTime
	for _, o := range s.oneTime {
		if o.ChatID == chatID {
			ot = append(ot, o)
		}
	}
	var rec []bump.Recurring
	for _, r := range s.recurring {
		if r.ChatID == chatID {
			rec = append(rec, r)
		}
	}
	sort.SliceStable(ot, func(i, j int) bool { return ot[i].FiresAt < ot[j].FiresAt })
	return ot, rec
}

// Snapshot returns copies of both collections.
func (s *Store) Snapshot() ([]bump.OneTime, []bump.Recurring) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bump.OneTime(nil), s.oneTime...), append([]bump.Recurring(nil), s.recurring...)
}

// Dispatch runs one tick at now. Every due entry is handed to deliver (which
// must return once all sends finished or gave up); then one-time entries are
// removed, recurring entries move to now + interval, and the changed
// collections are persisted. The lock is held throughout, so deliver must be
// bounded and must not call back into the store.
func (s *Store) Dispatch(ctx context.Context, now int64, deliver func(ctx context.Context, due []Due)) TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Due
	var res TickResult
	for _, o := range s.oneTime {
		if o.Due(now) {
			due = append(due, Due{ChatID: o.ChatID})
			res.OneTime++
		}
	}
	for _, r := range s.recurring {
		if r.Due(now) {
			due = append(due, Due{ChatID: r.ChatID, Recurring: true})
			res.Recurring++
		}
	}
	if len(due) == 0 {
		if s.dirtyOneTime || s.dirtyRecurring {
			s.persistLocked(ctx, false, false)
		}
		return res
	}

	if deliver != nil {
		deliver(ctx, due)
	}

	if res.OneTime > 0 {
		kept := s.oneTime[:0]
		for _, o := range s.oneTime {
			if !o.Due(now) {
				kept = append(kept, o)
			}
		}
		s.oneTime = kept
	}
	for i := range s.recurring {
		if s.recurring[i].Due(now) {
			s.recurring[i].NextFiresAt = addSeconds(now, s.recurring[i].IntervalSeconds)
		}
	}
	s.persistLocked(ctx, res.OneTime > 0, res.Recurring > 0)
	return res
}

// validDelay reports whether d is positive and now+d does not overflow.
func validDelay(d, now int64) bool {
	return d > 0 && now <= math.MaxInt64-d
}

// addSeconds returns now+d, saturating at math.MaxInt64 so a reschedule never
// moves backward.
func addSeconds(now, d int64) int64 {
	if now > math.MaxInt64-d {
		return math.MaxInt64
	}
	return now + d
}

func (s *Store) persistContext(ctx context.Context) (context.Context, context.CancelFunc) {
	// Shutdown must not cancel a write that already started.
	return context.WithTimeout(context.WithoutCancel(ctx), s.persistTimeout)
}

// persistLocked writes the requested collections plus any left dirty by an
// earlier failure. Errors are logged; memory stays authoritative.
func (s *Store) persistLocked(ctx context.Context, oneTime, recurring bool) {
	if s.backend == nil {
		return
	}
	s.dirtyOneTime = s.dirtyOneTime || oneTime
	s.dirtyRecurring = s.dirtyRecurring || recurring

	pctx, cancel := s.persistContext(ctx)
	defer cancel()

	if s.dirtyOneTime {
		if err := s.backend.ReplaceOneTime(pctx, s.oneTime); err != nil {
			s.log.Error("persist one-time bumps failed", logx.Err(err), logx.Int("count", len(s.oneTime)))
		} else {
			s.dirtyOneTime = false
		}
	}
	if s.dirtyRecurring {
		if err := s.backend.ReplaceRecurring(pctx, s.recurring); err != nil {
			s.log.Error("persist recurring bumps failed", logx.Err(err), logx.Int("count", len(s.recurring)))
		} else {
			s.dirtyRecurring = false
		}
	}
}

package commands

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"bumpbot/internal/bump"
	"bumpbot/internal/schedule"
	"bumpbot/internal/transport"
	logx "bumpbot/pkg/logx"
)

type sentMsg struct {
	to   transport.ChatTarget
	text string
	opt  *transport.SendOptions
}

type recSender struct {
	mu   sync.Mutex
	msgs []sentMsg
	ch   chan struct{}
}

func newRecSender() *recSender { return &recSender{ch: make(chan struct{}, 64)} }

func (r *recSender) SendText(_ context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	r.mu.Lock()
	r.msgs = append(r.msgs, sentMsg{to: to, text: text, opt: opt})
	r.mu.Unlock()
	r.ch <- struct{}{}
	return nil
}

func (r *recSender) wait(t *testing.T, n int) []sentMsg {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.ch:
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for reply %d/%d", i+1, n)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sentMsg(nil), r.msgs...)
}

func TestExecuteEndToEnd(t *testing.T) {
	ctx := context.Background()
	st := schedule.New(nil, logx.Nop())
	ex := NewExecutor(st)
	p := bump.NewParser("BumppBot")

	r := ex.Execute(ctx, p.Parse("@BumppBot bump this in 30 minutes"), -100, 1000, "BumppBot")
	if r.Text != "✅ Bump scheduled in 30 minutes." {
		t.Fatalf("reply = %q", r.Text)
	}
	ot, _ := st.Snapshot()
	if len(ot) != 1 || ot[0].FiresAt != 2800 || ot[0].ChatID != -100 {
		t.Fatalf("store = %+v", ot)
	}

	r = ex.Execute(ctx, p.Parse("@BumppBot bump this every 2 hours"), -100, 1000, "BumppBot")
	if r.Text != "✅ Recurring bump scheduled every 2 hours." {
		t.Fatalf("reply = %q", r.Text)
	}
	_, rec := st.Snapshot()
	if len(rec) != 1 || rec[0].Description != "every 2 hours" || rec[0].NextFiresAt != 8200 {
		t.Fatalf("recurring = %+v", rec)
	}

	r = ex.Execute(ctx, p.Parse("@BumppBot show queue"), -100, 1000, "BumppBot")
	want := "📆 One-time bumps (1):\n1. In 30 minutes\n\n🔄 Recurring bumps (1):\n1. every 2 hours (next in 2 hours)"
	if r.Text != want {
		t.Fatalf("queue = %q", r.Text)
	}

	r = ex.Execute(ctx, p.Parse("@BumppBot stop"), -100, 1000, "BumppBot")
	if r.Text != "🛑 Stopped 2 bump(s) in this chat." {
		t.Fatalf("stop = %q", r.Text)
	}
	r = ex.Execute(ctx, p.Parse("@BumppBot show queue"), -100, 1000, "BumppBot")
	if r.Text != "No bumps scheduled." {
		t.Fatalf("empty queue = %q", r.Text)
	}
}

func TestExecuteTemplates(t *testing.T) {
	ctx := context.Background()
	ex := NewExecutor(schedule.New(nil, logx.Nop()))

	if r := ex.Execute(ctx, bump.Command{Kind: bump.KindHi}, 1, 0, "b"); r.Text != "Hello, I’m alive!" {
		t.Fatalf("hi = %q", r.Text)
	}
	r := ex.Execute(ctx, bump.Command{Kind: bump.KindInfo}, 1, 0, "b")
	if r.Opt == nil || r.Opt.ParseMode != "HTML" || !r.Opt.DisablePreview {
		t.Fatalf("info options = %+v", r.Opt)
	}
	for _, k := range []bump.Kind{bump.KindHelp, bump.KindFallback, bump.KindInvalid} {
		if r := ex.Execute(ctx, bump.Command{Kind: k}, 1, 0, "b"); !strings.HasPrefix(r.Text, "Here's what I can do:") {
			t.Fatalf("%v reply = %q", k, r.Text)
		}
	}
	if r := ex.Execute(ctx, bump.Command{Kind: bump.KindNone}, 1, 0, "b"); r.Text != "" {
		t.Fatalf("none reply = %q", r.Text)
	}
}

func TestInvalidBumpDoesNotMutate(t *testing.T) {
	st := schedule.New(nil, logx.Nop())
	ex := NewExecutor(st)
	cmd := bump.NewParser("b").Parse("@b bump this in 3 fortnights")
	ex.Execute(context.Background(), cmd, 1, 0, "b")
	if ot, rec := st.Snapshot(); len(ot)+len(rec) != 0 {
		t.Fatal("invalid command mutated the store")
	}
}

func TestHugeDelayIsRejected(t *testing.T) {
	st := schedule.New(nil, logx.Nop())
	ex := NewExecutor(st)
	p := bump.NewParser("b")
	for _, text := range []string{
		"@b bump this in 15250284452471 weeks",
		"@b bump this every 15250284452471 weeks",
	} {
		r := ex.Execute(context.Background(), p.Parse(text), 1, 1_700_000_000, "b")
		if !strings.HasPrefix(r.Text, "Here's what I can do:") {
			t.Fatalf("%q reply = %q", text, r.Text)
		}
	}
	if ot, rec := st.Snapshot(); len(ot)+len(rec) != 0 {
		t.Fatalf("store = %+v %+v", ot, rec)
	}
}

func TestManagerRoutesAndReplies(t *testing.T) {
	start := time.Unix(5000, 0)
	st := schedule.New(nil, logx.Nop())
	snd := newRecSender()
	m := NewManager(Config{Workers: 2, IgnoreStale: true}, NewExecutor(st), snd, "@BumppBot", logx.Nop(),
		WithManagerClock(func() time.Time { return start }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan transport.Update, 8)
	done := make(chan error, 1)
	go func() { done <- m.DispatchLoop(ctx, updates) }()

	// Stale, unmentioned and mentioned messages.
	updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: 1, Text: "@BumppBot stop", Date: start.Add(-time.Minute)}}
	updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: 1, Text: "hello all", Date: start}}
	updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: 1, ThreadID: 9, Text: "@BumppBot bump this in 30 minutes", Date: start}}

	msgs := snd.wait(t, 1)
	if len(msgs) != 1 || msgs[0].text != "✅ Bump scheduled in 30 minutes." || msgs[0].to.ThreadID != 9 {
		t.Fatalf("replies = %+v", msgs)
	}
	ot, _ := st.Snapshot()
	if len(ot) != 1 || ot[0].FiresAt != 5000+1800 {
		t.Fatalf("store = %+v", ot)
	}

	updates <- transport.Update{Kind: transport.UpdateJoined, Message: &transport.Message{ChatID: 2}}
	msgs = snd.wait(t, 1)
	last := msgs[len(msgs)-1]
	if last.to.ChatID != 2 || last.opt == nil || last.opt.ParseMode != "HTML" || !strings.Contains(last.text, "@BumppBot") {
		t.Fatalf("welcome = %+v", last)
	}
	if !strings.Contains(last.text, "<b>BumppBot</b>") {
		t.Fatalf("welcome lost the handle casing: %q", last.text)
	}

	updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: 3, Text: "@bumppbot help", Date: start}}
	msgs = snd.wait(t, 1)
	if help := msgs[len(msgs)-1].text; !strings.Contains(help, "@BumppBot bump this in") || strings.Contains(help, "@bumppbot") {
		t.Fatalf("help = %q", help)
	}

	close(updates)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("DispatchLoop did not return")
	}
}

func TestManagerKeepsPerChatOrder(t *testing.T) {
	start := time.Unix(5000, 0)
	st := schedule.New(nil, logx.Nop())
	snd := newRecSender()
	m := NewManager(Config{Workers: 4, QueueSize: 64}, NewExecutor(st), snd, "b", logx.Nop(),
		WithManagerClock(func() time.Time { return start }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	const chats = 8
	updates := make(chan transport.Update, 2*chats)
	go func() { _ = m.DispatchLoop(ctx, updates) }()

	for c := int64(1); c <= chats; c++ {
		updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: -c, Text: "@b bump this in 30 minutes", Date: start}}
		updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: -c, Text: "@b stop", Date: start}}
	}

	perChat := map[int64][]string{}
	for _, msg := range snd.wait(t, 2*chats) {
		perChat[msg.to.ChatID] = append(perChat[msg.to.ChatID], msg.text)
	}
	for c := int64(1); c <= chats; c++ {
		got := perChat[-c]
		if len(got) != 2 || got[0] != "✅ Bump scheduled in 30 minutes." || got[1] != "🛑 Stopped 1 bump(s) in this chat." {
			t.Fatalf("chat %d replies = %q", -c, got)
		}
	}
	if ot, _ := st.Snapshot(); len(ot) != 0 {
		t.Fatalf("store = %+v", ot)
	}
}

func TestManagerStaleFilterCanBeDisabled(t *testing.T) {
	start := time.Unix(5000, 0)
	snd := newRecSender()
	m := NewManager(Config{Workers: 1, IgnoreStale: false}, NewExecutor(schedule.New(nil, logx.Nop())), snd, "b", logx.Nop(),
		WithManagerClock(func() time.Time { return start }))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	updates := make(chan transport.Update, 1)
	go func() { _ = m.DispatchLoop(ctx, updates) }()

	updates <- transport.Update{Kind: transport.UpdateMessage, Message: &transport.Message{ChatID: 1, Text: "@b hi", Date: start.Add(-time.Hour)}}
	if msgs := snd.wait(t, 1); msgs[0].text != "Hello, I’m alive!" {
		t.Fatalf("reply = %q", msgs[0].text)
	}
}

func TestMiddlewareRecoversPanic(t *testing.T) {
	h := Chain(func(context.Context, *Request) error { panic("boom") }, MWPanicRecover(logx.Nop()))
	if err := h(context.Background(), &Request{}); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}
}

func TestMiddlewareTimeout(t *testing.T) {
	h := Chain(func(ctx context.Context, _ *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}, MWTimeout(10*time.Millisecond))
	if err := h(context.Background(), &Request{}); err == nil {
		t.Fatal("expected deadline error")
	}
}

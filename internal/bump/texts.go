package bump

import (
	"fmt"
	"sort"
	"strings"

	"bumpbot/pkg/tgui"
)

// Fixed replies.
const (
	HiText      = "Hello, I’m alive!"
	NoBumpsText = "No bumps scheduled."
)

// WelcomeText is sent when the bot joins a chat and for info/about.
// It is HTML; send it with link previews disabled.
func WelcomeText(username string) string {
	u := strings.TrimPrefix(username, "@")
	return tgui.Lines(
		tgui.Raw("👋 Hi there! I'm ")+tgui.B(u)+tgui.Esc(", a handy bot that helps you schedule bumps in your chats.\n"),
		tgui.Esc("🤖 I can schedule both one-time and recurring bumps, helping you keep conversations active without manual intervention.\n"),
		tgui.Esc("🧪 Try me out by saying:"),
		tgui.Esc(`• "@`+u+` bump this in 30 minutes" (one-time bump)`),
		tgui.Esc(`• "@`+u+` bump this every 2 hours" (recurring bump)`+"\n"),
		tgui.Raw("Say ")+tgui.Code("@"+u+" help")+tgui.Raw(" for the full command list, or open ")+tgui.Link("t.me/"+u, "https://t.me/"+u)+tgui.Raw("."),
	).String()
}

// HelpText lists the command grammar. It is also the fallback reply.
func HelpText(username string) string {
	u := strings.TrimPrefix(username, "@")
	return fmt.Sprintf(`Here's what I can do:
• @%[1]s info/about - Learn about me
• @%[1]s bump this in [number] [unit] - Schedule a one-time bump
• @%[1]s bump this every [number] [unit] - Schedule a recurring bump
  Units: seconds, minutes, hours, days, weeks
  Examples: "bump this in 30 mins" or "bump this every an hour"
• @%[1]s show queue - Show all scheduled bumps
• @%[1]s stop - Cancel all scheduled bumps`, u)
}

// ScheduledOnceText confirms a one-time bump, e.g. "✅ Bump scheduled in 30 minutes.".
func ScheduledOnceText(desc string) string {
	return "✅ Bump scheduled in " + desc + "."
}

// ScheduledEveryText confirms a recurring bump.
func ScheduledEveryText(desc string) string {
	return "✅ Recurring bump scheduled every " + desc + "."
}

// StoppedText reports how many bumps a stop removed.
func StoppedText(n int) string {
	return fmt.Sprintf("🛑 Stopped %d bump(s) in this chat.", n)
}

// EveryDescription is the stored description of a recurring bump.
func EveryDescription(desc string) string { return "every " + desc }

// QueueText renders one chat's queue at now. One-time bumps are listed
// soonest first; recurring bumps keep their stored order.
func QueueText(now int64, once []OneTime, every []Recurring) string {
	if len(once) == 0 && len(every) == 0 {
		return NoBumpsText
	}
	once = append([]OneTime(nil), once...)
	sort.SliceStable(once, func(i, j int) bool { return once[i].FiresAt < once[j].FiresAt })

	var b strings.Builder
	if len(once) > 0 {
		fmt.Fprintf(&b, "📆 One-time bumps (%d):\n", len(once))
		for i, o := range once {
			fmt.Fprintf(&b, "%d. In %s\n", i+1, FormatRemaining(o.FiresAt-now))
		}
	}
	if len(every) > 0 {
		if len(once) > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "🔄 Recurring bumps (%d):\n", len(every))
		for i, r := range every {
			fmt.Fprintf(&b, "%d. %s (next in %s)\n", i+1, r.Description, FormatRemaining(r.NextFiresAt-now))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

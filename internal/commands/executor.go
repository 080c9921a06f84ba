package commands

import (
	"context"

	"bumpbot/internal/bump"
	"bumpbot/internal/schedule"
	"bumpbot/internal/transport"
)

// Reply is what a command sends back to the chat. An empty Text sends nothing.
type Reply struct {
	Text string
	Opt  *transport.SendOptions
}

var htmlNoPreview = &transport.SendOptions{ParseMode: "HTML", DisablePreview: true}

// Executor applies parsed commands to the schedule store and renders replies.
type Executor struct {
	store *schedule.Store
}

func NewExecutor(store *schedule.Store) *Executor {
	return &Executor{store: store}
}

// Execute runs cmd for chatID at now (unix seconds). username is the bot
// handle used in help and welcome texts.
func (e *Executor) Execute(ctx context.Context, cmd bump.Command, chatID, now int64, username string) Reply {
	switch cmd.Kind {
	case bump.KindNone:
		return Reply{}
	case bump.KindHi:
		return Reply{Text: bump.HiText}
	case bump.KindInfo:
		return Welcome(username)
	case bump.KindHelp, bump.KindFallback, bump.KindInvalid:
		return Reply{Text: bump.HelpText(username)}
	case bump.KindOnce:
		if _, err := e.store.AddOneTime(ctx, chatID, cmd.Seconds, now); err != nil {
			return Reply{Text: bump.HelpText(username)}
		}
		return Reply{Text: bump.ScheduledOnceText(cmd.Description())}
	case bump.KindEvery:
		desc := cmd.Description()
		if _, err := e.store.AddRecurring(ctx, chatID, cmd.Seconds, now, bump.EveryDescription(desc)); err != nil {
			return Reply{Text: bump.HelpText(username)}
		}
		return Reply{Text: bump.ScheduledEveryText(desc)}
	case bump.KindShowQueue:
		once, every := e.store.ForChat(chatID)
		return Reply{Text: bump.QueueText(now, once, every)}
	case bump.KindStop:
		return Reply{Text: bump.StoppedText(e.store.Stop(ctx, chatID))}
	default:
		return Reply{Text: bump.HelpText(username)}
	}
}

// Welcome is the greeting sent when the bot is added to a chat.
func Welcome(username string) Reply {
	return Reply{Text: bump.WelcomeText(username), Opt: htmlNoPreview}
}

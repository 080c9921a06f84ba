package transport

import (
	"context"
	"time"
)

type UpdateKind string

const (
	// UpdateMessage is an ordinary text message in a chat the bot is in.
	UpdateMessage UpdateKind = "message"
	// UpdateJoined is emitted once when the bot itself is added to a chat.
	UpdateJoined UpdateKind = "joined"
)

type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
	Date         time.Time // origination time reported by the platform
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Sender delivers text into a chat.
type Sender interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) error
}

type Adapter interface {
	Sender

	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	// Username is the bot's own @handle without the '@'.
	Username() string
}

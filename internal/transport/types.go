package transport

import "context"

// ChatTarget addresses one destination channel (Telegram chat, optionally a
// forum topic thread).
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

func (t ChatTarget) IsZero() bool { return t.ChatID == 0 }

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Notification is one rendered message headed for a sink channel.
type Notification struct {
	Channel string // "sale", "mint", "burn"
	Target  ChatTarget
	Text    string
	Options *SendOptions
}

// Adapter is the outbound messaging port. Implementations must honor ctx
// cancellation on every call.
type Adapter interface {
	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	Stop(ctx context.Context) error
}

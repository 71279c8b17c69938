package render

import (
	"context"

	"nftwatch/internal/reconcile"
	kit "nftwatch/internal/transport"
	logx "nftwatch/pkg/logx"
)

// Notifier is the delivery pipeline the sink feeds.
type Notifier interface {
	Notify(ctx context.Context, n kit.Notification) error
}

// Sink turns accepted events into Telegram notifications. A category whose
// chat id is unset is silently skipped; the event stays recorded either way.
type Sink struct {
	r      *Renderer
	notify Notifier
	log    logx.Logger
}

func NewSink(r *Renderer, notify Notifier, log logx.Logger) *Sink {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sink{r: r, notify: notify, log: log}
}

func (s *Sink) Dispatch(ctx context.Context, n reconcile.Notice) error {
	coll := n.Collection

	var text string
	var chatID int64
	switch n.Category {
	case reconcile.CategorySale:
		chatID = coll.SalesChatID
		if chatID == 0 {
			break
		}
		text = s.r.Sale(ctx, coll, n.Activity)
	case reconcile.CategoryMint:
		chatID = coll.MintChatID
		if chatID == 0 {
			break
		}
		text = s.r.Mint(ctx, coll, n.Activity)
	case reconcile.CategoryBurn:
		chatID = coll.BurnChatID
		if chatID == 0 {
			break
		}
		text = s.r.Burn(ctx, coll, n.Activity)
	}
	if chatID == 0 {
		s.log.Trace("no chat configured for category, skipping",
			logx.String("collection", coll.Name),
			logx.String("category", string(n.Category)))
		return nil
	}

	return s.notify.Notify(ctx, kit.Notification{
		Channel: string(n.Category),
		Target:  kit.ChatTarget{ChatID: chatID, ThreadID: coll.ThreadID},
		Text:    text,
		Options: &kit.SendOptions{ParseMode: "HTML"},
	})
}

package intake

import (
	"context"

	"github.com/cooldog631-ai/aim-bot/internal/messenger"
)

// audit fires for every inbound event before any other handler.
func (p *Pipeline) audit(ctx context.Context, port messenger.Port, ev messenger.Event) error {
	p.metrics.Event(ev.Identity.Platform, string(ev.ContentType))
	p.log.Info("intake: event received",
		"event_id", ev.ID,
		"platform", ev.Identity.Platform,
		"user_id", ev.Identity.UserID,
		"chat_id", ev.Identity.ChatID,
		"content_type", ev.ContentType,
		"command", ev.Command,
	)
	return nil
}

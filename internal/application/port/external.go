package port

import "context"

// LarkMessageSender posts messages to a Lark chat
type LarkMessageSender interface {
	SendText(ctx context.Context, chatID string, text string) error
}

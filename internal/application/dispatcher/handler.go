package dispatcher

import (
	"context"

	"github.com/garyjia/kiuva-approval/internal/domain/event"
)

// Handler reacts to a domain event. Handlers must be safe for concurrent use.
type Handler func(ctx context.Context, evt *event.Event) error

type subscription struct {
	name    string
	handler Handler
}

package eventbus

import (
	"context"
	"log"

	"github.com/stakahashi/tenken/internal/event"
)

// LogConsumer logs all domain events for observability.
type LogConsumer struct{}

func NewLogConsumer() *LogConsumer { return &LogConsumer{} }

func (c *LogConsumer) HandleEvent(_ context.Context, evt event.DomainEvent) error {
	if evt.Path != "" {
		log.Printf("event: %s [%s] %s", evt.EventType, evt.Path, evt.Summary)
		return nil
	}
	log.Printf("event: %s %s", evt.EventType, evt.Summary)
	return nil
}

package app

import (
	"context"
	"log/slog"
)

// runLifecycleListener consumes every lifecycle topic and bumps the
// per-topic counter. It is the in-process consumer of the same stream
// external subscribers (overlay, notifiers) read over NATS.
func (a *App) runLifecycleListener(ctx context.Context, topics []string) error {
	for _, topic := range topics {
		messages, err := a.bus.Subscribe(ctx, topic)
		if err != nil {
			return err
		}

		topic := topic
		go func() {
			for msg := range messages {
				a.metrics.EventsObserved.WithLabelValues(topic).Inc()
				a.logger.Debug("lifecycle event",
					slog.String("topic", topic),
					slog.String("payload", string(msg.Payload)))
				msg.Ack()
			}
		}()
	}
	return nil
}

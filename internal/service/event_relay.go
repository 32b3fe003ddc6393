package queue_publisher

import (
	"context"
	"time"

	"library-lending/internal/event"
	q "library-lending/internal/queue"
)

// StartEventRelay subscribes to the in-process broker and republishes
// every domain event to the message queue until ctx is cancelled. The
// coordinator stays decoupled from the transport: it only ever talks to
// the broker, and this relay is just another subscriber. Publish failures
// are already logged by the publisher and are not retried; the durable
// audit trail is best-effort by design while the primary store remains
// authoritative.
func StartEventRelay(ctx context.Context, broker *event.Broker) {
	sub := broker.Subscribe()
	go func() {
		defer broker.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				pubCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				_ = PublishLoanEvent(pubCtx, q.LoanEvent{
					EventID:    ev.ID,
					Action:     string(ev.Action),
					BookID:     ev.BookID,
					UserID:     ev.UserID,
					LoanID:     ev.LoanID,
					OccurredAt: ev.Timestamp.UTC().Format(time.RFC3339),
				})
				cancel()
			}
		}
	}()
}

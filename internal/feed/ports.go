package feed

import "context"

type (
	Publisher interface {
		Publish(ctx context.Context, e Event) error
	}

	// Subscriber opens a stream filtered to one user's channel. The context
	// bounds only the setup; the stream lives until Unsubscribe.
	Subscriber interface {
		Subscribe(ctx context.Context, userID string) (Subscription, error)
	}

	// Subscription is an open stream. Events is closed after Unsubscribe.
	// Unsubscribe is idempotent.
	Subscription interface {
		Events() <-chan Event
		Unsubscribe() error
	}
)

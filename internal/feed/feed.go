// Package feed fans committed activity events out to live subscribers.
// Publishing happens after the event is durable in the store; a failed
// publish never rolls anything back.
package feed

import (
	"context"
	"errors"

	"ideaforge/api/internal/store"
)

type Publisher interface {
	Publish(ctx context.Context, event store.ActivityEvent) error
}

// Multi publishes to every backend and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, event store.ActivityEvent) error {
	var errs []error
	for _, publisher := range m {
		if publisher == nil {
			continue
		}
		if err := publisher.Publish(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type Nop struct{}

func (Nop) Publish(context.Context, store.ActivityEvent) error { return nil }

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/rcwatch/rcwatch/internal/watch"
)

// Event kinds published to the Pub/Sub topic.
const (
	eventNewConfigurations = "new_configurations"
	eventNoChanges         = "no_changes"
	eventCheckFailed       = "check_failed"
)

// PubSub publishes machine-readable change events to a Pub/Sub topic for
// downstream consumers, as an alternative to the human webhook channel.
type PubSub struct {
	publisher *pubsub.Publisher
	clock     watch.Clock
}

// NewPubSub wraps an existing topic publisher.
func NewPubSub(publisher *pubsub.Publisher) (*PubSub, error) {
	if publisher == nil {
		return nil, fmt.Errorf("pubsub publisher is required")
	}
	return &PubSub{publisher: publisher, clock: watch.SystemClock{}}, nil
}

type changeEvent struct {
	Event       string        `json:"event"`
	OccurredAt  time.Time     `json:"occurred_at"`
	TargetURL   string        `json:"target_url"`
	Description string        `json:"description"`
	NewRecords  []recordEvent `json:"new_records,omitempty"`
	RemovedKeys []string      `json:"removed_keys,omitempty"`
	Error       string        `json:"error,omitempty"`
}

type recordEvent struct {
	Key      string   `json:"key"`
	Vehicle  string   `json:"vehicle"`
	Motor    string   `json:"motor"`
	Price    string   `json:"price"`
	Wheels   string   `json:"wheels"`
	Interior string   `json:"interior"`
	Exterior string   `json:"exterior"`
	Packages []string `json:"packages,omitempty"`
}

// Notify publishes one event carrying the whole delta.
func (p *PubSub) Notify(ctx context.Context, delta watch.Delta) error {
	event := changeEvent{
		Event:       eventNewConfigurations,
		OccurredAt:  p.clock.Now(),
		TargetURL:   delta.Target.URL,
		Description: delta.Target.Description,
		RemovedKeys: delta.RemovedKeys,
	}
	for _, rec := range delta.NewRecords {
		event.NewRecords = append(event.NewRecords, recordEvent{
			Key:      rec.Key(),
			Vehicle:  rec.Vehicle,
			Motor:    rec.Motor,
			Price:    rec.Price,
			Wheels:   rec.Wheels,
			Interior: rec.Interior,
			Exterior: rec.Exterior,
			Packages: rec.Packages,
		})
	}
	return p.publish(ctx, event)
}

// NotifyNoChanges publishes a heartbeat event.
func (p *PubSub) NotifyNoChanges(ctx context.Context, target watch.Target) error {
	return p.publish(ctx, changeEvent{
		Event:       eventNoChanges,
		OccurredAt:  p.clock.Now(),
		TargetURL:   target.URL,
		Description: target.Description,
	})
}

// NotifyFailure publishes a failure event.
func (p *PubSub) NotifyFailure(ctx context.Context, target watch.Target, cause error) error {
	return p.publish(ctx, changeEvent{
		Event:       eventCheckFailed,
		OccurredAt:  p.clock.Now(),
		TargetURL:   target.URL,
		Description: target.Description,
		Error:       cause.Error(),
	})
}

func (p *PubSub) publish(ctx context.Context, event changeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	result := p.publisher.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: map[string]string{"event": event.Event},
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("%w: publish event: %v", watch.ErrNotifyUnavailable, err)
	}
	return nil
}

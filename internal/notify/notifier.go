// Package notify formats and delivers human-readable messages about
// configuration changes to an external channel.
package notify

import (
	"context"
	"fmt"

	"github.com/rcwatch/rcwatch/internal/watch"
)

// Notifier delivers run outcomes for one target. Delivery is at-least-once;
// deduplication happens upstream via the known-state diff.
type Notifier interface {
	// Notify sends exactly one message describing the delta's new records
	// (and removed keys, when removal reporting is enabled).
	Notify(ctx context.Context, delta watch.Delta) error

	// NotifyNoChanges sends a heartbeat message for noisy mode.
	NotifyNoChanges(ctx context.Context, target watch.Target) error

	// NotifyFailure reports a fetch or extraction breakage so an operator
	// hears about it without tailing logs. Best effort.
	NotifyFailure(ctx context.Context, target watch.Target, cause error) error
}

// Noop discards all notifications.
type Noop struct{}

// Notify does nothing.
func (Noop) Notify(context.Context, watch.Delta) error { return nil }

// NotifyNoChanges does nothing.
func (Noop) NotifyNoChanges(context.Context, watch.Target) error { return nil }

// NotifyFailure does nothing.
func (Noop) NotifyFailure(context.Context, watch.Target, error) error { return nil }

// summaryText mirrors the operator-facing one-liner used across channels.
func summaryText(delta watch.Delta) string {
	n := len(delta.NewRecords)
	switch n {
	case 0:
		return fmt.Sprintf("No new configuration was found for %s", delta.Target.Label())
	case 1:
		return fmt.Sprintf("1 new configuration was found for %s", delta.Target.Label())
	default:
		return fmt.Sprintf("%d new configurations were found for %s", n, delta.Target.Label())
	}
}

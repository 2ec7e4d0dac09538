// Package metrics exposes Prometheus counters for the check pipeline. The
// process is a short-lived batch job, so counters are pushed to a
// Pushgateway at the end of a run instead of being scraped.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

var (
	// ChecksTotal counts target pipelines started.
	ChecksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rcwatch_checks_total",
		Help: "The total number of target checks started.",
	})
	// CheckFailures counts target pipelines that ended in a failed stage.
	CheckFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rcwatch_check_failures_total",
		Help: "The total number of target checks that failed.",
	})
	// FetchErrors counts failed page fetches.
	FetchErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rcwatch_fetch_errors_total",
		Help: "The total number of failed page fetches.",
	})
	// SchemaMismatches counts extractions that found no recognizable
	// listing structure. A non-zero value means the site changed.
	SchemaMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rcwatch_schema_mismatches_total",
		Help: "The total number of extractions that failed to recognize the page layout.",
	})
	// NewConfigurations counts newly appeared configuration records.
	NewConfigurations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rcwatch_new_configurations_total",
		Help: "The total number of newly appeared configurations across all targets.",
	})
	// NotificationsSent counts successfully delivered notifications.
	NotificationsSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rcwatch_notifications_sent_total",
		Help: "The total number of notifications delivered.",
	})
	// NotificationFailures counts notification deliveries that failed after
	// the state was already persisted.
	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rcwatch_notification_failures_total",
		Help: "The total number of notification deliveries that failed.",
	})
)

// Push sends the default registry to a Pushgateway, grouped by run id so
// consecutive scheduled runs do not clobber each other.
func Push(gateway, job, runID string) error {
	if gateway == "" {
		return nil
	}
	err := push.New(gateway, job).
		Grouping("run", runID).
		Gatherer(prometheus.DefaultGatherer).
		Push()
	if err != nil {
		return fmt.Errorf("push metrics to %s: %w", gateway, err)
	}
	return nil
}

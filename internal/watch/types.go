// Package watch defines the core types shared across the check pipeline.
package watch

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Target is one configured URL+filter combination to monitor.
type Target struct {
	URL         string
	Description string
}

// ID returns the identity used to address persisted state for this target.
func (t Target) ID() string {
	return t.URL
}

// Label returns a human-readable name for log lines and messages.
func (t Target) Label() string {
	if t.Description != "" {
		return t.Description
	}
	return t.URL
}

// Page is the fully rendered content returned by a Fetcher.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    http.Header
	Body       []byte
	FetchedAt  time.Time
	Duration   time.Duration
}

// Record is one distinct vehicle configuration found on a monitored page.
// Price is display-only and never contributes to identity.
type Record struct {
	Vehicle  string
	Motor    string
	Price    string
	Wheels   string
	Interior string
	Exterior string
	Packages []string
}

// Key derives the deterministic identity key for the record. Re-extracting
// the same configuration from the same page always yields the same key.
func (r Record) Key() string {
	packages := make([]string, 0, len(r.Packages))
	for _, p := range r.Packages {
		if norm := normalizeAttr(p); norm != "" {
			packages = append(packages, norm)
		}
	}
	sort.Strings(packages)

	parts := []string{
		normalizeAttr(r.Vehicle),
		normalizeAttr(r.Motor),
		normalizeAttr(r.Wheels),
		normalizeAttr(r.Interior),
		normalizeAttr(r.Exterior),
		strings.Join(packages, ","),
	}
	return strings.Join(parts, "|")
}

// Field is one labeled display attribute used when formatting messages.
type Field struct {
	Label string
	Value string
}

// DisplayFields returns the record attributes in presentation order.
func (r Record) DisplayFields() []Field {
	return []Field{
		{Label: "Vehicle", Value: r.Vehicle},
		{Label: "Motor/Battery", Value: r.Motor},
		{Label: "Price", Value: r.Price},
		{Label: "Wheels", Value: r.Wheels},
		{Label: "Interior", Value: r.Interior},
		{Label: "Exterior", Value: r.Exterior},
		{Label: "Packages", Value: strings.Join(r.Packages, ", ")},
	}
}

func normalizeAttr(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// KnownState is the durable record of which identity keys have already been
// seen for a target, plus bookkeeping timestamps.
type KnownState struct {
	Keys        []string
	ContentHash string
	CheckedAt   time.Time
}

// KeySet returns the known keys as a set.
func (s KnownState) KeySet() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Keys))
	for _, k := range s.Keys {
		set[k] = struct{}{}
	}
	return set
}

// Delta is the computed set of newly appeared (and optionally disappeared)
// records for one run of one target. It is never persisted.
type Delta struct {
	Target      Target
	NewRecords  []Record
	RemovedKeys []string
}

// Empty reports whether the delta carries nothing worth notifying about.
func (d Delta) Empty() bool {
	return len(d.NewRecords) == 0 && len(d.RemovedKeys) == 0
}

// ContentHash returns the hex SHA-256 digest of a rendered page body. It is
// logged as a fingerprint and stored alongside the known state.
func ContentHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// SystemClock implements Clock using time.Now.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

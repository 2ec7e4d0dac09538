// Package diff computes which configurations appeared or disappeared
// between the current extraction and the persisted known state.
package diff

import (
	"github.com/rcwatch/rcwatch/internal/watch"
)

// Compute returns the delta between the current record set and the known
// identity keys. NewRecords keeps extraction order so notification text is
// deterministic. RemovedKeys is populated only when reportRemovals is set;
// it defaults to off so a transient extraction gap cannot raise a false
// "removed" signal. Pure function, no I/O.
func Compute(target watch.Target, current []watch.Record, known []string, reportRemovals bool) watch.Delta {
	knownSet := make(map[string]struct{}, len(known))
	for _, k := range known {
		knownSet[k] = struct{}{}
	}

	currentSet := make(map[string]struct{}, len(current))
	var added []watch.Record
	for _, rec := range current {
		key := rec.Key()
		if _, dup := currentSet[key]; dup {
			continue
		}
		currentSet[key] = struct{}{}
		if _, seen := knownSet[key]; !seen {
			added = append(added, rec)
		}
	}

	delta := watch.Delta{Target: target, NewRecords: added}
	if !reportRemovals {
		return delta
	}
	for _, k := range known {
		if _, present := currentSet[k]; !present {
			delta.RemovedKeys = append(delta.RemovedKeys, k)
		}
	}
	return delta
}

// Keys returns the identity keys of the current records, extraction order
// preserved and duplicates dropped. This is the set persisted after a
// successful run.
func Keys(current []watch.Record) []string {
	seen := make(map[string]struct{}, len(current))
	keys := make([]string, 0, len(current))
	for _, rec := range current {
		key := rec.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	return keys
}

package ledger

import (
	"encoding/json"
	"sort"

	"corese/pkg/persistence"
)

// ComputeDiff compares two snapshots over the union of their keys and
// reports which fields changed. Values compare by serialized equality so
// nested structures diff without reflection special cases. Details carries
// a per-field {old, new} pair for each changed key.
func ComputeDiff(before, after map[string]any) persistence.DiffPayload {
	keys := make(map[string]bool, len(before)+len(after))
	for k := range before {
		keys[k] = true
	}
	for k := range after {
		keys[k] = true
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	diff := persistence.DiffPayload{
		Before:  before,
		After:   after,
		Details: map[string]any{},
	}
	for _, key := range sorted {
		oldVal, newVal := before[key], after[key]
		if serializedEqual(oldVal, newVal) {
			continue
		}
		diff.FieldsChanged = append(diff.FieldsChanged, key)
		diff.Details[key] = map[string]any{"old": oldVal, "new": newVal}
	}
	return diff
}

func serializedEqual(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return string(aj) == string(bj)
}

// toSnapshot flattens any record into a string-keyed map via its JSON form.
func toSnapshot(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

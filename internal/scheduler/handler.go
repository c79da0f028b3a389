package scheduler

import (
	"sort"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/models"
)

// TriggerHandler tracks the prerequisite datasets a forming job is still
// waiting for. It stores the canonical key of each needed dataset and shrinks
// as datasets arrive; the job is ready when nothing is outstanding.
type TriggerHandler struct {
	missing map[string]struct{}
}

// NewTriggerHandler creates a handler needing every listed dataset.
func NewTriggerHandler(needed []models.Dataset) *TriggerHandler {
	h := &TriggerHandler{missing: make(map[string]struct{}, len(needed))}
	for _, ds := range needed {
		h.missing[ds.Key()] = struct{}{}
	}
	return h
}

// TriggerHandlerFromKeys rebuilds a handler from persisted outstanding keys.
func TriggerHandlerFromKeys(keys []string) *TriggerHandler {
	h := &TriggerHandler{missing: make(map[string]struct{}, len(keys))}
	for _, key := range keys {
		h.missing[key] = struct{}{}
	}
	return h
}

// AddDataset records the arrival of ds. Returns true iff it was outstanding.
// Repeats of an already-seen dataset are no-ops.
func (h *TriggerHandler) AddDataset(ds models.Dataset) bool {
	key := ds.Key()
	if _, needed := h.missing[key]; !needed {
		return false
	}
	delete(h.missing, key)
	return true
}

// Ready reports whether every prerequisite has arrived.
func (h *TriggerHandler) Ready() bool {
	return len(h.missing) == 0
}

// Missing returns the number of outstanding prerequisites.
func (h *TriggerHandler) Missing() int {
	return len(h.missing)
}

// MissingKeys returns the outstanding dataset keys, sorted.
func (h *TriggerHandler) MissingKeys() []string {
	keys := make([]string, 0, len(h.missing))
	for key := range h.missing {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

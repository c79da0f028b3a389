package scheduler

import (
	"fmt"
	"sort"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/common"
	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/models"
)

// Trigger matches incoming datasets against per-identifier filters and, once
// matched, expands a template dataset into the full set of related datasets.
// Filters registered under the same identifier name are ORed; different names
// are ANDed. A trigger whose filters are all closed enumerates a finite,
// deterministic cartesian product.
type Trigger struct {
	datasetTypes []string
	filters      map[string][]IDFilter
	idNames      []string
}

// NewSimpleTrigger builds a trigger from dataset types and filters.
func NewSimpleTrigger(datasetTypes []string, filters []IDFilter) *Trigger {
	t := &Trigger{
		datasetTypes: append([]string(nil), datasetTypes...),
		filters:      make(map[string][]IDFilter),
	}
	for _, f := range filters {
		if _, seen := t.filters[f.Name()]; !seen {
			t.idNames = append(t.idNames, f.Name())
		}
		t.filters[f.Name()] = append(t.filters[f.Name()], f)
	}
	sort.Strings(t.idNames)
	return t
}

// NewTrigger builds a trigger from its policy record. The class name selects
// the variant; only "Simple" is currently registered.
func NewTrigger(cfg common.TriggerConfig) (*Trigger, error) {
	switch cfg.ClassName {
	case "", "Simple":
	default:
		return nil, fmt.Errorf("unknown trigger class %q", cfg.ClassName)
	}
	filters := make([]IDFilter, 0, len(cfg.ID))
	for _, idCfg := range cfg.ID {
		f, err := NewIDFilter(idCfg)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return NewSimpleTrigger(cfg.DatasetType, filters), nil
}

// DatasetTypes returns the type restriction, empty when unrestricted.
func (t *Trigger) DatasetTypes() []string {
	return append([]string(nil), t.datasetTypes...)
}

// Recognize tests ds against this trigger. Static filters are skipped; every
// non-static identifier must be present on ds and accepted by at least one of
// its filters. On success the dataset itself is returned as the template.
func (t *Trigger) Recognize(ds models.Dataset) (models.Dataset, bool) {
	if len(t.datasetTypes) > 0 && !contains(t.datasetTypes, ds.Type) {
		return models.Dataset{}, false
	}
	for _, name := range t.idNames {
		filters := t.matchingFilters(name)
		if len(filters) == 0 {
			continue
		}
		value, present := ds.IDs[name]
		if !present {
			return models.Dataset{}, false
		}
		accepted := false
		for _, f := range filters {
			if _, ok := f.Recognize(value); ok {
				accepted = true
				break
			}
		}
		if !accepted {
			return models.Dataset{}, false
		}
	}
	return ds, true
}

// Closed reports whether every identifier has at least one closed filter.
func (t *Trigger) Closed() bool {
	for _, name := range t.idNames {
		if len(t.closedValues(name)) == 0 {
			return false
		}
	}
	return true
}

// ListDatasets expands the template into every dataset implied by this
// trigger. For each identifier the closed filter value set is used when one
// exists; otherwise the single value is taken from the template. Output types
// come from the trigger's type set, falling back to the template's type.
// Iteration order is deterministic: sorted identifier names, sorted values,
// types in declaration order.
func (t *Trigger) ListDatasets(template models.Dataset) ([]models.Dataset, error) {
	type axis struct {
		name   string
		values []any
	}
	axes := make([]axis, 0, len(t.idNames))
	for _, name := range t.idNames {
		values := t.closedValues(name)
		if len(values) == 0 {
			v, ok := template.IDs[name]
			if !ok {
				return nil, &NonClosedSetError{ID: name}
			}
			values = []any{v}
		}
		axes = append(axes, axis{name: t.outName(name), values: values})
	}

	types := t.datasetTypes
	if len(types) == 0 {
		types = []string{template.Type}
	}

	total := len(types)
	for _, ax := range axes {
		total *= len(ax.values)
	}
	out := make([]models.Dataset, 0, total)

	ids := make(map[string]any, len(axes))
	var expand func(i int, dsType string)
	expand = func(i int, dsType string) {
		if i == len(axes) {
			out = append(out, models.NewDataset(dsType, ids))
			return
		}
		for _, v := range axes[i].values {
			ids[axes[i].name] = v
			expand(i+1, dsType)
		}
		delete(ids, axes[i].name)
	}
	for _, dsType := range types {
		expand(0, dsType)
	}
	return out, nil
}

// matchingFilters returns the non-static filters for an identifier.
func (t *Trigger) matchingFilters(name string) []IDFilter {
	var out []IDFilter
	for _, f := range t.filters[name] {
		if !f.Static() {
			out = append(out, f)
		}
	}
	return out
}

// closedValues unions the allowed values of the identifier's closed filters,
// deduplicated and sorted.
func (t *Trigger) closedValues(name string) []any {
	seen := make(map[any]struct{})
	var out []any
	for _, f := range t.filters[name] {
		if !f.Closed() {
			continue
		}
		values, err := f.AllowedValues()
		if err != nil {
			continue
		}
		for _, v := range values {
			if _, dup := seen[v]; dup {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, aok := out[i].(int64)
		b, bok := out[j].(int64)
		if aok && bok {
			return a < b
		}
		return models.FormatScalar(out[i]) < models.FormatScalar(out[j])
	})
	return out
}

func (t *Trigger) outName(name string) string {
	for _, f := range t.filters[name] {
		return f.OutName()
	}
	return name
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

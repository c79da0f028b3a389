package scheduler

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/common"
)

// IDFilter is a predicate over one identifier's values, with an optional
// finite enumeration used when expanding a trigger into its full dataset set.
type IDFilter interface {
	// Name is the identifier this filter inspects on incoming datasets.
	Name() string

	// OutName is the identifier written into expanded datasets; defaults
	// to Name.
	OutName() string

	// Static filters participate in expansion but never in matching.
	Static() bool

	// Recognize returns the coerced value when v is acceptable.
	Recognize(v any) (any, bool)

	// Closed reports whether AllowedValues is finite.
	Closed() bool

	// AllowedValues enumerates the full value set of a closed filter, in
	// deterministic order.
	AllowedValues() ([]any, error)
}

// IntegerFilter accepts integers inside an optional half-open range [Min,Lim)
// or an explicit value list. With no constraints it accepts any integer.
type IntegerFilter struct {
	name    string
	outName string
	static  bool
	min     *int64
	lim     *int64
	values  []int64
}

// NewIntegerFilter creates an integer filter. min/lim may be nil for a
// half- or un-bounded range.
func NewIntegerFilter(name, outName string, static bool, min, lim *int64, values []int64) *IntegerFilter {
	if outName == "" {
		outName = name
	}
	sorted := make([]int64, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	return &IntegerFilter{name: name, outName: outName, static: static, min: min, lim: lim, values: sorted}
}

func (f *IntegerFilter) Name() string    { return f.name }
func (f *IntegerFilter) OutName() string { return f.outName }
func (f *IntegerFilter) Static() bool    { return f.static }

func (f *IntegerFilter) Recognize(v any) (any, bool) {
	n, ok := coerceInt(v)
	if !ok {
		return nil, false
	}
	if f.min == nil && f.lim == nil && len(f.values) == 0 {
		return n, true
	}
	if f.min != nil || f.lim != nil {
		inRange := (f.min == nil || n >= *f.min) && (f.lim == nil || n < *f.lim)
		if inRange {
			return n, true
		}
	}
	for _, allowed := range f.values {
		if n == allowed {
			return n, true
		}
	}
	return nil, false
}

func (f *IntegerFilter) Closed() bool {
	if f.min != nil && f.lim != nil {
		return true
	}
	if f.min == nil && f.lim == nil && len(f.values) > 0 {
		return true
	}
	return false
}

func (f *IntegerFilter) AllowedValues() ([]any, error) {
	if !f.Closed() {
		return nil, &NonClosedSetError{ID: f.name}
	}
	var out []any
	if f.min != nil && f.lim != nil {
		for n := *f.min; n < *f.lim; n++ {
			out = append(out, n)
		}
	}
	for _, n := range f.values {
		out = append(out, n)
	}
	return out, nil
}

// StringFilter accepts strings, optionally restricted to an explicit set.
type StringFilter struct {
	name    string
	outName string
	static  bool
	values  []string
}

// NewStringFilter creates a string filter; an empty value list accepts any
// string.
func NewStringFilter(name, outName string, static bool, values []string) *StringFilter {
	if outName == "" {
		outName = name
	}
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)
	return &StringFilter{name: name, outName: outName, static: static, values: sorted}
}

func (f *StringFilter) Name() string    { return f.name }
func (f *StringFilter) OutName() string { return f.outName }
func (f *StringFilter) Static() bool    { return f.static }

func (f *StringFilter) Recognize(v any) (any, bool) {
	s := coerceString(v)
	if len(f.values) == 0 {
		return s, true
	}
	for _, allowed := range f.values {
		if s == allowed {
			return s, true
		}
	}
	return nil, false
}

func (f *StringFilter) Closed() bool {
	return len(f.values) > 0
}

func (f *StringFilter) AllowedValues() ([]any, error) {
	if !f.Closed() {
		return nil, &NonClosedSetError{ID: f.name}
	}
	out := make([]any, len(f.values))
	for i, s := range f.values {
		out[i] = s
	}
	return out, nil
}

// NewIDFilter builds a filter from its policy record. The class name selects
// the variant; unknown names are a configuration error.
func NewIDFilter(cfg common.IDFilterConfig) (IDFilter, error) {
	switch cfg.ClassName {
	case "", "Integer":
		values, err := intValues(cfg)
		if err != nil {
			return nil, err
		}
		return NewIntegerFilter(cfg.Name, cfg.OutName, cfg.Static, cfg.Min, cfg.Lim, values), nil
	case "String":
		values := make([]string, 0, len(cfg.Values))
		for _, v := range cfg.Values {
			values = append(values, coerceString(v))
		}
		return NewStringFilter(cfg.Name, cfg.OutName, cfg.Static, values), nil
	default:
		return nil, fmt.Errorf("unknown ID filter class %q for identifier %s", cfg.ClassName, cfg.Name)
	}
}

func intValues(cfg common.IDFilterConfig) ([]int64, error) {
	values := make([]int64, 0, len(cfg.Values))
	for _, v := range cfg.Values {
		n, ok := coerceInt(v)
		if !ok {
			return nil, fmt.Errorf("identifier %s: value %v is not an integer", cfg.Name, v)
		}
		values = append(values, n)
	}
	return values, nil
}

func coerceInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
		return 0, false
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

func coerceString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case int64:
		return strconv.FormatInt(s, 10)
	case int:
		return strconv.Itoa(s)
	default:
		return fmt.Sprintf("%v", v)
	}
}

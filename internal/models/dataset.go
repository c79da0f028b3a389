package models

import (
	"sort"
	"strings"
)

// Dataset identifies one piece of data by type plus named scalar identifiers.
// It is a value type: two datasets are equal iff their Type and IDs agree.
// Path and Valid never participate in equality.
type Dataset struct {
	Type  string
	IDs   map[string]any
	Path  string
	Valid bool
}

// NewDataset creates a valid dataset of the given type. The ids map is copied
// and its values normalized (all integer widths to int64, floats to float64).
func NewDataset(dsType string, ids map[string]any) Dataset {
	ds := Dataset{Type: dsType, IDs: make(map[string]any, len(ids)), Valid: true}
	for name, v := range ids {
		ds.IDs[name] = NormalizeScalar(v)
	}
	return ds
}

// WithID returns a copy of the dataset with one identifier added or replaced.
func (d Dataset) WithID(name string, value any) Dataset {
	out := NewDataset(d.Type, d.IDs)
	out.Path = d.Path
	out.Valid = d.Valid
	out.IDs[name] = NormalizeScalar(value)
	return out
}

// Equal reports whether the two datasets name the same data.
func (d Dataset) Equal(o Dataset) bool {
	if d.Type != o.Type || len(d.IDs) != len(o.IDs) {
		return false
	}
	for name, v := range d.IDs {
		ov, ok := o.IDs[name]
		if !ok || v != ov {
			return false
		}
	}
	return true
}

// IDNames returns the identifier names in sorted order.
func (d Dataset) IDNames() []string {
	names := make([]string, 0, len(d.IDs))
	for name := range d.IDs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Key renders the canonical string form, "type-name1value1-name2value2...",
// with identifier names sorted. Equal datasets always render identically,
// across restarts included; the trigger handler relies on that.
func (d Dataset) Key() string {
	var sb strings.Builder
	sb.WriteString(d.Type)
	for _, name := range d.IDNames() {
		sb.WriteByte('-')
		sb.WriteString(name)
		sb.WriteString(FormatScalar(d.IDs[name]))
	}
	return sb.String()
}

// Format renders the dataset as its canonical key, optionally suffixed with
// the storage path.
func (d Dataset) Format(usePath bool) string {
	if usePath && d.Path != "" {
		return d.Key() + "@" + d.Path
	}
	return d.Key()
}

func (d Dataset) String() string {
	return d.Key()
}

// ToRecord emits the self-describing record used on disk and on the wire:
// keys "type", "path" (when set), "valid", and "ids.<name>" per identifier.
func (d Dataset) ToRecord() *Record {
	rec := NewRecord()
	rec.Set("type", d.Type)
	if d.Path != "" {
		rec.Set("path", d.Path)
	}
	rec.Set("valid", d.Valid)
	for _, name := range d.IDNames() {
		rec.Set("ids."+name, d.IDs[name])
	}
	return rec
}

// Encode is shorthand for ToRecord().Encode().
func (d Dataset) Encode() string {
	return d.ToRecord().Encode()
}

// DatasetFromRecord rebuilds a dataset from its record form.
func DatasetFromRecord(rec *Record) (Dataset, error) {
	dsType, ok := rec.GetString("type")
	if !ok {
		return Dataset{}, ErrBadDatasetRecord
	}
	ds := NewDataset(dsType, nil)
	if path, ok := rec.GetString("path"); ok {
		ds.Path = path
	}
	if valid, ok := rec.GetBool("valid"); ok {
		ds.Valid = valid
	}
	for _, key := range rec.Keys() {
		if name, found := strings.CutPrefix(key, "ids."); found {
			v, _ := rec.Get(key)
			ds.IDs[name] = v
		}
	}
	return ds, nil
}

// DecodeDataset parses the textual record form of a dataset.
func DecodeDataset(text string) (Dataset, error) {
	rec, err := DecodeRecord(text)
	if err != nil {
		return Dataset{}, err
	}
	return DatasetFromRecord(rec)
}

package models

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event statuses understood by the job office and its pipelines.
const (
	StatusJobReady     = "job:ready"
	StatusJobAssign    = "job:assign"
	StatusJobAccepted  = "job:accepted"
	StatusJobDone      = "job:done"
	StatusDataReady    = "data:available"
	StatusFinalDataset = "joboffice:finalDataset"
	StatusStop         = "joboffice:stop"
)

// Selector header field names.
const (
	FieldRunID         = "RUNID"
	FieldStatus        = "STATUS"
	FieldOriginatorID  = "ORIGINATORID"
	FieldDestinationID = "DESTINATIONID"
)

// Well-known property keys carried in event payloads.
const (
	PropDataset      = "dataset"
	PropSuccess      = "success"
	PropPipelineName = "pipelineName"
	PropJobName      = "name"
	PropIdentity     = "identity"
	PropInputs       = "inputs"
	PropOutputs      = "outputs"
)

// EventKind distinguishes broadcast status events from targeted commands.
type EventKind string

const (
	KindStatus  EventKind = "status"
	KindCommand EventKind = "command"
)

// ErrBadDatasetRecord is returned when an event or queue file carries a
// dataset record without the mandatory type key.
var ErrBadDatasetRecord = errors.New("dataset record missing type")

// Event is the envelope for every broker message. A status event announces
// something about its originator; a command event additionally names a
// destination and is ignored by everyone else.
type Event struct {
	Kind          EventKind      `json:"kind"`
	Topic         string         `json:"topic"`
	RunID         string         `json:"runid"`
	OriginatorID  int64          `json:"originator"`
	DestinationID int64          `json:"destination,omitempty"`
	Status        string         `json:"status"`
	Props         map[string]any `json:"props,omitempty"`
}

// NewStatusEvent creates a broadcast event.
func NewStatusEvent(runID string, originator int64, status string) *Event {
	return &Event{
		Kind:         KindStatus,
		RunID:        runID,
		OriginatorID: originator,
		Status:       status,
		Props:        make(map[string]any),
	}
}

// NewCommandEvent creates an event addressed to a single destination.
func NewCommandEvent(runID string, originator, destination int64, status string) *Event {
	ev := NewStatusEvent(runID, originator, status)
	ev.Kind = KindCommand
	ev.DestinationID = destination
	return ev
}

// Headers exposes the fields the broker selector language can match on.
func (e *Event) Headers() map[string]any {
	return map[string]any{
		FieldRunID:         e.RunID,
		FieldStatus:        e.Status,
		FieldOriginatorID:  e.OriginatorID,
		FieldDestinationID: e.DestinationID,
	}
}

// SetProp stores one payload property.
func (e *Event) SetProp(key string, value any) *Event {
	e.Props[key] = value
	return e
}

// StringProp returns a string property, or "" when absent.
func (e *Event) StringProp(key string) string {
	s, _ := e.Props[key].(string)
	return s
}

// BoolProp returns a bool property, defaulting when absent.
func (e *Event) BoolProp(key string, def bool) bool {
	if b, ok := e.Props[key].(bool); ok {
		return b
	}
	return def
}

// SetDatasets stores datasets under key as a list of serialized records.
func (e *Event) SetDatasets(key string, datasets []Dataset) *Event {
	encoded := make([]string, len(datasets))
	for i, ds := range datasets {
		encoded[i] = ds.Encode()
	}
	e.Props[key] = encoded
	return e
}

// Datasets decodes the repeated serialized-record property stored under key.
// A JSON round trip turns []string into []any, so both shapes are accepted.
func (e *Event) Datasets(key string) ([]Dataset, error) {
	raw, ok := e.Props[key]
	if !ok {
		return nil, nil
	}
	var texts []string
	switch v := raw.(type) {
	case []string:
		texts = v
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("property %s: entry is not a string", key)
			}
			texts = append(texts, s)
		}
	case string:
		texts = []string{v}
	default:
		return nil, fmt.Errorf("property %s: not a dataset list", key)
	}
	datasets := make([]Dataset, 0, len(texts))
	for _, text := range texts {
		ds, err := DecodeDataset(text)
		if err != nil {
			return nil, fmt.Errorf("property %s: %w", key, err)
		}
		datasets = append(datasets, ds)
	}
	return datasets, nil
}

// Marshal renders the event for broker transport.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent parses a transported event.
func UnmarshalEvent(data []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	if ev.Props == nil {
		ev.Props = make(map[string]any)
	}
	return &ev, nil
}

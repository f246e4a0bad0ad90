package cases

import (
	"encoding/json"
	"fmt"
)

// Status enum shared by Record and Stub
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusPurged     Status = "data_purged"
	StatusDone       Status = "done"
	StatusError      Status = "error"
)

var statuses = map[Status]bool{
	StatusPending:    true,
	StatusProcessing: true,
	StatusPurged:     true,
	StatusDone:       true,
	StatusError:      true,
}

// ParseStatus rejects anything outside the enum.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !statuses[st] {
		return "", fmt.Errorf("unknown status %q", s)
	}
	return st, nil
}

// UnmarshalJSON refuses documents carrying a status outside the enum.
func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	st, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = st
	return nil
}

// Event is a protocol step that moves a stub
type Event string

const (
	EventClaimed     Event = "claimed"
	EventQuarantined Event = "quarantined"
	EventReleased    Event = "released"
	EventPurged      Event = "purged"
	EventResulted    Event = "resulted"
)

type edge struct {
	from  Status
	event Event
}

// transitions lists the expected edges. done is sticky: once a result is
// recorded, purge and release leave it visible.
var transitions = map[edge]Status{
	{StatusPending, EventClaimed}:        StatusProcessing,
	{StatusPending, EventQuarantined}:    StatusError,
	{StatusProcessing, EventQuarantined}: StatusError,
	{StatusProcessing, EventReleased}:    StatusPending,
	{StatusProcessing, EventPurged}:      StatusPurged,
	{StatusDone, EventPurged}:            StatusDone,
	{StatusDone, EventReleased}:          StatusDone,
	{StatusProcessing, EventResulted}:    StatusDone,
	{StatusPurged, EventResulted}:        StatusDone,
	{StatusDone, EventResulted}:          StatusDone,
}

var fallback = map[Event]Status{
	EventClaimed:     StatusProcessing,
	EventQuarantined: StatusError,
	EventReleased:    StatusPending,
	EventPurged:      StatusPurged,
	EventResulted:    StatusDone,
}

// Apply returns the status after e. expected is false when e arrived from a
// status the lifecycle does not foresee; the move still happens so callers
// can warn without blocking.
func (s Status) Apply(e Event) (next Status, expected bool) {
	if to, ok := transitions[edge{s, e}]; ok {
		return to, true
	}
	return fallback[e], false
}

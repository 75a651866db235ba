package types

import "time"

// EventType names a committed change.
type EventType string

// Event types
const (
	EventCast   EventType = "cast"
	EventSwitch EventType = "switch"
	EventCancel EventType = "cancel"
	EventLeader EventType = "leader"
)

// Event describes one committed change to the ledger or the leadership log.
// Vote events carry the allocation as it stood after commit; switch events
// also carry the previously held candidate. Leader events carry From/To,
// either of which may be nil.
type Event struct {
	Type       EventType       `json:"type"`
	Time       time.Time       `json:"time"`
	Project    ProjectID       `json:"project"`
	Key        ItemKey         `json:"key"`
	Voter      VoterID         `json:"voter,omitempty"`
	Allocation *VoteAllocation `json:"allocation,omitempty"`
	Previous   *CandidateRef   `json:"previous,omitempty"`
	From       *CandidateRef   `json:"from,omitempty"`
	To         *CandidateRef   `json:"to,omitempty"`
}

package types

import (
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrInvalidVote = errors.New("invalid vote allocation")
)

// VoteAllocation is one voter's weight on one candidate for one key.
// For a given (Voter, Project, Key) at most one allocation has DeletedAt == nil.
type VoteAllocation struct {
	ID        string       `json:"id"`
	Voter     VoterID      `json:"voter"`
	Project   ProjectID    `json:"project"`
	Key       ItemKey      `json:"key"`
	Weight    int64        `json:"weight"`
	Candidate CandidateRef `json:"candidate"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
	DeletedAt *time.Time   `json:"deleted_at,omitempty"`
}

// IsDeleted returns true once the allocation has been cancelled.
func (a *VoteAllocation) IsDeleted() bool {
	return a.DeletedAt != nil
}

// ValidateBasic performs stateless validation.
func (a *VoteAllocation) ValidateBasic() error {
	if a.ID == "" || a.Voter == "" || a.Project == "" {
		return fmt.Errorf("%w: %v", ErrInvalidVote, ErrEmptyID)
	}
	if err := ValidateItemKey(a.Key); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVote, err)
	}
	if a.Weight <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidVote, ErrInvalidWeight)
	}
	if err := a.Candidate.ValidateBasic(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidVote, err)
	}
	return nil
}

// CopyAllocation returns a deep copy.
func CopyAllocation(a *VoteAllocation) *VoteAllocation {
	if a == nil {
		return nil
	}
	cp := *a
	if a.DeletedAt != nil {
		t := *a.DeletedAt
		cp.DeletedAt = &t
	}
	return &cp
}

// LeadershipRecord is one entry of the per-key leadership history.
// The live record has IsNotLeading == false; at most one exists per key.
type LeadershipRecord struct {
	ID           string       `json:"id"`
	Project      ProjectID    `json:"project"`
	Key          ItemKey      `json:"key"`
	Candidate    CandidateRef `json:"candidate"`
	CreatedAt    time.Time    `json:"created_at"`
	IsNotLeading bool         `json:"is_not_leading"`
	SupersededAt *time.Time   `json:"superseded_at,omitempty"`
}

// CopyLeadership returns a deep copy.
func CopyLeadership(r *LeadershipRecord) *LeadershipRecord {
	if r == nil {
		return nil
	}
	cp := *r
	if r.SupersededAt != nil {
		t := *r.SupersededAt
		cp.SupersededAt = &t
	}
	return &cp
}

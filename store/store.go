// Package store defines the transactional persistence contract for the vote
// ledger, the candidate registry and the leadership log, and holds the
// backends that implement it.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/blockberries/tallyberry/types"
)

// Errors
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a write loses a race: a uniqueness
	// constraint fired, a lock could not be taken, or the transaction timed
	// out. The transaction made no durable change and may be retried.
	ErrConflict = errors.New("write conflict")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("store closed")
)

// Reader is the read surface shared by transactions and lock-free views.
type Reader interface {
	Project(id types.ProjectID) (*types.Project, error)
	Candidate(ref types.CandidateRef) (types.Candidate, error)
	// Candidates returns every candidate of the project covering key,
	// oldest first.
	Candidates(project types.ProjectID, key types.ItemKey) ([]types.Candidate, error)
	// CandidateByHash returns the item-proposal for (project, key) with the
	// given content hash, or ErrNotFound.
	CandidateByHash(project types.ProjectID, key types.ItemKey, h types.Hash) (types.Candidate, error)

	Allocation(id string) (*types.VoteAllocation, error)
	// LiveAllocation returns the non-deleted allocation for (voter, project,
	// key), or ErrNotFound. Inside a write transaction the row is locked
	// where the backend supports it.
	LiveAllocation(voter types.VoterID, project types.ProjectID, key types.ItemKey) (*types.VoteAllocation, error)
	// LiveAllocations returns the non-deleted allocations for (project, key).
	LiveAllocations(project types.ProjectID, key types.ItemKey) ([]*types.VoteAllocation, error)
	// VoterAllocations returns the voter's non-deleted allocations in project.
	VoterAllocations(voter types.VoterID, project types.ProjectID) ([]*types.VoteAllocation, error)

	// LiveLeadership returns the record with IsNotLeading == false, or ErrNotFound.
	LiveLeadership(project types.ProjectID, key types.ItemKey) (*types.LeadershipRecord, error)
	// LeadershipHistory returns every record for (project, key), oldest first.
	LeadershipHistory(project types.ProjectID, key types.ItemKey) ([]*types.LeadershipRecord, error)
}

// Tx is a read-write transaction. All writes become visible together on
// commit or not at all.
type Tx interface {
	Reader

	// Now is the transaction timestamp used for every row written in it.
	Now() time.Time

	// LockItem serializes writers on (project, key) and returns the item.
	// Returns ErrNotFound if the project does not accept key.
	LockItem(project types.ProjectID, key types.ItemKey) (types.Item, error)

	InsertProject(p *types.Project) error
	SetPublished(id types.ProjectID) error
	InsertCandidate(c types.Candidate) error

	InsertAllocation(a *types.VoteAllocation) error
	// UpdateAllocation rewrites candidate, weight and UpdatedAt in place.
	UpdateAllocation(a *types.VoteAllocation) error
	// DeleteAllocation soft-deletes the allocation at the transaction time.
	DeleteAllocation(id string) error

	InsertLeadership(r *types.LeadershipRecord) error
	// SupersedeLeadership flips the live record to IsNotLeading at the
	// transaction time.
	SupersedeLeadership(id string) error
}

// Store opens transactions against one backend.
type Store interface {
	// Update runs fn in a read-write transaction. The transaction commits if
	// fn returns nil and rolls back otherwise; fn's error is returned as is.
	Update(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn against a read-only view without taking write locks.
	// Successive reads inside fn may observe commits that land in between.
	View(ctx context.Context, fn func(r Reader) error) error
	Close() error
}

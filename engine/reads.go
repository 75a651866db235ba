package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/blockberries/tallyberry/store"
	"github.com/blockberries/tallyberry/types"
)

// Read operations never take write locks and may trail a concurrent commit.

// checkItem reports whether the project exists and accepts key.
func checkItem(r store.Reader, project types.ProjectID, key types.ItemKey) (*types.Project, types.Item, error) {
	p, err := r.Project(project)
	if errors.Is(err, store.ErrNotFound) {
		return nil, types.Item{}, ErrProjectNotFound
	}
	if err != nil {
		return nil, types.Item{}, err
	}
	item, ok := p.Item(key)
	if !ok {
		return nil, types.Item{}, fmt.Errorf("%w: %s", ErrKeyNotAccepted, key)
	}
	return p, item, nil
}

// GetLeadingCandidate returns the key's live leader, or nil when it has none.
// It reads the leadership log and never recomputes totals.
func (e *Engine) GetLeadingCandidate(ctx context.Context, project types.ProjectID, key types.ItemKey) (*types.CandidateRef, error) {
	k := itemKey{project, key}
	ref, ok, gen := e.cache.get(k)
	if ok {
		e.metrics.cacheLookup(true)
		return ref, nil
	}
	e.metrics.cacheLookup(false)

	var out *types.CandidateRef
	err := e.store.View(ctx, func(r store.Reader) error {
		live, err := liveLeadership(r, project, key)
		if err != nil {
			return err
		}
		if live != nil {
			out = &live.Candidate
			return nil
		}
		_, _, err = checkItem(r, project, key)
		return err
	})
	if err != nil {
		return nil, fromStore(err)
	}
	e.cache.fill(k, out, gen)
	return types.CopyRef(out), nil
}

// Leader is the live leader of a key with its proposed value.
type Leader struct {
	Project   types.ProjectID    `json:"project"`
	Key       types.ItemKey      `json:"key"`
	Candidate types.CandidateRef `json:"candidate"`
	Creator   types.VoterID      `json:"creator"`
	Value     json.RawMessage    `json:"value"`
	Reference string             `json:"reference,omitempty"`
	Since     time.Time          `json:"since"`
}

// LeadingValue returns the live leader with its value for display, or nil
// when the key has no leader.
func (e *Engine) LeadingValue(ctx context.Context, project types.ProjectID, key types.ItemKey) (*Leader, error) {
	var out *Leader
	err := e.store.View(ctx, func(r store.Reader) error {
		live, err := liveLeadership(r, project, key)
		if err != nil {
			return err
		}
		if live == nil {
			_, _, err = checkItem(r, project, key)
			return err
		}
		c, err := r.Candidate(live.Candidate)
		if err != nil {
			return err
		}
		v, _ := c.Value(key)
		out = &Leader{
			Project:   project,
			Key:       key,
			Candidate: live.Candidate,
			Creator:   c.Creator(),
			Value:     v,
			Reference: c.Reference(),
			Since:     live.CreatedAt,
		}
		return nil
	})
	if err != nil {
		return nil, fromStore(err)
	}
	return out, nil
}

// Totals is the support picture of one key, for progress display.
type Totals struct {
	Project    types.ProjectID     `json:"project"`
	Key        types.ItemKey       `json:"key"`
	Thresholds Thresholds          `json:"thresholds"`
	Published  bool                `json:"published"`
	Leader     *types.CandidateRef `json:"leader"`
	Tallies    []Tally             `json:"tallies"`
}

// Totals computes per-candidate weight and participants from the ledger.
// The result is informational; leadership is only ever read from the log.
func (e *Engine) Totals(ctx context.Context, project types.ProjectID, key types.ItemKey) (*Totals, error) {
	var out *Totals
	err := e.store.View(ctx, func(r store.Reader) error {
		p, item, err := checkItem(r, project, key)
		if err != nil {
			return err
		}
		candidates, err := r.Candidates(project, key)
		if err != nil {
			return err
		}
		allocations, err := r.LiveAllocations(project, key)
		if err != nil {
			return err
		}
		live, err := liveLeadership(r, project, key)
		if err != nil {
			return err
		}
		var leader *types.CandidateRef
		if live != nil {
			leader = &live.Candidate
		}

		th := e.thresholds(item)
		d := Evaluate(candidates, allocations, leader, th)
		out = &Totals{
			Project:    project,
			Key:        key,
			Thresholds: th,
			Published:  p.IsPublished,
			Leader:     types.CopyRef(leader),
			Tallies:    d.Tallies,
		}
		return nil
	})
	if err != nil {
		return nil, fromStore(err)
	}
	return out, nil
}

// History returns the key's leadership records, oldest first.
func (e *Engine) History(ctx context.Context, project types.ProjectID, key types.ItemKey) ([]*types.LeadershipRecord, error) {
	var out []*types.LeadershipRecord
	err := e.store.View(ctx, func(r store.Reader) error {
		if _, _, err := checkItem(r, project, key); err != nil {
			return err
		}
		var err error
		out, err = r.LeadershipHistory(project, key)
		return err
	})
	if err != nil {
		return nil, fromStore(err)
	}
	return out, nil
}

// VoterAllocations returns the voter's live votes in project.
func (e *Engine) VoterAllocations(ctx context.Context, voter types.VoterID, project types.ProjectID) ([]*types.VoteAllocation, error) {
	if voter == "" {
		return nil, ErrMissingVoter
	}
	var out []*types.VoteAllocation
	err := e.store.View(ctx, func(r store.Reader) error {
		var err error
		out, err = r.VoterAllocations(voter, project)
		return err
	})
	if err != nil {
		return nil, fromStore(err)
	}
	return out, nil
}

// Candidate returns one candidate.
func (e *Engine) Candidate(ctx context.Context, ref types.CandidateRef) (types.Candidate, error) {
	if err := ref.ValidateBasic(); err != nil {
		return nil, badRequest(err)
	}
	var out types.Candidate
	err := e.store.View(ctx, func(r store.Reader) error {
		c, err := r.Candidate(ref)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w %s", ErrCandidateNotFound, ref)
		}
		out = c
		return err
	})
	if err != nil {
		return nil, fromStore(err)
	}
	return out, nil
}

// Candidates returns every candidate proposing a value for key, oldest first.
func (e *Engine) Candidates(ctx context.Context, project types.ProjectID, key types.ItemKey) ([]types.Candidate, error) {
	var out []types.Candidate
	err := e.store.View(ctx, func(r store.Reader) error {
		if _, _, err := checkItem(r, project, key); err != nil {
			return err
		}
		var err error
		out, err = r.Candidates(project, key)
		return err
	})
	if err != nil {
		return nil, fromStore(err)
	}
	return out, nil
}

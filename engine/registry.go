package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/blockberries/tallyberry/store"
	"github.com/blockberries/tallyberry/types"
)

// CreateProject registers a project and the item keys it accepts. An empty
// ID is filled in. The stored project is returned.
func (e *Engine) CreateProject(ctx context.Context, p *types.Project) (*types.Project, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil project", ErrBadRequest)
	}
	p = types.CopyProject(p)
	if p.ID == "" {
		p.ID = types.ProjectID(types.NewID())
	}
	p.IsPublished = false
	if err := p.ValidateBasic(); err != nil {
		return nil, badRequest(err)
	}

	err := e.update(ctx, opCreateProject, func(tx store.Tx, _ *effects) error {
		p.CreatedAt = tx.Now()
		if err := tx.InsertProject(p); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("%w: %s", ErrProjectExists, p.ID)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// PublishProject closes voting on the project for good. Publishing twice is
// not an error.
func (e *Engine) PublishProject(ctx context.Context, id types.ProjectID) error {
	return e.update(ctx, opPublish, func(tx store.Tx, _ *effects) error {
		p, err := tx.Project(id)
		if errors.Is(err, store.ErrNotFound) {
			return ErrProjectNotFound
		}
		if err != nil {
			return err
		}
		if p.IsPublished {
			return nil
		}
		// wait out writers already inside the project's items
		keys := p.Keys()
		sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
		for _, key := range keys {
			if _, err := tx.LockItem(id, key); err != nil {
				return err
			}
		}
		return tx.SetPublished(id)
	})
}

// GetProject returns the project.
func (e *Engine) GetProject(ctx context.Context, id types.ProjectID) (*types.Project, error) {
	var out *types.Project
	err := e.store.View(ctx, func(r store.Reader) error {
		p, err := r.Project(id)
		if errors.Is(err, store.ErrNotFound) {
			return ErrProjectNotFound
		}
		out = p
		return err
	})
	return out, fromStore(err)
}

// ProjectProposalRequest registers a project-level proposal.
type ProjectProposalRequest struct {
	Creator   types.VoterID                     `json:"creator"`
	Project   types.ProjectID                   `json:"project"`
	Values    map[types.ItemKey]json.RawMessage `json:"values"`
	Reference string                            `json:"reference,omitempty"`
	// CreatorWeight is the creator's current weight, used for the implicit
	// creator vote. Zero skips it.
	CreatorWeight int64 `json:"creator_weight,omitempty"`
}

// ItemProposalRequest registers an item-proposal.
type ItemProposalRequest struct {
	Creator       types.VoterID   `json:"creator"`
	Project       types.ProjectID `json:"project"`
	Key           types.ItemKey   `json:"key"`
	Value         json.RawMessage `json:"value"`
	Reference     string          `json:"reference,omitempty"`
	CreatorWeight int64           `json:"creator_weight,omitempty"`
}

// ProposeProject registers a proposal covering several keys of a project.
func (e *Engine) ProposeProject(ctx context.Context, req ProjectProposalRequest) (*types.ProjectProposal, error) {
	if req.Creator == "" {
		return nil, ErrMissingVoter
	}
	if len(req.Values) == 0 {
		return nil, ErrNoValues
	}
	if err := e.config.checkWeight(req.CreatorWeight, true); err != nil {
		return nil, err
	}

	var out *types.ProjectProposal
	err := e.update(ctx, opProposeProject, func(tx store.Tx, fx *effects) error {
		keys := make([]types.ItemKey, 0, len(req.Values))
		for key := range req.Values {
			keys = append(keys, key)
		}
		p, err := e.openItems(tx, req.Project, keys)
		if err != nil {
			return err
		}

		c, err := types.NewProjectProposal(types.NewID(), req.Project, req.Creator, req.Values, req.Reference, tx.Now())
		if err != nil {
			return badRequest(err)
		}
		if err := tx.InsertCandidate(c); err != nil {
			return err
		}
		if err := e.creatorVotes(tx, p, c, req.CreatorWeight, fx); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ProposeItem registers a proposal for a single key. A second proposal with
// an identical value for the same key is rejected.
func (e *Engine) ProposeItem(ctx context.Context, req ItemProposalRequest) (*types.ItemProposal, error) {
	if req.Creator == "" {
		return nil, ErrMissingVoter
	}
	if err := e.config.checkWeight(req.CreatorWeight, true); err != nil {
		return nil, err
	}

	var out *types.ItemProposal
	err := e.update(ctx, opProposeItem, func(tx store.Tx, fx *effects) error {
		p, err := e.openItems(tx, req.Project, []types.ItemKey{req.Key})
		if err != nil {
			return err
		}

		c, err := types.NewItemProposal(types.NewID(), req.Project, req.Creator, req.Key, req.Value, req.Reference, tx.Now())
		if err != nil {
			return badRequest(err)
		}
		_, err = tx.CandidateByHash(req.Project, req.Key, c.ContentHash())
		switch {
		case err == nil:
			return ErrDuplicateProposal
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		if err := tx.InsertCandidate(c); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("%w: %w", ErrDuplicateProposal, err)
			}
			return err
		}
		if err := e.creatorVotes(tx, p, c, req.CreatorWeight, fx); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// openItems locks keys of the project in key order, then returns the
// project. Like openItem, the published flag is read under the locks.
func (e *Engine) openItems(tx store.Tx, id types.ProjectID, keys []types.ItemKey) (*types.Project, error) {
	sorted := append([]types.ItemKey(nil), keys...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	for _, key := range sorted {
		if _, err := e.openItem(tx, id, key); err != nil {
			return nil, err
		}
	}
	return tx.Project(id)
}

// creatorVotes records the creator's vote on every key c covers, skipping
// keys where the creator already holds a vote, and re-evaluates those keys.
func (e *Engine) creatorVotes(tx store.Tx, p *types.Project, c types.Candidate, weight int64, fx *effects) error {
	if !e.config.ImplicitCreatorVote || weight <= 0 {
		return nil
	}

	keys := c.Keys()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, key := range keys {
		item, err := tx.LockItem(p.ID, key)
		if err != nil {
			return err
		}
		_, err = tx.LiveAllocation(c.Creator(), p.ID, key)
		if err == nil {
			continue
		}
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		now := tx.Now()
		a := &types.VoteAllocation{
			ID:        types.NewID(),
			Voter:     c.Creator(),
			Project:   p.ID,
			Key:       key,
			Weight:    weight,
			Candidate: c.Ref(),
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertAllocation(a); err != nil {
			return err
		}
		fx.vote(types.Event{
			Type:       types.EventCast,
			Time:       now,
			Project:    p.ID,
			Key:        key,
			Voter:      a.Voter,
			Allocation: types.CopyAllocation(a),
		})
		if _, err := e.reevaluate(tx, p.ID, item, fx); err != nil {
			return err
		}
	}
	return nil
}

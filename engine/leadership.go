package engine

import (
	"errors"

	"github.com/blockberries/tallyberry/store"
	"github.com/blockberries/tallyberry/types"
)

// transition is a committed change of leader on one key. From or To may be
// nil.
type transition struct {
	project types.ProjectID
	key     types.ItemKey
	from    *types.CandidateRef
	to      *types.CandidateRef
}

// liveLeadership returns the live record for the key, or nil.
func liveLeadership(r store.Reader, project types.ProjectID, key types.ItemKey) (*types.LeadershipRecord, error) {
	rec, err := r.LiveLeadership(project, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// recordLeadership brings the leadership log in line with d. The live
// record is superseded when the leader changes or disappears, and a new live
// record is appended for a new leader. An unchanged decision writes nothing.
func recordLeadership(
	tx store.Tx,
	project types.ProjectID,
	key types.ItemKey,
	live *types.LeadershipRecord,
	d *Decision,
) (*transition, error) {
	var current *types.CandidateRef
	if live != nil {
		current = &live.Candidate
	}
	if types.RefEqual(current, d.Leader) {
		return nil, nil
	}

	if live != nil {
		if err := tx.SupersedeLeadership(live.ID); err != nil {
			return nil, err
		}
	}
	if d.Leader != nil {
		rec := &types.LeadershipRecord{
			ID:        types.NewID(),
			Project:   project,
			Key:       key,
			Candidate: *d.Leader,
			CreatedAt: tx.Now(),
		}
		if err := tx.InsertLeadership(rec); err != nil {
			return nil, err
		}
	}

	return &transition{
		project: project,
		key:     key,
		from:    types.CopyRef(current),
		to:      types.CopyRef(d.Leader),
	}, nil
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/blockberries/tallyberry/store"
	"github.com/blockberries/tallyberry/types"
	"github.com/blockberries/tallyberry/wal"
)

// Errors for journal replay
var (
	ErrReplayFailed = errors.New("journal replay failed")
	ErrNoJournal    = errors.New("no journal reader")
)

// KeyState is the replayed picture of one key: the support held by each
// candidate through live allocations and the last announced leader.
type KeyState struct {
	Project      types.ProjectID
	Key          types.ItemKey
	Weights      map[types.CandidateRef]int64
	Participants map[types.CandidateRef]int
	Leader       *types.CandidateRef
}

// ReplayResult contains the result of a journal replay.
type ReplayResult struct {
	// Number of events replayed
	Events int
	// Sequence number of the last event
	LastSeq uint64

	live    map[string]*types.VoteAllocation
	leaders map[itemKey]*types.CandidateRef
	keys    map[itemKey]struct{}
}

// Replay folds the journal into live allocations and per-key leaders.
// Events must arrive in journal order.
func Replay(r wal.Reader) (*ReplayResult, error) {
	if r == nil {
		return nil, ErrNoJournal
	}
	res := &ReplayResult{
		live:    make(map[string]*types.VoteAllocation),
		leaders: make(map[itemKey]*types.CandidateRef),
		keys:    make(map[itemKey]struct{}),
	}
	err := wal.ForEachEvent(r, func(seq uint64, ev types.Event) error {
		if err := res.apply(ev); err != nil {
			return fmt.Errorf("%w: seq %d: %w", ErrReplayFailed, seq, err)
		}
		res.Events++
		res.LastSeq = seq
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (res *ReplayResult) apply(ev types.Event) error {
	k := itemKey{ev.Project, ev.Key}
	res.keys[k] = struct{}{}

	switch ev.Type {
	case types.EventCast, types.EventSwitch:
		if ev.Allocation == nil {
			return fmt.Errorf("%s event without allocation", ev.Type)
		}
		res.live[ev.Allocation.ID] = types.CopyAllocation(ev.Allocation)
	case types.EventCancel:
		if ev.Allocation == nil {
			return errors.New("cancel event without allocation")
		}
		delete(res.live, ev.Allocation.ID)
	case types.EventLeader:
		res.leaders[k] = types.CopyRef(ev.To)
	default:
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	return nil
}

// Keys returns the state of every key seen in the journal, ordered by
// project and key.
func (res *ReplayResult) Keys() []*KeyState {
	states := make(map[itemKey]*KeyState, len(res.keys))
	for k := range res.keys {
		states[k] = &KeyState{
			Project:      k.project,
			Key:          k.key,
			Weights:      make(map[types.CandidateRef]int64),
			Participants: make(map[types.CandidateRef]int),
			Leader:       types.CopyRef(res.leaders[k]),
		}
	}
	for _, a := range res.live {
		s := states[itemKey{a.Project, a.Key}]
		s.Weights[a.Candidate] = addWeight(s.Weights[a.Candidate], a.Weight)
		s.Participants[a.Candidate]++
	}

	out := make([]*KeyState, 0, len(states))
	for _, s := range states {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Project != out[j].Project {
			return out[i].Project < out[j].Project
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// Mismatch is one disagreement between the journal and the store.
type Mismatch struct {
	Project   types.ProjectID
	Key       types.ItemKey
	Candidate *types.CandidateRef
	Field     string
	Journal   string
	Store     string
}

func (m Mismatch) String() string {
	where := fmt.Sprintf("%s/%s", m.Project, m.Key)
	if m.Candidate != nil {
		where += " " + m.Candidate.String()
	}
	return fmt.Sprintf("%s %s: journal=%s store=%s", where, m.Field, m.Journal, m.Store)
}

// VerifyReport is the outcome of Verify.
type VerifyReport struct {
	Events     int
	LastSeq    uint64
	Keys       int
	Mismatches []Mismatch
}

// OK reports whether the journal and the store agree.
func (v *VerifyReport) OK() bool {
	return len(v.Mismatches) == 0
}

// Verify replays the journal and compares, for every key it mentions, the
// per-candidate weight and participant count and the live leader against the
// store. The journal is written after commit, so a failed append shows up
// here as a mismatch.
func (e *Engine) Verify(ctx context.Context, r wal.Reader) (*VerifyReport, error) {
	res, err := Replay(r)
	if err != nil {
		return nil, err
	}
	keys := res.Keys()
	report := &VerifyReport{
		Events:  res.Events,
		LastSeq: res.LastSeq,
		Keys:    len(keys),
	}

	err = e.store.View(ctx, func(rd store.Reader) error {
		for _, ks := range keys {
			mm, err := compareKey(rd, ks)
			if err != nil {
				return err
			}
			report.Mismatches = append(report.Mismatches, mm...)
		}
		return nil
	})
	if err != nil {
		return nil, fromStore(err)
	}

	if !report.OK() {
		e.log.WithField("mismatches", len(report.Mismatches)).Warn("journal disagrees with store")
	}
	return report, nil
}

func compareKey(r store.Reader, ks *KeyState) ([]Mismatch, error) {
	allocations, err := r.LiveAllocations(ks.Project, ks.Key)
	if err != nil {
		return nil, err
	}
	weights := make(map[types.CandidateRef]int64)
	participants := make(map[types.CandidateRef]int)
	for _, a := range allocations {
		weights[a.Candidate] = addWeight(weights[a.Candidate], a.Weight)
		participants[a.Candidate]++
	}

	refs := make(map[types.CandidateRef]struct{})
	for ref := range weights {
		refs[ref] = struct{}{}
	}
	for ref := range ks.Weights {
		refs[ref] = struct{}{}
	}
	sorted := make([]types.CandidateRef, 0, len(refs))
	for ref := range refs {
		sorted = append(sorted, ref)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].ID != sorted[j].ID {
			return sorted[i].ID < sorted[j].ID
		}
		return sorted[i].Kind < sorted[j].Kind
	})

	var out []Mismatch
	for _, ref := range sorted {
		ref := ref
		if ks.Weights[ref] != weights[ref] {
			out = append(out, Mismatch{
				Project: ks.Project, Key: ks.Key, Candidate: &ref, Field: "weight",
				Journal: fmt.Sprint(ks.Weights[ref]), Store: fmt.Sprint(weights[ref]),
			})
		}
		if ks.Participants[ref] != participants[ref] {
			out = append(out, Mismatch{
				Project: ks.Project, Key: ks.Key, Candidate: &ref, Field: "participants",
				Journal: fmt.Sprint(ks.Participants[ref]), Store: fmt.Sprint(participants[ref]),
			})
		}
	}

	live, err := liveLeadership(r, ks.Project, ks.Key)
	if err != nil {
		return nil, err
	}
	var leader *types.CandidateRef
	if live != nil {
		leader = &live.Candidate
	}
	if !types.RefEqual(leader, ks.Leader) {
		out = append(out, Mismatch{
			Project: ks.Project, Key: ks.Key, Field: "leader",
			Journal: refString(ks.Leader), Store: refString(leader),
		})
	}
	return out, nil
}

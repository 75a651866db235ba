package engine

import (
	"math"
	"sort"
	"time"

	"github.com/blockberries/tallyberry/types"
)

// Thresholds a candidate must reach to be validated.
type Thresholds struct {
	Quorum       int   `json:"quorum"`
	PointsNeeded int64 `json:"points_needed"`
}

// Tally is the accumulated support for one candidate on one key.
type Tally struct {
	Candidate    types.CandidateRef `json:"candidate"`
	CreatedAt    time.Time          `json:"created_at"`
	Weight       int64              `json:"weight"`
	Participants int                `json:"participants"`
	Validated    bool               `json:"validated"`
}

// Decision is the evaluator's verdict for one key.
type Decision struct {
	// Leader is nil when no candidate is validated.
	Leader *types.CandidateRef
	// Incumbent is the leader the decision was taken against.
	Incumbent *types.CandidateRef
	// Tallies are ordered by weight, then age, then id.
	Tallies []Tally
	// Changed is true when Leader differs from Incumbent.
	Changed bool
}

// Tally returns the tally for ref, if any.
func (d *Decision) Tally(ref types.CandidateRef) (Tally, bool) {
	for _, t := range d.Tallies {
		if t.Candidate == ref {
			return t, true
		}
	}
	return Tally{}, false
}

// Evaluate computes totals from the live allocations of one key and decides
// who leads it. candidates supplies creation times for tie-breaking; a
// candidate without allocations gets a zero tally. Evaluate has no side
// effects.
//
// Rules: a candidate is validated when it has at least th.Quorum distinct
// voters and at least th.PointsNeeded weight. A validated incumbent keeps
// the lead unless a challenger strictly exceeds its weight. Otherwise the
// heaviest validated candidate leads, ties going to the older candidate and
// then to the smaller id. With no validated candidate the key has no leader.
func Evaluate(
	candidates []types.Candidate,
	allocations []*types.VoteAllocation,
	incumbent *types.CandidateRef,
	th Thresholds,
) *Decision {
	tallies := make(map[types.CandidateRef]*Tally, len(candidates))
	voters := make(map[types.CandidateRef]map[types.VoterID]struct{}, len(candidates))

	get := func(ref types.CandidateRef) *Tally {
		t, ok := tallies[ref]
		if !ok {
			t = &Tally{Candidate: ref}
			tallies[ref] = t
			voters[ref] = make(map[types.VoterID]struct{})
		}
		return t
	}

	for _, c := range candidates {
		get(c.Ref()).CreatedAt = c.CreatedAt()
	}
	for _, a := range allocations {
		if a.IsDeleted() {
			continue
		}
		t := get(a.Candidate)
		t.Weight = addWeight(t.Weight, a.Weight)
		voters[a.Candidate][a.Voter] = struct{}{}
	}

	d := &Decision{
		Incumbent: types.CopyRef(incumbent),
		Tallies:   make([]Tally, 0, len(tallies)),
	}
	for ref, t := range tallies {
		t.Participants = len(voters[ref])
		t.Validated = t.Participants >= th.Quorum && t.Weight >= th.PointsNeeded
		d.Tallies = append(d.Tallies, *t)
	}
	sortTallies(d.Tallies)

	var best *Tally
	for i := range d.Tallies {
		if d.Tallies[i].Validated {
			best = &d.Tallies[i]
			break
		}
	}

	if incumbent != nil {
		if inc, ok := tallies[*incumbent]; ok && inc.Validated {
			if best == nil || best.Weight <= inc.Weight {
				best = inc
			}
		}
	}

	if best != nil {
		ref := best.Candidate
		d.Leader = &ref
	}
	d.Changed = !types.RefEqual(d.Leader, d.Incumbent)
	return d
}

// sortTallies orders by weight descending, then creation ascending, then id.
func sortTallies(ts []Tally) {
	sort.Slice(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		if a.Weight != b.Weight {
			return a.Weight > b.Weight
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if a.Candidate.ID != b.Candidate.ID {
			return a.Candidate.ID < b.Candidate.ID
		}
		return a.Candidate.Kind < b.Candidate.Kind
	})
}

// addWeight sums non-negative weights, saturating at math.MaxInt64.
func addWeight(a, b int64) int64 {
	if b > math.MaxInt64-a {
		return math.MaxInt64
	}
	return a + b
}

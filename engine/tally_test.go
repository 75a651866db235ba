package engine

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/tallyberry/types"
)

var tallyEpoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func makeTestCandidate(t *testing.T, id string, age time.Duration) types.Candidate {
	t.Helper()
	c, err := types.NewItemProposal(id, "p1", types.VoterID("creator-"+id), "title",
		json.RawMessage(`"`+id+`"`), "", tallyEpoch.Add(age))
	require.NoError(t, err)
	return c
}

func makeTestAllocation(voter string, ref types.CandidateRef, weight int64) *types.VoteAllocation {
	return &types.VoteAllocation{
		ID:        "a-" + voter,
		Voter:     types.VoterID(voter),
		Project:   "p1",
		Key:       "title",
		Weight:    weight,
		Candidate: ref,
		CreatedAt: tallyEpoch,
		UpdatedAt: tallyEpoch,
	}
}

func TestEvaluateQuorumAndPoints(t *testing.T) {
	a := makeTestCandidate(t, "a", 0)
	th := Thresholds{Quorum: 3, PointsNeeded: 100}

	allocs := []*types.VoteAllocation{
		makeTestAllocation("v1", a.Ref(), 60),
		makeTestAllocation("v2", a.Ref(), 60),
	}
	d := Evaluate([]types.Candidate{a}, allocs, nil, th)
	assert.Nil(t, d.Leader, "two voters do not meet quorum")
	tally, ok := d.Tally(a.Ref())
	require.True(t, ok)
	assert.Equal(t, int64(120), tally.Weight)
	assert.Equal(t, 2, tally.Participants)
	assert.False(t, tally.Validated)
	assert.False(t, d.Changed)

	allocs = append(allocs, makeTestAllocation("v3", a.Ref(), 1))
	d = Evaluate([]types.Candidate{a}, allocs, nil, th)
	require.NotNil(t, d.Leader)
	assert.Equal(t, a.Ref(), *d.Leader)
	assert.True(t, d.Changed)
}

func TestEvaluatePointsShortfall(t *testing.T) {
	a := makeTestCandidate(t, "a", 0)
	allocs := []*types.VoteAllocation{
		makeTestAllocation("v1", a.Ref(), 30),
		makeTestAllocation("v2", a.Ref(), 30),
		makeTestAllocation("v3", a.Ref(), 30),
	}
	d := Evaluate([]types.Candidate{a}, allocs, nil, Thresholds{Quorum: 3, PointsNeeded: 100})
	assert.Nil(t, d.Leader)
}

func TestEvaluateIncumbentKeepsTie(t *testing.T) {
	a := makeTestCandidate(t, "a", time.Second) // younger
	b := makeTestCandidate(t, "b", 0)
	th := Thresholds{Quorum: 1, PointsNeeded: 10}

	allocs := []*types.VoteAllocation{
		makeTestAllocation("v1", a.Ref(), 50),
		makeTestAllocation("v2", b.Ref(), 50),
	}
	inc := a.Ref()
	d := Evaluate([]types.Candidate{a, b}, allocs, &inc, th)
	require.NotNil(t, d.Leader)
	assert.Equal(t, a.Ref(), *d.Leader, "incumbent keeps the lead on a tie")
	assert.False(t, d.Changed)

	allocs[1].Weight = 51
	d = Evaluate([]types.Candidate{a, b}, allocs, &inc, th)
	require.NotNil(t, d.Leader)
	assert.Equal(t, b.Ref(), *d.Leader, "a strictly heavier challenger takes over")
	assert.True(t, d.Changed)
}

func TestEvaluateTieBreakByAge(t *testing.T) {
	a := makeTestCandidate(t, "a", time.Second)
	b := makeTestCandidate(t, "b", 0)
	allocs := []*types.VoteAllocation{
		makeTestAllocation("v1", a.Ref(), 50),
		makeTestAllocation("v2", b.Ref(), 50),
	}
	d := Evaluate([]types.Candidate{a, b}, allocs, nil, Thresholds{Quorum: 1, PointsNeeded: 10})
	require.NotNil(t, d.Leader)
	assert.Equal(t, b.Ref(), *d.Leader, "older candidate wins a tie")
	assert.Equal(t, b.Ref(), d.Tallies[0].Candidate)
}

func TestEvaluateInvalidIncumbentReplaced(t *testing.T) {
	a := makeTestCandidate(t, "a", 0)
	b := makeTestCandidate(t, "b", time.Second)
	allocs := []*types.VoteAllocation{
		makeTestAllocation("v1", a.Ref(), 5),
		makeTestAllocation("v2", b.Ref(), 20),
	}
	inc := a.Ref()
	d := Evaluate([]types.Candidate{a, b}, allocs, &inc, Thresholds{Quorum: 1, PointsNeeded: 10})
	require.NotNil(t, d.Leader)
	assert.Equal(t, b.Ref(), *d.Leader)
	require.NotNil(t, d.Incumbent)
	assert.Equal(t, a.Ref(), *d.Incumbent)
}

func TestEvaluateVacates(t *testing.T) {
	a := makeTestCandidate(t, "a", 0)
	inc := a.Ref()
	d := Evaluate([]types.Candidate{a}, nil, &inc, Thresholds{Quorum: 1, PointsNeeded: 1})
	assert.Nil(t, d.Leader)
	assert.True(t, d.Changed)
	require.Len(t, d.Tallies, 1)
	assert.Zero(t, d.Tallies[0].Weight)
}

func TestEvaluateIgnoresDeleted(t *testing.T) {
	a := makeTestCandidate(t, "a", 0)
	gone := makeTestAllocation("v1", a.Ref(), 100)
	at := tallyEpoch
	gone.DeletedAt = &at

	d := Evaluate([]types.Candidate{a}, []*types.VoteAllocation{gone}, nil, Thresholds{Quorum: 1, PointsNeeded: 1})
	assert.Nil(t, d.Leader)
	tally, ok := d.Tally(a.Ref())
	require.True(t, ok)
	assert.Zero(t, tally.Participants)
}

func TestEvaluateUnknownCandidateStillCounted(t *testing.T) {
	orphan := types.ItemRef("orphan")
	allocs := []*types.VoteAllocation{makeTestAllocation("v1", orphan, 10)}
	d := Evaluate(nil, allocs, nil, Thresholds{Quorum: 1, PointsNeeded: 10})
	require.NotNil(t, d.Leader)
	assert.Equal(t, orphan, *d.Leader)
}

func TestEvaluateWeightSaturates(t *testing.T) {
	a := makeTestCandidate(t, "a", 0)
	allocs := []*types.VoteAllocation{
		makeTestAllocation("v1", a.Ref(), math.MaxInt64),
		makeTestAllocation("v2", a.Ref(), 1),
	}
	d := Evaluate([]types.Candidate{a}, allocs, nil, Thresholds{Quorum: 2, PointsNeeded: 100})

	tally, ok := d.Tally(a.Ref())
	require.True(t, ok)
	assert.Equal(t, int64(math.MaxInt64), tally.Weight)
	assert.True(t, tally.Validated)
	require.NotNil(t, d.Leader)
	assert.Equal(t, a.Ref(), *d.Leader)
}

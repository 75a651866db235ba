// Package storetest is a compatibility kit every store.Store backend runs
// from its own tests.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blockberries/tallyberry/store"
	"github.com/blockberries/tallyberry/types"
)

// Factory returns a fresh, empty store. The kit closes it.
type Factory func(t *testing.T) store.Store

// Run executes the kit against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("Projects", func(t *testing.T) { testProjects(t, newStore(t)) })
	t.Run("Candidates", func(t *testing.T) { testCandidates(t, newStore(t)) })
	t.Run("Allocations", func(t *testing.T) { testAllocations(t, newStore(t)) })
	t.Run("LiveAllocationUnique", func(t *testing.T) { testLiveAllocationUnique(t, newStore(t)) })
	t.Run("Leadership", func(t *testing.T) { testLeadership(t, newStore(t)) })
	t.Run("Rollback", func(t *testing.T) { testRollback(t, newStore(t)) })
	t.Run("ConcurrentInsert", func(t *testing.T) { testConcurrentInsert(t, newStore(t)) })
}

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func seedProject(t *testing.T, s store.Store) *types.Project {
	t.Helper()
	p := &types.Project{
		ID:        "p1",
		Name:      "demo",
		Items:     []types.Item{{Key: "title", PointsNeeded: 10}, {Key: "year"}},
		CreatedAt: epoch,
	}
	require.NoError(t, s.Update(context.Background(), func(tx store.Tx) error {
		return tx.InsertProject(p)
	}))
	return p
}

func seedItemProposal(t *testing.T, s store.Store, id string, key types.ItemKey, value string) *types.ItemProposal {
	t.Helper()
	c, err := types.NewItemProposal(id, "p1", "creator", key, json.RawMessage(value), "ref", epoch)
	require.NoError(t, err)
	require.NoError(t, s.Update(context.Background(), func(tx store.Tx) error {
		return tx.InsertCandidate(c)
	}))
	return c
}

func allocation(id string, voter types.VoterID, ref types.CandidateRef) *types.VoteAllocation {
	return &types.VoteAllocation{
		ID:        id,
		Voter:     voter,
		Project:   "p1",
		Key:       "title",
		Weight:    3,
		Candidate: ref,
		CreatedAt: epoch,
		UpdatedAt: epoch,
	}
}

func testProjects(t *testing.T, s store.Store) {
	defer s.Close()
	require := require.New(t)
	ctx := context.Background()

	seedProject(t, s)

	err := s.Update(ctx, func(tx store.Tx) error {
		return tx.InsertProject(&types.Project{ID: "p1", Items: []types.Item{{Key: "x"}}, CreatedAt: epoch})
	})
	require.ErrorIs(err, store.ErrConflict)

	require.NoError(s.View(ctx, func(r store.Reader) error {
		p, err := r.Project("p1")
		require.NoError(err)
		require.Equal("demo", p.Name)
		require.False(p.IsPublished)
		require.Equal([]types.ItemKey{"title", "year"}, p.Keys())
		require.True(epoch.Equal(p.CreatedAt))

		_, err = r.Project("missing")
		require.ErrorIs(err, store.ErrNotFound)
		return nil
	}))

	require.NoError(s.Update(ctx, func(tx store.Tx) error {
		it, err := tx.LockItem("p1", "title")
		require.NoError(err)
		require.Equal(int64(10), it.PointsNeeded)

		_, err = tx.LockItem("p1", "nope")
		require.ErrorIs(err, store.ErrNotFound)

		return tx.SetPublished("p1")
	}))

	require.NoError(s.View(ctx, func(r store.Reader) error {
		p, err := r.Project("p1")
		require.NoError(err)
		require.True(p.IsPublished)
		return nil
	}))

	err = s.Update(ctx, func(tx store.Tx) error { return tx.SetPublished("missing") })
	require.ErrorIs(err, store.ErrNotFound)
}

func testCandidates(t *testing.T, s store.Store) {
	defer s.Close()
	require := require.New(t)
	ctx := context.Background()

	seedProject(t, s)
	item := seedItemProposal(t, s, "i1", "title", `{"a": 1}`)

	pp, err := types.NewProjectProposal("pp1", "p1", "creator", map[types.ItemKey]json.RawMessage{
		"title": json.RawMessage(`"Dune"`),
		"year":  json.RawMessage(`1965`),
	}, "", epoch.Add(time.Second))
	require.NoError(err)
	require.NoError(s.Update(ctx, func(tx store.Tx) error { return tx.InsertCandidate(pp) }))

	err = s.Update(ctx, func(tx store.Tx) error { return tx.InsertCandidate(item) })
	require.ErrorIs(err, store.ErrConflict)

	// another author proposing the same value for the same key
	twin, err := types.NewItemProposal("i2", "p1", "someone", "title", json.RawMessage(`{"a":1}`), "", epoch)
	require.NoError(err)
	err = s.Update(ctx, func(tx store.Tx) error { return tx.InsertCandidate(twin) })
	require.ErrorIs(err, store.ErrConflict)
	other, err := types.NewItemProposal("i3", "p1", "someone", "year", json.RawMessage(`{"a":1}`), "", epoch)
	require.NoError(err)
	require.NoError(s.Update(ctx, func(tx store.Tx) error { return tx.InsertCandidate(other) }))

	require.NoError(s.View(ctx, func(r store.Reader) error {
		c, err := r.Candidate(types.ItemRef("i1"))
		require.NoError(err)
		v, ok := c.Value("title")
		require.True(ok)
		require.JSONEq(`{"a":1}`, string(v))
		require.Equal(types.VoterID("creator"), c.Creator())
		require.Equal("ref", c.Reference())
		require.True(types.HashEqual(item.ContentHash(), c.ContentHash()))

		c, err = r.Candidate(types.ProjectRef("pp1"))
		require.NoError(err)
		require.Equal([]types.ItemKey{"title", "year"}, c.Keys())

		_, err = r.Candidate(types.ProjectRef("i1"))
		require.ErrorIs(err, store.ErrNotFound)

		all, err := r.Candidates("p1", "title")
		require.NoError(err)
		require.Len(all, 2)
		require.Equal(types.ItemRef("i1"), all[0].Ref())
		require.Equal(types.ProjectRef("pp1"), all[1].Ref())

		years, err := r.Candidates("p1", "year")
		require.NoError(err)
		require.Len(years, 2)

		found, err := r.CandidateByHash("p1", "title", item.ContentHash())
		require.NoError(err)
		require.Equal(item.Ref(), found.Ref())

		_, err = r.CandidateByHash("p1", "year", item.ContentHash())
		require.ErrorIs(err, store.ErrNotFound)
		return nil
	}))
}

func testAllocations(t *testing.T, s store.Store) {
	defer s.Close()
	require := require.New(t)
	ctx := context.Background()

	seedProject(t, s)
	seedItemProposal(t, s, "i1", "title", `"a"`)
	seedItemProposal(t, s, "i2", "title", `"b"`)

	require.NoError(s.Update(ctx, func(tx store.Tx) error {
		if err := tx.InsertAllocation(allocation("a1", "alice", types.ItemRef("i1"))); err != nil {
			return err
		}
		b := allocation("a2", "bob", types.ItemRef("i1"))
		b.CreatedAt = epoch.Add(time.Second)
		return tx.InsertAllocation(b)
	}))

	require.NoError(s.View(ctx, func(r store.Reader) error {
		live, err := r.LiveAllocations("p1", "title")
		require.NoError(err)
		require.Len(live, 2)
		require.Equal("a1", live[0].ID)
		require.Equal("a2", live[1].ID)

		a, err := r.LiveAllocation("alice", "p1", "title")
		require.NoError(err)
		require.Equal(int64(3), a.Weight)
		require.Equal(types.ItemRef("i1"), a.Candidate)
		require.False(a.IsDeleted())

		_, err = r.LiveAllocation("carol", "p1", "title")
		require.ErrorIs(err, store.ErrNotFound)
		return nil
	}))

	// switch alice, cancel bob
	require.NoError(s.Update(ctx, func(tx store.Tx) error {
		a, err := tx.LiveAllocation("alice", "p1", "title")
		if err != nil {
			return err
		}
		a.Candidate = types.ItemRef("i2")
		a.Weight = 5
		a.UpdatedAt = tx.Now()
		if err := tx.UpdateAllocation(a); err != nil {
			return err
		}
		return tx.DeleteAllocation("a2")
	}))

	require.NoError(s.View(ctx, func(r store.Reader) error {
		a, err := r.Allocation("a1")
		require.NoError(err)
		require.Equal(types.ItemRef("i2"), a.Candidate)
		require.Equal(int64(5), a.Weight)

		b, err := r.Allocation("a2")
		require.NoError(err)
		require.True(b.IsDeleted())

		live, err := r.LiveAllocations("p1", "title")
		require.NoError(err)
		require.Len(live, 1)

		mine, err := r.VoterAllocations("bob", "p1")
		require.NoError(err)
		require.Empty(mine)
		return nil
	}))

	err := s.Update(ctx, func(tx store.Tx) error { return tx.DeleteAllocation("a2") })
	require.ErrorIs(err, store.ErrNotFound)

	// a cancelled voter may vote again
	require.NoError(s.Update(ctx, func(tx store.Tx) error {
		return tx.InsertAllocation(allocation("a3", "bob", types.ItemRef("i2")))
	}))
}

func testLiveAllocationUnique(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	seedProject(t, s)
	seedItemProposal(t, s, "i1", "title", `"a"`)

	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		return tx.InsertAllocation(allocation("a1", "alice", types.ItemRef("i1")))
	}))
	err := s.Update(ctx, func(tx store.Tx) error {
		return tx.InsertAllocation(allocation("a2", "alice", types.ItemRef("i1")))
	})
	require.ErrorIs(t, err, store.ErrConflict)
}

func testLeadership(t *testing.T, s store.Store) {
	defer s.Close()
	require := require.New(t)
	ctx := context.Background()

	seedProject(t, s)
	seedItemProposal(t, s, "i1", "title", `"a"`)
	seedItemProposal(t, s, "i2", "title", `"b"`)

	require.NoError(s.View(ctx, func(r store.Reader) error {
		_, err := r.LiveLeadership("p1", "title")
		require.ErrorIs(err, store.ErrNotFound)
		return nil
	}))

	require.NoError(s.Update(ctx, func(tx store.Tx) error {
		return tx.InsertLeadership(&types.LeadershipRecord{
			ID: "l1", Project: "p1", Key: "title", Candidate: types.ItemRef("i1"), CreatedAt: epoch,
		})
	}))

	err := s.Update(ctx, func(tx store.Tx) error {
		return tx.InsertLeadership(&types.LeadershipRecord{
			ID: "l2", Project: "p1", Key: "title", Candidate: types.ItemRef("i2"), CreatedAt: epoch,
		})
	})
	require.ErrorIs(err, store.ErrConflict)

	require.NoError(s.Update(ctx, func(tx store.Tx) error {
		if err := tx.SupersedeLeadership("l1"); err != nil {
			return err
		}
		return tx.InsertLeadership(&types.LeadershipRecord{
			ID: "l2", Project: "p1", Key: "title", Candidate: types.ItemRef("i2"), CreatedAt: tx.Now(),
		})
	}))

	require.NoError(s.View(ctx, func(r store.Reader) error {
		live, err := r.LiveLeadership("p1", "title")
		require.NoError(err)
		require.Equal("l2", live.ID)
		require.Equal(types.ItemRef("i2"), live.Candidate)

		hist, err := r.LeadershipHistory("p1", "title")
		require.NoError(err)
		require.Len(hist, 2)
		require.Equal("l1", hist[0].ID)
		require.True(hist[0].IsNotLeading)
		require.NotNil(hist[0].SupersededAt)
		require.Equal("l2", hist[1].ID)
		require.False(hist[1].IsNotLeading)
		require.Nil(hist[1].SupersededAt)
		return nil
	}))

	err = s.Update(ctx, func(tx store.Tx) error { return tx.SupersedeLeadership("l1") })
	require.ErrorIs(err, store.ErrNotFound)
}

func testRollback(t *testing.T, s store.Store) {
	defer s.Close()
	require := require.New(t)
	ctx := context.Background()

	seedProject(t, s)
	seedItemProposal(t, s, "i1", "title", `"a"`)

	boom := errors.New("boom")
	err := s.Update(ctx, func(tx store.Tx) error {
		if err := tx.InsertAllocation(allocation("a1", "alice", types.ItemRef("i1"))); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(err, boom)

	require.NoError(s.View(ctx, func(r store.Reader) error {
		_, err := r.Allocation("a1")
		require.ErrorIs(err, store.ErrNotFound)
		return nil
	}))
}

// testConcurrentInsert races writers that each check-then-insert the same
// voter's allocation. Exactly one must win.
func testConcurrentInsert(t *testing.T, s store.Store) {
	defer s.Close()
	ctx := context.Background()

	seedProject(t, s)
	seedItemProposal(t, s, "i1", "title", `"a"`)

	const writers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Update(ctx, func(tx store.Tx) error {
				if _, err := tx.LockItem("p1", "title"); err != nil {
					return err
				}
				_, err := tx.LiveAllocation("alice", "p1", "title")
				if err == nil {
					return store.ErrConflict
				}
				if !errors.Is(err, store.ErrNotFound) {
					return err
				}
				return tx.InsertAllocation(allocation(types.NewID(), "alice", types.ItemRef("i1")))
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, store.ErrConflict):
				conflicts++
			default:
				t.Errorf("writer %d: unexpected error: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 1, wins)
	require.Equal(t, writers-1, conflicts)
}

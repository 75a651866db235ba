// Package memory provides an in-memory implementation of store.Store for
// tests and local development.
//
// Writers are serialized by a single semaphore and work on a private clone of
// the state, which replaces the shared state on commit. Readers grab the
// current immutable snapshot and never block writers. The clone copies every
// row, so a write costs time proportional to the whole ledger; use the SQL
// store for anything beyond small data sets.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blockberries/tallyberry/store"
	"github.com/blockberries/tallyberry/types"
)

// Compile-time contract assertion
var _ store.Store = (*Store)(nil)

type itemKey struct {
	project types.ProjectID
	key     types.ItemKey
}

type voterKey struct {
	voter   types.VoterID
	project types.ProjectID
	key     types.ItemKey
}

type state struct {
	projects       map[types.ProjectID]*types.Project
	candidates     map[types.CandidateRef]types.Candidate
	candidateOrder []types.CandidateRef
	allocations    map[string]*types.VoteAllocation
	liveVotes      map[voterKey]string
	leadership     map[string]*types.LeadershipRecord
	history        map[itemKey][]string
	liveLeader     map[itemKey]string
}

func newState() *state {
	return &state{
		projects:    make(map[types.ProjectID]*types.Project),
		candidates:  make(map[types.CandidateRef]types.Candidate),
		allocations: make(map[string]*types.VoteAllocation),
		liveVotes:   make(map[voterKey]string),
		leadership:  make(map[string]*types.LeadershipRecord),
		history:     make(map[itemKey][]string),
		liveLeader:  make(map[itemKey]string),
	}
}

// clone deep-copies mutable rows. Candidates are immutable and shared.
func (s *state) clone() *state {
	c := &state{
		projects:       make(map[types.ProjectID]*types.Project, len(s.projects)),
		candidates:     make(map[types.CandidateRef]types.Candidate, len(s.candidates)),
		candidateOrder: append([]types.CandidateRef(nil), s.candidateOrder...),
		allocations:    make(map[string]*types.VoteAllocation, len(s.allocations)),
		liveVotes:      make(map[voterKey]string, len(s.liveVotes)),
		leadership:     make(map[string]*types.LeadershipRecord, len(s.leadership)),
		history:        make(map[itemKey][]string, len(s.history)),
		liveLeader:     make(map[itemKey]string, len(s.liveLeader)),
	}
	for k, v := range s.projects {
		c.projects[k] = types.CopyProject(v)
	}
	for k, v := range s.candidates {
		c.candidates[k] = v
	}
	for k, v := range s.allocations {
		c.allocations[k] = types.CopyAllocation(v)
	}
	for k, v := range s.liveVotes {
		c.liveVotes[k] = v
	}
	for k, v := range s.leadership {
		c.leadership[k] = types.CopyLeadership(v)
	}
	for k, v := range s.history {
		c.history[k] = append([]string(nil), v...)
	}
	for k, v := range s.liveLeader {
		c.liveLeader[k] = v
	}
	return c
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the transaction clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store is the in-memory backend.
type Store struct {
	sem chan struct{}

	mu     sync.RWMutex
	state  *state
	closed bool

	now func() time.Time
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		sem:   make(chan struct{}, 1),
		state: newState(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) snapshot() (*state, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, store.ErrClosed
	}
	return s.state, nil
}

// Update runs fn against a private clone and publishes it on success.
func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", store.ErrConflict, ctx.Err())
	}
	defer func() { <-s.sem }()

	current, err := s.snapshot()
	if err != nil {
		return err
	}

	tx := &txn{view: view{st: current.clone()}, now: s.now().UTC()}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", store.ErrConflict, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return store.ErrClosed
	}
	s.state = tx.st
	return nil
}

// View runs fn against the current snapshot.
func (s *Store) View(ctx context.Context, fn func(r store.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	current, err := s.snapshot()
	if err != nil {
		return err
	}
	return fn(view{st: current})
}

// Close releases the state. Further calls return store.ErrClosed.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.state = newState()
	return nil
}

// view implements store.Reader over one state. Returned rows are copies.
type view struct {
	st *state
}

func (v view) Project(id types.ProjectID) (*types.Project, error) {
	p, ok := v.st.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return types.CopyProject(p), nil
}

func (v view) Candidate(ref types.CandidateRef) (types.Candidate, error) {
	c, ok := v.st.candidates[ref]
	if !ok {
		return nil, store.ErrNotFound
	}
	return c, nil
}

func (v view) Candidates(project types.ProjectID, key types.ItemKey) ([]types.Candidate, error) {
	var out []types.Candidate
	for _, ref := range v.st.candidateOrder {
		c := v.st.candidates[ref]
		if c.OwnerProject() == project && c.Covers(key) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (v view) CandidateByHash(project types.ProjectID, key types.ItemKey, h types.Hash) (types.Candidate, error) {
	for _, ref := range v.st.candidateOrder {
		if ref.Kind != types.CandidateKindItem {
			continue
		}
		c := v.st.candidates[ref]
		if c.OwnerProject() == project && c.Covers(key) && types.HashEqual(c.ContentHash(), h) {
			return c, nil
		}
	}
	return nil, store.ErrNotFound
}

func (v view) Allocation(id string) (*types.VoteAllocation, error) {
	a, ok := v.st.allocations[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return types.CopyAllocation(a), nil
}

func (v view) LiveAllocation(voter types.VoterID, project types.ProjectID, key types.ItemKey) (*types.VoteAllocation, error) {
	id, ok := v.st.liveVotes[voterKey{voter, project, key}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return types.CopyAllocation(v.st.allocations[id]), nil
}

func (v view) LiveAllocations(project types.ProjectID, key types.ItemKey) ([]*types.VoteAllocation, error) {
	var out []*types.VoteAllocation
	for vk, id := range v.st.liveVotes {
		if vk.project == project && vk.key == key {
			out = append(out, types.CopyAllocation(v.st.allocations[id]))
		}
	}
	sortAllocations(out)
	return out, nil
}

func (v view) VoterAllocations(voter types.VoterID, project types.ProjectID) ([]*types.VoteAllocation, error) {
	var out []*types.VoteAllocation
	for vk, id := range v.st.liveVotes {
		if vk.voter == voter && vk.project == project {
			out = append(out, types.CopyAllocation(v.st.allocations[id]))
		}
	}
	sortAllocations(out)
	return out, nil
}

func (v view) LiveLeadership(project types.ProjectID, key types.ItemKey) (*types.LeadershipRecord, error) {
	id, ok := v.st.liveLeader[itemKey{project, key}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return types.CopyLeadership(v.st.leadership[id]), nil
}

func (v view) LeadershipHistory(project types.ProjectID, key types.ItemKey) ([]*types.LeadershipRecord, error) {
	ids := v.st.history[itemKey{project, key}]
	out := make([]*types.LeadershipRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, types.CopyLeadership(v.st.leadership[id]))
	}
	return out, nil
}

func sortAllocations(as []*types.VoteAllocation) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].CreatedAt.Equal(as[j].CreatedAt) {
			return as[i].CreatedAt.Before(as[j].CreatedAt)
		}
		return as[i].ID < as[j].ID
	})
}

// txn implements store.Tx on a private clone.
type txn struct {
	view
	now time.Time
}

func (t *txn) Now() time.Time { return t.now }

func (t *txn) LockItem(project types.ProjectID, key types.ItemKey) (types.Item, error) {
	p, ok := t.st.projects[project]
	if !ok {
		return types.Item{}, store.ErrNotFound
	}
	it, ok := p.Item(key)
	if !ok {
		return types.Item{}, store.ErrNotFound
	}
	return it, nil
}

func (t *txn) InsertProject(p *types.Project) error {
	if _, exists := t.st.projects[p.ID]; exists {
		return fmt.Errorf("%w: project %s exists", store.ErrConflict, p.ID)
	}
	t.st.projects[p.ID] = types.CopyProject(p)
	return nil
}

func (t *txn) SetPublished(id types.ProjectID) error {
	p, ok := t.st.projects[id]
	if !ok {
		return store.ErrNotFound
	}
	p.IsPublished = true
	return nil
}

func (t *txn) InsertCandidate(c types.Candidate) error {
	ref := c.Ref()
	if _, exists := t.st.candidates[ref]; exists {
		return fmt.Errorf("%w: candidate %s exists", store.ErrConflict, ref)
	}
	if ref.Kind == types.CandidateKindItem {
		h := c.ContentHash()
		for other, oc := range t.st.candidates {
			if other.Kind == types.CandidateKindItem && oc.OwnerProject() == c.OwnerProject() &&
				types.HashEqual(oc.ContentHash(), h) {
				return fmt.Errorf("%w: item proposal %s has the same value", store.ErrConflict, other)
			}
		}
	}
	t.st.candidates[ref] = c
	t.st.candidateOrder = append(t.st.candidateOrder, ref)
	return nil
}

func (t *txn) InsertAllocation(a *types.VoteAllocation) error {
	vk := voterKey{a.Voter, a.Project, a.Key}
	if _, exists := t.st.liveVotes[vk]; exists {
		return fmt.Errorf("%w: live allocation exists for %s on %s/%s", store.ErrConflict, a.Voter, a.Project, a.Key)
	}
	if _, exists := t.st.allocations[a.ID]; exists {
		return fmt.Errorf("%w: allocation %s exists", store.ErrConflict, a.ID)
	}
	t.st.allocations[a.ID] = types.CopyAllocation(a)
	t.st.liveVotes[vk] = a.ID
	return nil
}

func (t *txn) UpdateAllocation(a *types.VoteAllocation) error {
	cur, ok := t.st.allocations[a.ID]
	if !ok || cur.IsDeleted() {
		return store.ErrNotFound
	}
	cur.Candidate = a.Candidate
	cur.Weight = a.Weight
	cur.UpdatedAt = a.UpdatedAt
	return nil
}

func (t *txn) DeleteAllocation(id string) error {
	cur, ok := t.st.allocations[id]
	if !ok || cur.IsDeleted() {
		return store.ErrNotFound
	}
	now := t.now
	cur.DeletedAt = &now
	cur.UpdatedAt = now
	delete(t.st.liveVotes, voterKey{cur.Voter, cur.Project, cur.Key})
	return nil
}

func (t *txn) InsertLeadership(r *types.LeadershipRecord) error {
	ik := itemKey{r.Project, r.Key}
	if !r.IsNotLeading {
		if _, exists := t.st.liveLeader[ik]; exists {
			return fmt.Errorf("%w: live leadership exists for %s/%s", store.ErrConflict, r.Project, r.Key)
		}
	}
	if _, exists := t.st.leadership[r.ID]; exists {
		return fmt.Errorf("%w: leadership record %s exists", store.ErrConflict, r.ID)
	}
	t.st.leadership[r.ID] = types.CopyLeadership(r)
	t.st.history[ik] = append(t.st.history[ik], r.ID)
	if !r.IsNotLeading {
		t.st.liveLeader[ik] = r.ID
	}
	return nil
}

func (t *txn) SupersedeLeadership(id string) error {
	r, ok := t.st.leadership[id]
	if !ok || r.IsNotLeading {
		return store.ErrNotFound
	}
	now := t.now
	r.IsNotLeading = true
	r.SupersededAt = &now
	delete(t.st.liveLeader, itemKey{r.Project, r.Key})
	return nil
}

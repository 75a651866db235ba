package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/blockberries/tallyberry/store"
	"github.com/blockberries/tallyberry/types"
)

// Engine is the transactional façade over the vote ledger, the candidate
// registry and the leadership log. All methods are safe for concurrent use.
type Engine struct {
	config  *Config
	store   store.Store
	sinks   []Sink
	log     logrus.FieldLogger
	metrics *Metrics
	cache   *leaderCache
	order   *commitOrder
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Engine) { e.log = l }
}

// WithSinks appends post-commit event sinks.
func WithSinks(sinks ...Sink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, sinks...) }
}

// WithMetrics sets the metrics collectors.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an engine on top of st. A nil config uses DefaultConfig.
func New(st store.Store, config *Config, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, errors.New("engine: nil store")
	}
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.ValidateBasic(); err != nil {
		return nil, err
	}
	e := &Engine{
		config: config,
		store:  st,
		log:    logrus.StandardLogger(),
		cache:  newLeaderCache(config.CacheSize),
		order:  newCommitOrder(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return *e.config
}

// VoteRequest carries the caller's identity and current weight explicitly.
type VoteRequest struct {
	Voter     types.VoterID      `json:"voter"`
	Project   types.ProjectID    `json:"project"`
	Key       types.ItemKey      `json:"key"`
	Candidate types.CandidateRef `json:"candidate"`
	Weight    int64              `json:"weight"`
}

func (r *VoteRequest) validate() error {
	if r.Voter == "" {
		return ErrMissingVoter
	}
	if err := r.Candidate.ValidateBasic(); err != nil {
		return badRequest(err)
	}
	return nil
}

// update runs fn in one bounded write transaction and, once it commits,
// hands the collected effects to the sinks and the cache. A ticket is taken
// at the end of fn, while the transaction still holds its item locks, and
// post-commit work runs in ticket order: two transactions touching the same
// key reach the sinks in the order they committed.
func (e *Engine) update(ctx context.Context, op string, fn func(tx store.Tx, fx *effects) error) error {
	start := time.Now()
	txCtx, cancel := context.WithTimeout(ctx, e.config.TxTimeout)
	defer cancel()

	var (
		fx       *effects
		ticket   uint64
		ticketed bool
	)
	err := e.store.Update(txCtx, func(tx store.Tx) error {
		fx = &effects{}
		if err := fn(tx, fx); err != nil {
			return err
		}
		if !ticketed {
			ticket, ticketed = e.order.take(), true
		}
		return nil
	})
	err = fromStore(err)
	e.metrics.observe(op, start, err)

	if ticketed {
		e.order.wait(ticket)
		defer e.order.done()
	}
	if err != nil {
		return err
	}

	e.afterCommit(context.WithoutCancel(ctx), fx)
	return nil
}

func (e *Engine) afterCommit(ctx context.Context, fx *effects) {
	for _, k := range fx.touched {
		e.cache.invalidate(k)
	}
	for _, t := range fx.transitions {
		e.metrics.leaderChanged(t)
		e.log.WithFields(logrus.Fields{
			"project": t.project,
			"key":     t.key,
			"from":    refString(t.from),
			"to":      refString(t.to),
		}).Info("leader changed")
	}
	for _, ev := range fx.events {
		for _, s := range e.sinks {
			if err := s.Publish(ctx, ev); err != nil {
				e.metrics.sinkFailed()
				e.log.WithError(err).WithFields(logrus.Fields{
					"event":   ev.Type,
					"project": ev.Project,
					"key":     ev.Key,
				}).Warn("event sink failed")
			}
		}
	}
}

func refString(r *types.CandidateRef) string {
	if r == nil {
		return "none"
	}
	return r.String()
}

// openItem checks the project accepts key and is still open, and takes the
// item lock. The lock is taken before the published flag is read so that a
// concurrent publication is either seen or waits for us.
func (e *Engine) openItem(tx store.Tx, project types.ProjectID, key types.ItemKey) (types.Item, error) {
	item, err := tx.LockItem(project, key)
	if errors.Is(err, store.ErrNotFound) {
		if _, perr := tx.Project(project); errors.Is(perr, store.ErrNotFound) {
			return types.Item{}, ErrProjectNotFound
		}
		return types.Item{}, ErrKeyNotAccepted
	}
	if err != nil {
		return types.Item{}, err
	}
	p, err := tx.Project(project)
	if err != nil {
		return types.Item{}, err
	}
	if p.IsPublished {
		return types.Item{}, ErrVotingClosed
	}
	return item, nil
}

// loadCandidate fetches ref and checks it proposes a value for key.
func loadCandidate(r store.Reader, ref types.CandidateRef, project types.ProjectID, key types.ItemKey) (types.Candidate, error) {
	c, err := r.Candidate(ref)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w %s", ErrCandidateNotFound, ref)
	}
	if err != nil {
		return nil, err
	}
	if err := types.CheckCovers(c, project, key); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCandidateNotFound, err)
	}
	return c, nil
}

func (e *Engine) thresholds(item types.Item) Thresholds {
	return Thresholds{
		Quorum:       e.config.QuorumAmount,
		PointsNeeded: e.config.pointsNeeded(item.PointsNeeded),
	}
}

// reevaluate recomputes the key's decision from the ledger as it stands in
// tx and writes the leadership log.
func (e *Engine) reevaluate(tx store.Tx, project types.ProjectID, item types.Item, fx *effects) (*Decision, error) {
	candidates, err := tx.Candidates(project, item.Key)
	if err != nil {
		return nil, err
	}
	allocations, err := tx.LiveAllocations(project, item.Key)
	if err != nil {
		return nil, err
	}
	live, err := liveLeadership(tx, project, item.Key)
	if err != nil {
		return nil, err
	}
	var incumbent *types.CandidateRef
	if live != nil {
		incumbent = &live.Candidate
	}

	d := Evaluate(candidates, allocations, incumbent, e.thresholds(item))
	t, err := recordLeadership(tx, project, item.Key, live, d)
	if err != nil {
		return nil, err
	}
	fx.evaluated(project, item.Key, t, tx.Now())
	return d, nil
}

// CastVote records a new vote. The voter must not hold a live vote on the
// key yet; moving an existing vote is SwitchVote.
func (e *Engine) CastVote(ctx context.Context, req VoteRequest) (*types.VoteAllocation, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var out *types.VoteAllocation
	err := e.update(ctx, opCast, func(tx store.Tx, fx *effects) error {
		item, err := e.openItem(tx, req.Project, req.Key)
		if err != nil {
			return err
		}
		c, err := loadCandidate(tx, req.Candidate, req.Project, req.Key)
		if err != nil {
			return err
		}
		if err := e.config.checkWeight(req.Weight, false); err != nil {
			return err
		}
		if e.config.ImplicitCreatorVote && c.Creator() == req.Voter {
			return ErrOwnProposal
		}

		existing, err := tx.LiveAllocation(req.Voter, req.Project, req.Key)
		switch {
		case err == nil:
			if existing.Candidate.Kind != req.Candidate.Kind {
				return ErrCrossKind
			}
			return ErrAlreadyVoted
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		now := tx.Now()
		a := &types.VoteAllocation{
			ID:        types.NewID(),
			Voter:     req.Voter,
			Project:   req.Project,
			Key:       req.Key,
			Weight:    req.Weight,
			Candidate: req.Candidate,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertAllocation(a); err != nil {
			if errors.Is(err, store.ErrConflict) {
				return fmt.Errorf("%w: %w", ErrAlreadyVoted, err)
			}
			return err
		}
		fx.vote(types.Event{
			Type:       types.EventCast,
			Time:       now,
			Project:    a.Project,
			Key:        a.Key,
			Voter:      a.Voter,
			Allocation: types.CopyAllocation(a),
		})
		if _, err := e.reevaluate(tx, req.Project, item, fx); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SwitchVote moves the voter's live vote on the key to another candidate of
// the same kind, refreshing its weight. Leadership is re-evaluated once, so
// a single switch can demote one candidate and promote another.
func (e *Engine) SwitchVote(ctx context.Context, req VoteRequest) (*types.VoteAllocation, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	var out *types.VoteAllocation
	err := e.update(ctx, opSwitch, func(tx store.Tx, fx *effects) error {
		item, err := e.openItem(tx, req.Project, req.Key)
		if err != nil {
			return err
		}
		a, err := tx.LiveAllocation(req.Voter, req.Project, req.Key)
		if errors.Is(err, store.ErrNotFound) {
			return ErrNoVoteToSwitch
		}
		if err != nil {
			return err
		}
		target, err := loadCandidate(tx, req.Candidate, req.Project, req.Key)
		if err != nil {
			return err
		}
		if a.Candidate == req.Candidate {
			return ErrSameCandidate
		}
		held, err := tx.Candidate(a.Candidate)
		if err != nil {
			return err
		}
		if held.Creator() == req.Voter {
			return ErrOwnProposal
		}
		// a creator backs their own proposal only through the implicit vote
		if e.config.ImplicitCreatorVote && target.Creator() == req.Voter {
			return ErrOwnProposal
		}
		if a.Candidate.Kind != req.Candidate.Kind {
			return ErrCrossKind
		}
		if err := e.config.checkWeight(req.Weight, false); err != nil {
			return err
		}

		previous := a.Candidate
		a.Candidate = req.Candidate
		a.Weight = req.Weight
		a.UpdatedAt = tx.Now()
		if err := tx.UpdateAllocation(a); err != nil {
			return err
		}
		fx.vote(types.Event{
			Type:       types.EventSwitch,
			Time:       a.UpdatedAt,
			Project:    a.Project,
			Key:        a.Key,
			Voter:      a.Voter,
			Allocation: types.CopyAllocation(a),
			Previous:   &previous,
		})
		if _, err := e.reevaluate(tx, req.Project, item, fx); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CancelVote retracts one of the voter's live votes.
func (e *Engine) CancelVote(ctx context.Context, voter types.VoterID, allocationID string) error {
	if voter == "" {
		return ErrMissingVoter
	}

	return e.update(ctx, opCancel, func(tx store.Tx, fx *effects) error {
		a, err := tx.Allocation(allocationID)
		if errors.Is(err, store.ErrNotFound) {
			return ErrAllocationNotFound
		}
		if err != nil {
			return err
		}
		// someone else's vote is reported as missing
		if a.Voter != voter || a.IsDeleted() {
			return ErrAllocationNotFound
		}
		held, err := tx.Candidate(a.Candidate)
		if err != nil {
			return err
		}
		if held.Creator() == voter {
			return ErrOwnProposal
		}
		item, err := e.openItem(tx, a.Project, a.Key)
		if err != nil {
			return err
		}

		if err := tx.DeleteAllocation(a.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrAllocationNotFound
			}
			return err
		}
		deleted, err := tx.Allocation(a.ID)
		if err != nil {
			return err
		}
		fx.vote(types.Event{
			Type:       types.EventCancel,
			Time:       tx.Now(),
			Project:    a.Project,
			Key:        a.Key,
			Voter:      a.Voter,
			Allocation: deleted,
		})
		_, err = e.reevaluate(tx, a.Project, item, fx)
		return err
	})
}

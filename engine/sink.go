package engine

import (
	"context"
	"sync"
	"time"

	"github.com/blockberries/tallyberry/types"
)

// Sink receives events after their transaction has committed, in commit
// order. Sinks run on the caller's goroutine and one transaction's events
// are delivered before the next one's begin, so a slow sink delays later
// operations. A failing sink is logged and counted and never changes the
// result of the operation.
type Sink interface {
	Publish(ctx context.Context, ev types.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, ev types.Event) error

// Publish calls f.
func (f SinkFunc) Publish(ctx context.Context, ev types.Event) error {
	return f(ctx, ev)
}

// effects collects what a transaction must announce once it commits.
type effects struct {
	events      []types.Event
	transitions []*transition
	touched     []itemKey
}

func (fx *effects) vote(ev types.Event) {
	fx.events = append(fx.events, ev)
}

func (fx *effects) evaluated(project types.ProjectID, key types.ItemKey, t *transition, at time.Time) {
	fx.touched = append(fx.touched, itemKey{project, key})
	if t == nil {
		return
	}
	fx.transitions = append(fx.transitions, t)
	fx.events = append(fx.events, types.Event{
		Type:    types.EventLeader,
		Time:    at,
		Project: project,
		Key:     key,
		From:    t.from,
		To:      t.to,
	})
}

// commitOrder releases post-commit work one transaction at a time, in the
// order tickets were taken. Every ticket taken must be waited for and then
// marked done, even when its transaction failed to commit.
type commitOrder struct {
	mu   sync.Mutex
	cond *sync.Cond
	next uint64 // next ticket to hand out
	turn uint64 // ticket allowed to run
}

func newCommitOrder() *commitOrder {
	o := &commitOrder{}
	o.cond = sync.NewCond(&o.mu)
	return o
}

func (o *commitOrder) take() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	t := o.next
	o.next++
	return t
}

// wait blocks until ticket t is the one allowed to run.
func (o *commitOrder) wait(t uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for o.turn != t {
		o.cond.Wait()
	}
}

// done passes the turn to the next ticket.
func (o *commitOrder) done() {
	o.mu.Lock()
	o.turn++
	o.mu.Unlock()
	o.cond.Broadcast()
}

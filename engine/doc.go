// Package engine implements the weighted vote ledger and per-key leader
// determination.
//
// Members propose values for the item keys of a project and back proposals
// with their current weight. The engine keeps at most one live vote per
// voter and key, recomputes support on every change and records who leads
// each key in an append-only leadership log:
//
//	cast / switch / cancel → recompute totals → evaluate → write leadership log → commit
//
// # Core Components
//
// Engine: Transactional façade. Every mutation runs in one store transaction
// that takes the item lock, validates, writes the ledger, re-evaluates the key
// and writes the leadership log before committing.
//
// Evaluate: Pure quorum and promotion rules. A candidate is validated when it
// has QuorumAmount distinct voters and reaches the key's points threshold. A
// validated incumbent keeps the lead until a challenger strictly exceeds it.
//
// Registry: Projects, their item keys, and the two proposal kinds (project
// level bundles and single-key item proposals), with optional implicit
// creator votes.
//
// Sinks: Post-commit consumers of committed events (journal, NATS). Their
// failures are logged and counted and never fail the operation.
//
// Replay: Folds the event journal back into per-key totals and compares them
// with the store.
//
// # Usage Example
//
//	st, _ := sqlstore.Open(ctx, sqlstore.Config{Driver: "sqlite", DSN: "tally.db"})
//	eng, _ := engine.New(st, engine.DefaultConfig(), engine.WithSinks(journal))
//
//	p, _ := eng.CreateProject(ctx, &types.Project{Items: []types.Item{{Key: "title"}}})
//	c, _ := eng.ProposeItem(ctx, engine.ItemProposalRequest{
//	    Creator: "alice", Project: p.ID, Key: "title", Value: json.RawMessage(`"Blue"`),
//	})
//	_, err := eng.CastVote(ctx, engine.VoteRequest{
//	    Voter: "bob", Project: p.ID, Key: "title", Candidate: c.Ref(), Weight: 40,
//	})
//
//	leader, _ := eng.GetLeadingCandidate(ctx, p.ID, "title")
//
// # Errors
//
// Every failure wraps one of ErrNotFound, ErrConflict, ErrForbidden or
// ErrBadRequest; KindOf classifies an error for transports. Conflicts are
// lost races and may be retried.
//
// # Thread Safety
//
// Engine methods are safe for concurrent use. Writers on the same key are
// serialized by the store. Leader reads are lock-free and may trail a
// concurrent commit.
package engine

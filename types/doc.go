// Package types defines the data structures of the tallyberry vote ledger.
//
// # Core Types
//
// Project: A record whose item keys accept proposals. Each Item carries its
// own points threshold; zero means the engine default. Once IsPublished is
// set, voting on the project is closed for good.
//
// Candidate: The interface shared by the two proposal kinds. A
// ProjectProposal bundles values for several keys of one project; an
// ItemProposal targets exactly one key. A CandidateRef{Kind, ID} names
// either kind; the kind is part of its identity.
//
// VoteAllocation: One voter's weight on one candidate for one key. At most
// one allocation per (voter, project, key) is live; cancelled allocations
// keep a DeletedAt timestamp.
//
// LeadershipRecord: One entry of a key's leadership history. At most one
// record per key has IsNotLeading == false.
//
// Event: A committed change, handed to post-commit sinks (journal, NATS).
//
// # Values and Hashing
//
// Proposed values are JSON. They are compacted on construction so that
// payloads differing only in whitespace are equal, and hashed with SHA-256
// to detect duplicate proposals. Bundles are hashed in key order.
//
// # Immutability
//
// Candidates are immutable after construction and Value returns copies.
// Projects, allocations and leadership records are copied with the Copy*
// helpers whenever they cross a store boundary.
//
// # Usage Example
//
//	p, err := types.NewItemProposal(types.NewID(), "album", "alice", "title",
//	    json.RawMessage(`"Kind of Blue"`), "liner notes", time.Now())
//	if err != nil {
//	    return err
//	}
//	ref := p.Ref() // {Kind: item, ID: ...}
package types

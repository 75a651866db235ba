package engine

import (
	"errors"
	"fmt"

	"github.com/blockberries/tallyberry/store"
)

// Error kinds. Every error returned by an Engine operation wraps at most one.
var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")
	ErrBadRequest = errors.New("bad request")
)

// Ledger errors
var (
	ErrProjectNotFound    = fmt.Errorf("%w: project", ErrNotFound)
	ErrKeyNotAccepted     = fmt.Errorf("%w: item key not accepted by project", ErrNotFound)
	ErrCandidateNotFound  = fmt.Errorf("%w: candidate", ErrNotFound)
	ErrAllocationNotFound = fmt.Errorf("%w: vote", ErrNotFound)
	ErrNoVoteToSwitch     = fmt.Errorf("%w: no vote on this item to switch", ErrNotFound)

	ErrAlreadyVoted      = fmt.Errorf("%w: already voted on this item, switch instead", ErrConflict)
	ErrProjectExists     = fmt.Errorf("%w: project already exists", ErrConflict)
	ErrDuplicateProposal = fmt.Errorf("%w: an identical proposal exists for this item", ErrConflict)

	ErrVotingClosed = fmt.Errorf("%w: voting is closed for this project", ErrForbidden)
	ErrCrossKind    = fmt.Errorf("%w: vote is held on a proposal of the other kind", ErrForbidden)
	ErrOwnProposal  = fmt.Errorf("%w: votes on your own proposal cannot be changed", ErrForbidden)

	ErrSameCandidate  = fmt.Errorf("%w: vote is already on this candidate", ErrBadRequest)
	ErrInvalidWeight  = fmt.Errorf("%w: weight must be positive", ErrBadRequest)
	ErrWeightTooLarge = fmt.Errorf("%w: weight exceeds the maximum", ErrBadRequest)
	ErrMissingVoter   = fmt.Errorf("%w: voter is required", ErrBadRequest)
	ErrNoValues       = fmt.Errorf("%w: proposal has no values", ErrBadRequest)
)

// ErrInvalidConfig is returned by Config.ValidateBasic.
var ErrInvalidConfig = errors.New("invalid engine config")

// Kind classifies an error for transports.
type Kind string

// Kinds
const (
	KindNotFound   Kind = "not_found"
	KindConflict   Kind = "conflict"
	KindForbidden  Kind = "forbidden"
	KindBadRequest Kind = "bad_request"
	KindInternal   Kind = "internal"
)

// KindOf returns the kind err wraps, or KindInternal.
func KindOf(err error) Kind {
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrBadRequest):
		return KindBadRequest
	default:
		return KindInternal
	}
}

// badRequest tags a validation error from the types package.
func badRequest(err error) error {
	return fmt.Errorf("%w: %w", ErrBadRequest, err)
}

// fromStore maps an unclassified store error onto a kind. Errors that
// already carry a kind pass through.
func fromStore(err error) error {
	switch {
	case err == nil:
		return nil
	case KindOf(err) != KindInternal:
		return err
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %w", ErrConflict, err)
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	default:
		return err
	}
}

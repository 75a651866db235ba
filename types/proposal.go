package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// CandidateKind tags which proposal flow a candidate belongs to.
type CandidateKind uint8

// Candidate kinds
const (
	CandidateKindUnknown CandidateKind = iota
	// CandidateKindProject is a project-level proposal bundling values for many keys.
	CandidateKindProject
	// CandidateKindItem is an item-proposal targeting exactly one key.
	CandidateKindItem
)

// Proposal errors
var (
	ErrInvalidCandidate = errors.New("invalid candidate")
	ErrKeyNotCovered    = errors.New("candidate does not cover item key")
)

// String returns the wire name of the kind.
func (k CandidateKind) String() string {
	switch k {
	case CandidateKindProject:
		return "project"
	case CandidateKindItem:
		return "item"
	default:
		return "unknown"
	}
}

// ParseCandidateKind parses a wire name.
func ParseCandidateKind(s string) (CandidateKind, error) {
	switch strings.ToLower(s) {
	case "project":
		return CandidateKindProject, nil
	case "item":
		return CandidateKindItem, nil
	default:
		return CandidateKindUnknown, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (k CandidateKind) MarshalText() ([]byte, error) {
	if k != CandidateKindProject && k != CandidateKindItem {
		return nil, ErrUnknownKind
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *CandidateKind) UnmarshalText(text []byte) error {
	parsed, err := ParseCandidateKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// CandidateRef points at exactly one candidate of either kind.
type CandidateRef struct {
	Kind CandidateKind `json:"kind"`
	ID   string        `json:"id"`
}

// ProjectRef returns a reference to a project-level proposal.
func ProjectRef(id string) CandidateRef {
	return CandidateRef{Kind: CandidateKindProject, ID: id}
}

// ItemRef returns a reference to an item-proposal.
func ItemRef(id string) CandidateRef {
	return CandidateRef{Kind: CandidateKindItem, ID: id}
}

// IsZero returns true for the empty reference.
func (r CandidateRef) IsZero() bool {
	return r.ID == "" && r.Kind == CandidateKindUnknown
}

// String returns "kind:id".
func (r CandidateRef) String() string {
	return r.Kind.String() + ":" + r.ID
}

// ValidateBasic checks the reference is well formed.
func (r CandidateRef) ValidateBasic() error {
	if r.Kind != CandidateKindProject && r.Kind != CandidateKindItem {
		return ErrUnknownKind
	}
	if r.ID == "" {
		return ErrEmptyID
	}
	return nil
}

// CopyRef returns a copy of a possibly nil reference.
func CopyRef(r *CandidateRef) *CandidateRef {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// RefEqual compares two possibly nil references.
func RefEqual(a, b *CandidateRef) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Candidate is the capability surface shared by both proposal kinds.
// The engine and evaluator only use this interface.
type Candidate interface {
	Ref() CandidateRef
	OwnerProject() ProjectID
	Creator() VoterID
	// Keys returns the item keys the candidate proposes values for, sorted.
	Keys() []ItemKey
	Covers(key ItemKey) bool
	Value(key ItemKey) (json.RawMessage, bool)
	Reference() string
	CreatedAt() time.Time
	ContentHash() Hash
}

// ProjectProposal bundles values for several keys of one project.
type ProjectProposal struct {
	ID        string                      `json:"id"`
	ProjectID ProjectID                   `json:"project"`
	CreatorID VoterID                     `json:"creator"`
	Values    map[ItemKey]json.RawMessage `json:"values"`
	Citation  string                      `json:"reference,omitempty"`
	Timestamp time.Time                   `json:"created_at"`
}

// NewProjectProposal builds a project-level proposal with canonicalized values.
func NewProjectProposal(
	id string,
	project ProjectID,
	creator VoterID,
	values map[ItemKey]json.RawMessage,
	reference string,
	createdAt time.Time,
) (*ProjectProposal, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: no values", ErrInvalidCandidate)
	}
	canon := make(map[ItemKey]json.RawMessage, len(values))
	for k, v := range values {
		if err := ValidateItemKey(k); err != nil {
			return nil, fmt.Errorf("%w: %q", err, k)
		}
		cv, err := CanonicalValue(v)
		if err != nil {
			return nil, fmt.Errorf("value for %s: %w", k, err)
		}
		canon[k] = cv
	}
	p := &ProjectProposal{
		ID:        id,
		ProjectID: project,
		CreatorID: creator,
		Values:    canon,
		Citation:  reference,
		Timestamp: createdAt,
	}
	if err := validateCandidate(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *ProjectProposal) Ref() CandidateRef      { return ProjectRef(p.ID) }
func (p *ProjectProposal) OwnerProject() ProjectID { return p.ProjectID }
func (p *ProjectProposal) Creator() VoterID        { return p.CreatorID }
func (p *ProjectProposal) Reference() string       { return p.Citation }
func (p *ProjectProposal) CreatedAt() time.Time    { return p.Timestamp }

func (p *ProjectProposal) Keys() []ItemKey {
	keys := make([]ItemKey, 0, len(p.Values))
	for k := range p.Values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (p *ProjectProposal) Covers(key ItemKey) bool {
	_, ok := p.Values[key]
	return ok
}

// Value returns a copy of the proposed value for key.
func (p *ProjectProposal) Value(key ItemKey) (json.RawMessage, bool) {
	v, ok := p.Values[key]
	if !ok {
		return nil, false
	}
	return copyRaw(v), true
}

func (p *ProjectProposal) ContentHash() Hash {
	return ValuesHash(p.Values)
}

// ItemProposal proposes one value for one key.
type ItemProposal struct {
	ID        string          `json:"id"`
	ProjectID ProjectID       `json:"project"`
	CreatorID VoterID         `json:"creator"`
	Key       ItemKey         `json:"key"`
	Payload   json.RawMessage `json:"value"`
	Citation  string          `json:"reference,omitempty"`
	Timestamp time.Time       `json:"created_at"`
}

// NewItemProposal builds an item-proposal with a canonicalized value.
func NewItemProposal(
	id string,
	project ProjectID,
	creator VoterID,
	key ItemKey,
	value json.RawMessage,
	reference string,
	createdAt time.Time,
) (*ItemProposal, error) {
	if err := ValidateItemKey(key); err != nil {
		return nil, fmt.Errorf("%w: %q", err, key)
	}
	cv, err := CanonicalValue(value)
	if err != nil {
		return nil, err
	}
	p := &ItemProposal{
		ID:        id,
		ProjectID: project,
		CreatorID: creator,
		Key:       key,
		Payload:   cv,
		Citation:  reference,
		Timestamp: createdAt,
	}
	if err := validateCandidate(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *ItemProposal) Ref() CandidateRef       { return ItemRef(p.ID) }
func (p *ItemProposal) OwnerProject() ProjectID { return p.ProjectID }
func (p *ItemProposal) Creator() VoterID        { return p.CreatorID }
func (p *ItemProposal) Keys() []ItemKey         { return []ItemKey{p.Key} }
func (p *ItemProposal) Covers(key ItemKey) bool { return p.Key == key }
func (p *ItemProposal) Reference() string       { return p.Citation }
func (p *ItemProposal) CreatedAt() time.Time    { return p.Timestamp }

// Value returns a copy of the proposed value if key is the proposal's key.
func (p *ItemProposal) Value(key ItemKey) (json.RawMessage, bool) {
	if key != p.Key {
		return nil, false
	}
	return copyRaw(p.Payload), true
}

func (p *ItemProposal) ContentHash() Hash {
	return ValueHash(p.Key, p.Payload)
}

// Compile-time interface checks
var (
	_ Candidate = (*ProjectProposal)(nil)
	_ Candidate = (*ItemProposal)(nil)
)

func validateCandidate(c Candidate) error {
	if err := c.Ref().ValidateBasic(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCandidate, err)
	}
	if c.OwnerProject() == "" {
		return fmt.Errorf("%w: no project", ErrInvalidCandidate)
	}
	if c.Creator() == "" {
		return fmt.Errorf("%w: no creator", ErrInvalidCandidate)
	}
	return nil
}

// CheckCovers returns ErrKeyNotCovered unless c belongs to project and covers key.
func CheckCovers(c Candidate, project ProjectID, key ItemKey) error {
	if c.OwnerProject() != project || !c.Covers(key) {
		return fmt.Errorf("%w: %s does not propose %s/%s", ErrKeyNotCovered, c.Ref(), project, key)
	}
	return nil
}

func copyRaw(v json.RawMessage) json.RawMessage {
	if v == nil {
		return nil
	}
	cp := make(json.RawMessage, len(v))
	copy(cp, v)
	return cp
}

package types

import (
	"errors"
	"fmt"
	"time"
)

// Project errors
var (
	ErrNoItems        = errors.New("project has no item keys")
	ErrDuplicateItem  = errors.New("duplicate item key")
	ErrInvalidPoints  = errors.New("points needed must not be negative")
	ErrEmptyProjectID = errors.New("project has empty id")
)

// Item is a key a project accepts proposals for, with its promotion threshold.
// PointsNeeded of zero means the engine default applies.
type Item struct {
	Key          ItemKey `json:"key"`
	PointsNeeded int64   `json:"points_needed,omitempty"`
}

// Project is the record members propose values for.
// Once IsPublished is set, voting is closed for good.
type Project struct {
	ID          ProjectID `json:"id"`
	Name        string    `json:"name,omitempty"`
	IsPublished bool      `json:"is_published"`
	Items       []Item    `json:"items"`
	CreatedAt   time.Time `json:"created_at"`
}

// Item returns the item for key, if the project accepts it.
func (p *Project) Item(key ItemKey) (Item, bool) {
	for _, it := range p.Items {
		if it.Key == key {
			return it, true
		}
	}
	return Item{}, false
}

// Accepts returns true if the project accepts proposals for key.
func (p *Project) Accepts(key ItemKey) bool {
	_, ok := p.Item(key)
	return ok
}

// Keys returns the item keys in declaration order.
func (p *Project) Keys() []ItemKey {
	keys := make([]ItemKey, len(p.Items))
	for i, it := range p.Items {
		keys[i] = it.Key
	}
	return keys
}

// ValidateBasic performs stateless validation.
func (p *Project) ValidateBasic() error {
	if p.ID == "" {
		return ErrEmptyProjectID
	}
	if len(p.Items) == 0 {
		return ErrNoItems
	}
	seen := make(map[ItemKey]struct{}, len(p.Items))
	for _, it := range p.Items {
		if err := ValidateItemKey(it.Key); err != nil {
			return fmt.Errorf("%w: %q", err, it.Key)
		}
		if _, dup := seen[it.Key]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateItem, it.Key)
		}
		seen[it.Key] = struct{}{}
		if it.PointsNeeded < 0 {
			return fmt.Errorf("%w: %s", ErrInvalidPoints, it.Key)
		}
	}
	return nil
}

// CopyProject returns a deep copy.
func CopyProject(p *Project) *Project {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Items = make([]Item, len(p.Items))
	copy(cp.Items, p.Items)
	return &cp
}

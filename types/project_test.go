package types

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func makeTestProject() *Project {
	return &Project{
		ID:   "album",
		Name: "Kind of Blue",
		Items: []Item{
			{Key: "title"},
			{Key: "year", PointsNeeded: 10},
		},
		CreatedAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestProjectItems(t *testing.T) {
	p := makeTestProject()

	if !p.Accepts("title") || p.Accepts("genre") {
		t.Error("Accepts mismatch")
	}
	item, ok := p.Item("year")
	if !ok || item.PointsNeeded != 10 {
		t.Errorf("unexpected item %+v %v", item, ok)
	}
	if !reflect.DeepEqual(p.Keys(), []ItemKey{"title", "year"}) {
		t.Errorf("keys should keep declaration order, got %v", p.Keys())
	}
}

func TestProjectValidateBasic(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Project)
		want   error
	}{
		{"valid", func(p *Project) {}, nil},
		{"empty id", func(p *Project) { p.ID = "" }, ErrEmptyProjectID},
		{"no items", func(p *Project) { p.Items = nil }, ErrNoItems},
		{"duplicate key", func(p *Project) { p.Items = append(p.Items, Item{Key: "title"}) }, ErrDuplicateItem},
		{"bad key", func(p *Project) { p.Items[0].Key = "a>b" }, ErrInvalidItemKey},
		{"negative points", func(p *Project) { p.Items[1].PointsNeeded = -1 }, ErrInvalidPoints},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := makeTestProject()
			tt.modify(p)
			err := p.ValidateBasic()
			if tt.want == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCopyProject(t *testing.T) {
	p := makeTestProject()
	cp := CopyProject(p)

	cp.Items[0].Key = "changed"
	cp.IsPublished = true
	if p.Items[0].Key != "title" || p.IsPublished {
		t.Error("CopyProject should not alias the original")
	}
	if CopyProject(nil) != nil {
		t.Error("CopyProject(nil) should be nil")
	}
}

func TestValidateItemKey(t *testing.T) {
	for _, k := range []ItemKey{"title", "release_year", "track-1"} {
		if err := ValidateItemKey(k); err != nil {
			t.Errorf("%q rejected: %v", k, err)
		}
	}
	for _, k := range []ItemKey{"", "a b", "a.b", "a*", ">", "a\tb"} {
		if err := ValidateItemKey(k); !errors.Is(err, ErrInvalidItemKey) {
			t.Errorf("%q accepted", k)
		}
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if a == "" || a == b {
		t.Errorf("expected distinct ids, got %q and %q", a, b)
	}
}

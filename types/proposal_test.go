package types

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func makeTestItemProposal(t *testing.T, value string) *ItemProposal {
	t.Helper()
	p, err := NewItemProposal("ip1", "album", "alice", "title", json.RawMessage(value), "liner notes", testTime)
	if err != nil {
		t.Fatalf("NewItemProposal failed: %v", err)
	}
	return p
}

func TestCandidateKindText(t *testing.T) {
	for _, k := range []CandidateKind{CandidateKindProject, CandidateKindItem} {
		text, err := k.MarshalText()
		if err != nil {
			t.Fatalf("MarshalText(%v) failed: %v", k, err)
		}
		var back CandidateKind
		if err := back.UnmarshalText(text); err != nil {
			t.Fatalf("UnmarshalText(%s) failed: %v", text, err)
		}
		if back != k {
			t.Errorf("expected %v, got %v", k, back)
		}
	}

	if _, err := CandidateKindUnknown.MarshalText(); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := ParseCandidateKind("block"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if k, err := ParseCandidateKind("ITEM"); err != nil || k != CandidateKindItem {
		t.Errorf("parse should ignore case, got %v %v", k, err)
	}
}

func TestCandidateRefJSON(t *testing.T) {
	ref := ItemRef("abc")
	data, err := json.Marshal(ref)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `{"kind":"item","id":"abc"}` {
		t.Errorf("unexpected encoding: %s", data)
	}

	var back CandidateRef
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if back != ref {
		t.Errorf("expected %v, got %v", ref, back)
	}
	if ref.String() != "item:abc" {
		t.Errorf("unexpected String: %s", ref)
	}
}

func TestCandidateRefValidateBasic(t *testing.T) {
	if err := ProjectRef("p").ValidateBasic(); err != nil {
		t.Errorf("valid ref rejected: %v", err)
	}
	if err := (CandidateRef{ID: "x"}).ValidateBasic(); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
	if err := ItemRef("").ValidateBasic(); !errors.Is(err, ErrEmptyID) {
		t.Errorf("expected ErrEmptyID, got %v", err)
	}
	if !(CandidateRef{}).IsZero() {
		t.Error("empty ref should be zero")
	}
}

func TestRefEqual(t *testing.T) {
	a, b := ItemRef("a"), ItemRef("a")
	c := ProjectRef("a")

	if !RefEqual(nil, nil) {
		t.Error("nil refs should be equal")
	}
	if RefEqual(&a, nil) || RefEqual(nil, &a) {
		t.Error("nil and non-nil refs should differ")
	}
	if !RefEqual(&a, &b) {
		t.Error("same refs should be equal")
	}
	if RefEqual(&a, &c) {
		t.Error("kind is part of identity")
	}

	cp := CopyRef(&a)
	cp.ID = "changed"
	if a.ID != "a" {
		t.Error("CopyRef should not alias")
	}
	if CopyRef(nil) != nil {
		t.Error("CopyRef(nil) should be nil")
	}
}

func TestNewItemProposal(t *testing.T) {
	p := makeTestItemProposal(t, `{ "name" : "Kind of Blue" }`)

	if p.Ref() != ItemRef("ip1") {
		t.Errorf("unexpected ref %v", p.Ref())
	}
	if got, ok := p.Value("title"); !ok || string(got) != `{"name":"Kind of Blue"}` {
		t.Errorf("expected canonical value, got %s %v", got, ok)
	}
	if _, ok := p.Value("year"); ok {
		t.Error("item proposal should only cover its key")
	}
	if !p.Covers("title") || p.Covers("year") {
		t.Error("Covers mismatch")
	}
	if !reflect.DeepEqual(p.Keys(), []ItemKey{"title"}) {
		t.Errorf("unexpected keys %v", p.Keys())
	}
	if p.Reference() != "liner notes" || !p.CreatedAt().Equal(testTime) {
		t.Error("metadata not kept")
	}

	// Values are returned as copies
	v, _ := p.Value("title")
	v[0] = 'X'
	if again, _ := p.Value("title"); again[0] == 'X' {
		t.Error("Value should return a copy")
	}
}

func TestNewItemProposalErrors(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		project ProjectID
		creator VoterID
		key     ItemKey
		value   string
		want    error
	}{
		{"empty value", "ip1", "album", "alice", "title", ``, ErrEmptyValue},
		{"malformed value", "ip1", "album", "alice", "title", `{`, ErrInvalidValue},
		{"bad key", "ip1", "album", "alice", "ti.tle", `1`, ErrInvalidItemKey},
		{"empty key", "ip1", "album", "alice", "", `1`, ErrInvalidItemKey},
		{"no id", "", "album", "alice", "title", `1`, ErrInvalidCandidate},
		{"no project", "ip1", "", "alice", "title", `1`, ErrInvalidCandidate},
		{"no creator", "ip1", "album", "", "title", `1`, ErrInvalidCandidate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewItemProposal(tt.id, tt.project, tt.creator, tt.key, json.RawMessage(tt.value), "", testTime)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewProjectProposal(t *testing.T) {
	p, err := NewProjectProposal("pp1", "album", "bob", map[ItemKey]json.RawMessage{
		"year":  json.RawMessage(` 1959 `),
		"title": json.RawMessage(`"Kind of Blue"`),
	}, "", testTime)
	if err != nil {
		t.Fatalf("NewProjectProposal failed: %v", err)
	}

	if p.Ref() != ProjectRef("pp1") {
		t.Errorf("unexpected ref %v", p.Ref())
	}
	if !reflect.DeepEqual(p.Keys(), []ItemKey{"title", "year"}) {
		t.Errorf("keys should be sorted, got %v", p.Keys())
	}
	if v, ok := p.Value("year"); !ok || string(v) != "1959" {
		t.Errorf("expected canonical year, got %s", v)
	}
	if p.Covers("genre") {
		t.Error("should not cover undeclared key")
	}

	same, err := NewProjectProposal("pp2", "album", "carol", map[ItemKey]json.RawMessage{
		"title": json.RawMessage(`"Kind of Blue"`),
		"year":  json.RawMessage(`1959`),
	}, "", testTime)
	if err != nil {
		t.Fatalf("NewProjectProposal failed: %v", err)
	}
	if !HashEqual(p.ContentHash(), same.ContentHash()) {
		t.Error("identical bundles should share a content hash")
	}

	if _, err := NewProjectProposal("pp3", "album", "bob", nil, "", testTime); !errors.Is(err, ErrInvalidCandidate) {
		t.Errorf("expected ErrInvalidCandidate for empty bundle, got %v", err)
	}
	_, err = NewProjectProposal("pp3", "album", "bob", map[ItemKey]json.RawMessage{"a b": json.RawMessage(`1`)}, "", testTime)
	if !errors.Is(err, ErrInvalidItemKey) {
		t.Errorf("expected ErrInvalidItemKey, got %v", err)
	}
}

func TestContentHashDiffersByKind(t *testing.T) {
	item := makeTestItemProposal(t, `"Kind of Blue"`)
	bundle, err := NewProjectProposal("pp1", "album", "alice", map[ItemKey]json.RawMessage{
		"title": json.RawMessage(`"Kind of Blue"`),
	}, "", testTime)
	if err != nil {
		t.Fatalf("NewProjectProposal failed: %v", err)
	}
	if HashEqual(item.ContentHash(), bundle.ContentHash()) {
		t.Error("bundle hash includes keys and should differ from a bare value hash")
	}
}

package types

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestValueHashIsNeverZero(t *testing.T) {
	var zero Hash
	if !zero.IsZero() {
		t.Fatal("zero value should report IsZero")
	}
	if ValueHash("title", json.RawMessage(`""`)).IsZero() {
		t.Error("hash of a value should not be zero")
	}
	if ValuesHash(nil).IsZero() {
		t.Error("hash of an empty bundle should not be zero")
	}
}

func TestValueHashIncludesKey(t *testing.T) {
	v := json.RawMessage(`1959`)
	if HashEqual(ValueHash("year", v), ValueHash("released", v)) {
		t.Error("the same value for different keys should hash differently")
	}
}

func TestParseHash(t *testing.T) {
	h := ValueHash("title", json.RawMessage(`"Kind of Blue"`))

	parsed, err := ParseHash(h.String())
	if err != nil {
		t.Fatalf("ParseHash failed: %v", err)
	}
	if parsed != h {
		t.Errorf("expected %s, got %s", h, parsed)
	}

	upper, err := ParseHash(strings.ToUpper(h.String()))
	if err != nil {
		t.Fatalf("ParseHash should accept upper case hex: %v", err)
	}
	if !HashEqual(upper, h) {
		t.Error("case should not change the decoded hash")
	}
}

func TestHashTextRoundTrip(t *testing.T) {
	h := ValueHash("title", json.RawMessage(`"kind of blue"`))
	if len(h.String()) != 64 { // hex encoded 32 bytes = 64 chars
		t.Fatalf("expected 64 chars, got %d", len(h.String()))
	}

	data, err := json.Marshal(h)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	var back Hash
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !HashEqual(h, back) {
		t.Error("hash changed across JSON")
	}

	if _, err := ParseHash("zz"); err == nil {
		t.Error("expected error for non-hex input")
	}
	if _, err := ParseHash("abcd"); err == nil {
		t.Error("expected error for short input")
	}
}

func TestCanonicalValue(t *testing.T) {
	a, err := CanonicalValue(json.RawMessage(`{ "title" : "Kind of Blue",  "year": 1959 }`))
	if err != nil {
		t.Fatalf("CanonicalValue failed: %v", err)
	}
	b, err := CanonicalValue(json.RawMessage(`{"title":"Kind of Blue","year":1959}`))
	if err != nil {
		t.Fatalf("CanonicalValue failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Errorf("whitespace should not matter: %s vs %s", a, b)
	}
	if !HashEqual(ValueHash("title", a), ValueHash("title", b)) {
		t.Error("canonical values should hash the same")
	}

	if _, err := CanonicalValue(nil); err != ErrEmptyValue {
		t.Errorf("expected ErrEmptyValue, got %v", err)
	}
	if _, err := CanonicalValue(json.RawMessage(`{"title":`)); err == nil {
		t.Error("expected error for malformed JSON")
	}
}

func TestValuesHash(t *testing.T) {
	one := map[ItemKey]json.RawMessage{
		"title": json.RawMessage(`"Kind of Blue"`),
		"year":  json.RawMessage(`1959`),
	}
	two := map[ItemKey]json.RawMessage{
		"year":  json.RawMessage(`1959`),
		"title": json.RawMessage(`"Kind of Blue"`),
	}
	if !HashEqual(ValuesHash(one), ValuesHash(two)) {
		t.Error("map order should not matter")
	}

	// Framing keeps key and value boundaries apart
	shifted := map[ItemKey]json.RawMessage{
		"a": json.RawMessage(`"b"`),
	}
	joined := map[ItemKey]json.RawMessage{
		"a\"": json.RawMessage(`b"`),
	}
	if HashEqual(ValuesHash(shifted), ValuesHash(joined)) {
		t.Error("different bundles should hash differently")
	}
}

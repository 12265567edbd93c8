package valuetree

import (
	"encoding/json"
	"testing"
)

func TestMappingPreservesInsertionOrder(t *testing.T) {
	m := NewMapping()
	m.Set("z", Int(1))
	m.Set("a", Int(2))
	m.Set("m", Int(3))

	got := m.Keys()
	want := []string{"z", "a", "m"}
	for i, k := range want {
		if got[i] != k {
			t.Fatalf("keys[%d] = %q, want %q (full: %v)", i, got[i], k, got)
		}
	}
}

func TestMappingOverwriteDoesNotReorder(t *testing.T) {
	m := NewMapping()
	m.Set("a", Int(1))
	m.Set("b", Int(2))
	m.Set("a", Int(3))

	got := m.Keys()
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected key order after overwrite: %v", got)
	}
	v, ok := m.Get("a")
	if !ok {
		t.Fatalf("expected key a to be present")
	}
	if n, _ := v.AsInt(); n != 3 {
		t.Fatalf("expected overwritten value 3, got %d", n)
	}
}

func TestMarshalJSONPreservesKeyOrder(t *testing.T) {
	m := NewMapping()
	m.Set("z", String("first"))
	m.Set("a", String("second"))

	raw, err := m.MarshalJSON()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"z":"first","a":"second"}`
	if string(raw) != want {
		t.Fatalf("got %s, want %s", raw, want)
	}
}

func TestBytesMarshalAsBase64(t *testing.T) {
	v := Bytes([]byte("hello"))
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	// "hello" base64-encoded is "aGVsbG8="
	if string(raw) != `"aGVsbG8="` {
		t.Fatalf("got %s", raw)
	}
}

func TestEqualStructural(t *testing.T) {
	a := NewMapping()
	a.Set("x", Sequence(Int(1), Int(2)))
	b := NewMapping()
	b.Set("x", Sequence(Int(1), Int(2)))
	if !Equal(a, b) {
		t.Fatalf("expected structurally identical mappings to be equal")
	}

	c := NewMapping()
	c.Set("x", Sequence(Int(1), Int(3)))
	if Equal(a, c) {
		t.Fatalf("expected mappings with different sequence contents to differ")
	}
}

func TestFromGoRoundTripsThroughToGo(t *testing.T) {
	in := map[string]any{
		"name": "World",
		"age":  float64(30),
		"tags": []any{"a", "b"},
	}
	v := FromGo(in)
	out := ToGo(v)
	outMap, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("expected map[string]any, got %T", out)
	}
	if outMap["name"] != "World" {
		t.Fatalf("name round-trip failed: %v", outMap["name"])
	}
}

func TestFromGoSortsUnorderedMapKeys(t *testing.T) {
	in := map[string]any{"z": 1, "a": 2, "m": 3}
	v := FromGo(in)
	got := v.Keys()
	want := []string{"a", "m", "z"}
	for i, k := range want {
		if got[i] != k {
			t.Fatalf("keys[%d] = %q, want %q", i, got[i], k)
		}
	}
}

func TestSetPanicsOnNonMapping(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Fatalf("expected panic when calling Set on a non-mapping value")
		}
	}()
	v := String("oops")
	v.Set("k", Int(1))
}

func TestDeletePreservesRemainingOrder(t *testing.T) {
	m := NewMapping()
	m.Set("a", Int(1))
	m.Set("b", Int(2))
	m.Set("c", Int(3))
	m.Delete("b")

	got := m.Keys()
	if len(got) != 2 || got[0] != "a" || got[1] != "c" {
		t.Fatalf("unexpected keys after delete: %v", got)
	}
}

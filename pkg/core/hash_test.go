package core

import "testing"

func TestSpecHashStableAcrossKeyOrder(t *testing.T) {
	first := SpecHash(map[string]any{"a": 1, "b": map[string]any{"x": "y", "z": "w"}})
	second := SpecHash(map[string]any{"b": map[string]any{"z": "w", "x": "y"}, "a": 1})
	if first == "" || first != second {
		t.Fatalf("expected identical hashes, got %q and %q", first, second)
	}
}

func TestSpecHashNormalizesNumbers(t *testing.T) {
	asInt := SpecHash(map[string]any{"replicas": int64(3)})
	asFloat := SpecHash(map[string]any{"replicas": float64(3)})
	if asInt != asFloat {
		t.Fatalf("expected numeric normalization, got %q and %q", asInt, asFloat)
	}
}

func TestSpecHashDistinguishesContent(t *testing.T) {
	a := SpecHash(map[string]any{"image": "app:v1"})
	b := SpecHash(map[string]any{"image": "app:v2"})
	if a == b {
		t.Fatalf("different specs hashed identically")
	}
	sequenceA := SpecHash(map[string]any{"args": []any{"a", "b"}})
	sequenceB := SpecHash(map[string]any{"args": []any{"b", "a"}})
	if sequenceA == sequenceB {
		t.Fatalf("sequence order should affect the hash")
	}
}

func TestSpecHashDistinguishesScalarTypes(t *testing.T) {
	cases := []struct {
		name string
		a, b map[string]any
	}{
		{"number vs string", map[string]any{"port": 80}, map[string]any{"port": "80"}},
		{"bool vs string", map[string]any{"enabled": true}, map[string]any{"enabled": "true"}},
		{"nil vs string", map[string]any{"value": nil}, map[string]any{"value": "~"}},
	}
	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			if SpecsEqual(testCase.a, testCase.b) {
				t.Fatalf("specs %v and %v should not be equal", testCase.a, testCase.b)
			}
			if SpecHash(testCase.a) == SpecHash(testCase.b) {
				t.Fatalf("unequal specs %v and %v hashed identically", testCase.a, testCase.b)
			}
		})
	}
}

func TestSpecHashStringsCannotAliasStructure(t *testing.T) {
	// A string containing separator characters must not collide with the
	// structure it imitates.
	asSequence := SpecHash(map[string]any{"args": []any{"a", "b"}})
	asString := SpecHash(map[string]any{"args": "a\nb"})
	if asSequence == asString {
		t.Fatalf("string aliased a sequence")
	}

	split := SpecHash(map[string]any{"a": "x", "b": "y"})
	joined := SpecHash(map[string]any{"a": "x1:by"})
	if split == joined {
		t.Fatalf("string aliased a map boundary")
	}
}

func TestSpecHashEmpty(t *testing.T) {
	if SpecHash(nil) != "" || SpecHash(map[string]any{}) != "" {
		t.Fatalf("empty specs should hash to the empty string")
	}
}

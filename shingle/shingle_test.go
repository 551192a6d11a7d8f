package shingle

import "testing"

func TestSequenceLength(t *testing.T) {
	tokens := []string{"a", "b", "c", "d", "e"}
	cases := []struct {
		k    int
		want int
	}{
		{k: 1, want: 5},
		{k: 3, want: 3},
		{k: 5, want: 1},
		{k: 6, want: 0},
	}
	for _, tc := range cases {
		got := Sequence(tokens, tc.k)
		if len(got) != tc.want {
			t.Fatalf("Sequence(k=%d) len = %d, want %d", tc.k, len(got), tc.want)
		}
	}
}

func TestSequenceDeterministic(t *testing.T) {
	tokens := []string{"the", "quick", "brown", "fox", "jumps"}
	a := Sequence(tokens, 3)
	b := Sequence(tokens, 3)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("position %d differs: %d vs %d", i, a[i], b[i])
		}
	}
}

func TestHash64Windowing(t *testing.T) {
	// Different windows must (almost certainly) hash differently.
	h1 := Hash64([]string{"a", "b", "c"})
	h2 := Hash64([]string{"a", "b", "d"})
	if h1 == h2 {
		t.Fatalf("different windows hashed identically")
	}
	// Same window, same hash.
	h3 := Hash64([]string{"a", "b", "c"})
	if h1 != h3 {
		t.Fatalf("same window hashed differently: %d vs %d", h1, h3)
	}
}

func TestMultiSequenceMatchesSequence(t *testing.T) {
	tokens := []string{"a", "b", "c", "d", "e", "f", "g"}
	kList := []int{2, 4}
	multi := MultiSequence(tokens, kList)
	for _, k := range kList {
		want := Sequence(tokens, k)
		got := multi[k]
		if len(got) != len(want) {
			t.Fatalf("k=%d: len mismatch %d vs %d", k, len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("k=%d: position %d mismatch", k, i)
			}
		}
	}
}

func TestSetDedup(t *testing.T) {
	tokens := []string{"a", "a", "a", "a"}
	set := Set(tokens, 2)
	if len(set) != 1 {
		t.Fatalf("expected 1 unique shingle from repeated tokens, got %d", len(set))
	}
}

func TestShortSequenceEmpty(t *testing.T) {
	got := Sequence([]string{"a", "b"}, 9)
	if len(got) != 0 {
		t.Fatalf("expected empty sequence for n < k, got %v", got)
	}
}

package fingerprint

import "testing"

func TestSimHashPureFunction(t *testing.T) {
	tokens := []string{"the", "quick", "brown", "fox"}
	a := ComputeSimHash128(tokens)
	b := ComputeSimHash128(tokens)
	if a != b {
		t.Fatalf("SimHash not deterministic: %+v vs %+v", a, b)
	}
}

func TestSimHashSimilarTextsAreClose(t *testing.T) {
	base := []string{"the", "quick", "brown", "fox", "jumps", "over", "the", "lazy", "dog"}
	similar := []string{"the", "quick", "brown", "fox", "jumps", "over", "the", "lazy", "cat"}
	different := []string{"completely", "unrelated", "content", "about", "something", "else", "entirely", "now", "here"}

	sa := ComputeSimHash128(base)
	ss := ComputeSimHash128(similar)
	sd := ComputeSimHash128(different)

	hSim := Hamming(sa, ss)
	hDiff := Hamming(sa, sd)
	if hSim >= hDiff {
		t.Fatalf("expected similar text to have lower Hamming distance: sim=%d diff=%d", hSim, hDiff)
	}
}

func TestHammingIdentical(t *testing.T) {
	tokens := []string{"a", "b", "c"}
	s := ComputeSimHash128(tokens)
	if Hamming(s, s) != 0 {
		t.Fatalf("identical fingerprints must have Hamming distance 0")
	}
}

func TestSignatureEmptySet(t *testing.T) {
	families := MakeFamilies(8, 1337)
	sig := Signature(families, map[uint64]struct{}{})
	for i, v := range sig {
		if v != MinHashEmptySentinel {
			t.Fatalf("slot %d = %d, want sentinel %d", i, v, MinHashEmptySentinel)
		}
	}
}

func TestSignatureDeterministic(t *testing.T) {
	families := MakeFamilies(16, 1337)
	set := map[uint64]struct{}{1: {}, 2: {}, 3: {}, 99: {}}
	a := Signature(families, set)
	b := Signature(families, set)
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("signature not deterministic at slot %d", i)
		}
	}
}

func TestMakeFamiliesOddA(t *testing.T) {
	families := MakeFamilies(32, 42)
	for i, f := range families {
		if f.A%2 == 0 {
			t.Fatalf("family %d has even A coefficient %d, must be odd", i, f.A)
		}
	}
}

func TestValidateLSHShape(t *testing.T) {
	if !ValidateLSHShape(128, 4) {
		t.Fatalf("128 mod 4 == 0 should be valid")
	}
	if ValidateLSHShape(128, 5) {
		t.Fatalf("128 mod 5 != 0 should be invalid")
	}
	if ValidateLSHShape(100, 0) {
		t.Fatalf("rows=0 must be invalid")
	}
}

func TestBandKeysCount(t *testing.T) {
	families := MakeFamilies(128, 1337)
	set := map[uint64]struct{}{10: {}, 20: {}, 30: {}}
	sig := Signature(families, set)
	keys := BandKeys(sig, 4)
	if len(keys) != 32 {
		t.Fatalf("expected 32 bands from K=128 rows=4, got %d", len(keys))
	}
}

func TestBandKeysInvalidShape(t *testing.T) {
	sig := make([]uint32, 10)
	if keys := BandKeys(sig, 3); keys != nil {
		t.Fatalf("expected nil for invalid band shape, got %v", keys)
	}
}

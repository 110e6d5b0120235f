package identifier

import "testing"

func TestInRangeWholeRing(t *testing.T) {
	for x := 0; x < 256; x++ {
		if !InRange(ID(x), 42, 42) {
			t.Fatalf("InRange(%d, 42, 42) = false, want true (lo==hi covers whole ring)", x)
		}
	}
}

func TestInRangeExclusiveComplement(t *testing.T) {
	// For lo != hi, exactly one of InRange(x, lo, hi-1) / InRange(x, hi-1, lo) holds,
	// except when hi-1 == lo: both intervals then have equal bounds and each
	// covers the whole ring (see TestInRangeWholeRing).
	for x := 0; x < 256; x++ {
		for lo := 0; lo < 256; lo++ {
			for hi := 0; hi < 256; hi++ {
				if lo == hi || ID(lo) == ID(hi-1) {
					continue
				}
				a := InRange(ID(x), ID(lo), ID(hi-1))
				b := InRange(ID(x), ID(hi-1), ID(lo))
				if a == b {
					t.Fatalf("x=%d lo=%d hi=%d: InRange(x,lo,hi-1)=%v InRange(x,hi-1,lo)=%v, want exactly one true", x, lo, hi, a, b)
				}
			}
		}
	}
}

func TestInRangeBasic(t *testing.T) {
	cases := []struct {
		x, lo, hi ID
		want      bool
	}{
		{10, 5, 20, true},
		{5, 5, 20, false}, // exclusive of lo
		{20, 5, 20, true}, // inclusive of hi
		{250, 240, 10, true},
		{5, 240, 10, true},
		{11, 240, 10, false},
	}
	for _, c := range cases {
		got := InRange(c.x, c.lo, c.hi)
		if got != c.want {
			t.Errorf("InRange(%d,%d,%d) = %v, want %v", c.x, c.lo, c.hi, got, c.want)
		}
	}
}

func TestNextWraps(t *testing.T) {
	if got := Next(250, 3); got != ID(2) { // 250+8=258 -> wraps to 2
		t.Errorf("Next(250,3) = %d, want %d", got, ID(2))
	}
}

func TestHashNameDeterministic(t *testing.T) {
	a := HashName("ShipatSea.tga")
	b := HashName("ShipatSea.tga")
	if a != b {
		t.Errorf("HashName not deterministic: %d != %d", a, b)
	}
}

func TestHashEndpointDeterministic(t *testing.T) {
	a := HashEndpoint(12345, [4]byte{127, 0, 0, 1})
	b := HashEndpoint(12345, [4]byte{127, 0, 0, 1})
	if a != b {
		t.Errorf("HashEndpoint not deterministic")
	}
	c := HashEndpoint(12346, [4]byte{127, 0, 0, 1})
	if a == c {
		t.Errorf("HashEndpoint(12345,...) == HashEndpoint(12346,...) unexpectedly")
	}
}

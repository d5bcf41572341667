package ftl

import "testing"

func checkBijective(t *testing.T, policy PlaneMapping, planesPerPkg, blocksPerPlane int) {
	t.Helper()
	g := Geometry{PlaneMapping: policy, PlanesPerPkg: planesPerPkg, BlocksPerPlane: blocksPerPlane}
	m := NewPlaneBlockMap(g)
	total := planesPerPkg * blocksPerPlane

	seen := make(map[[2]int]int) // (plane,bitpos) -> block, to check injectivity
	for b := 0; b < total; b++ {
		plane, bitpos := m.BlockToPlane(b)
		if plane < 0 || plane >= planesPerPkg {
			t.Fatalf("policy %v: block %d mapped to out-of-range plane %d", policy, b, plane)
		}
		if bitpos < 0 || bitpos >= blocksPerPlane {
			t.Fatalf("policy %v: block %d mapped to out-of-range bitpos %d", policy, b, bitpos)
		}
		key := [2]int{plane, bitpos}
		if prev, dup := seen[key]; dup {
			t.Fatalf("policy %v: (plane,bitpos) %v reused by blocks %d and %d", policy, key, prev, b)
		}
		seen[key] = b

		back := m.PlaneToBlock(plane, bitpos)
		if back != b {
			t.Fatalf("policy %v: round-trip failed for block %d: got plane=%d bitpos=%d back=%d", policy, b, plane, bitpos, back)
		}
	}
	if len(seen) != total {
		t.Fatalf("policy %v: expected %d distinct (plane,bitpos) pairs, got %d", policy, total, len(seen))
	}
}

func TestPlaneBlockMappingsAreBijective(t *testing.T) {
	cases := []struct {
		policy                       PlaneMapping
		planesPerPkg, blocksPerPlane int
	}{
		{MappingConcat, 4, 8},
		{MappingFullStripe, 4, 8},
		{MappingPairwiseStripe, 4, 8},
		{MappingConcat, 1, 64},
		{MappingFullStripe, 8, 4},
		{MappingPairwiseStripe, 8, 4},
		{MappingPairwiseStripe, 2, 16},
	}
	for _, c := range cases {
		checkBijective(t, c.policy, c.planesPerPkg, c.blocksPerPlane)
	}
}

func TestConcatContiguousWithinPlane(t *testing.T) {
	g := Geometry{PlaneMapping: MappingConcat, PlanesPerPkg: 2, BlocksPerPlane: 4}
	m := NewPlaneBlockMap(g)
	for b := 0; b < 4; b++ {
		plane, _ := m.BlockToPlane(b)
		if plane != 0 {
			t.Fatalf("expected block %d in plane 0, got %d", b, plane)
		}
	}
	for b := 4; b < 8; b++ {
		plane, _ := m.BlockToPlane(b)
		if plane != 1 {
			t.Fatalf("expected block %d in plane 1, got %d", b, plane)
		}
	}
}

func TestFullStripeRoundRobin(t *testing.T) {
	g := Geometry{PlaneMapping: MappingFullStripe, PlanesPerPkg: 4, BlocksPerPlane: 2}
	m := NewPlaneBlockMap(g)
	for b := 0; b < 4; b++ {
		plane, bitpos := m.BlockToPlane(b)
		if plane != b || bitpos != 0 {
			t.Fatalf("expected block %d -> plane %d bitpos 0, got plane=%d bitpos=%d", b, b, plane, bitpos)
		}
	}
}

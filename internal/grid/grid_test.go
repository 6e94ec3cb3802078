package grid

import "testing"

func TestEnumerate_SumInvariant(t *testing.T) {
	n, total := 3, 10
	count := 0
	Enumerate(n, total, func(counts []int) {
		sum := 0
		for _, c := range counts {
			if c < 0 {
				t.Fatalf("negative count %v in %v", c, counts)
			}
			sum += c
		}
		if sum != total {
			t.Fatalf("sum %d != total %d for %v", sum, total, counts)
		}
		count++
	})
	if want := Cardinality(n, total); count != want {
		t.Errorf("visited %d candidates, want %d", count, want)
	}
}

func TestEnumerate_SingleProtocol(t *testing.T) {
	seen := [][]int{}
	Enumerate(1, 11, func(counts []int) {
		seen = append(seen, append([]int(nil), counts...))
	})
	if len(seen) != 1 || seen[0][0] != 11 {
		t.Fatalf("expected exactly one candidate [11], got %v", seen)
	}
}

func TestEnumerate_DeterministicOrder(t *testing.T) {
	var first, second [][]int
	Enumerate(3, 5, func(counts []int) { first = append(first, append([]int(nil), counts...)) })
	Enumerate(3, 5, func(counts []int) { second = append(second, append([]int(nil), counts...)) })
	if len(first) != len(second) {
		t.Fatalf("length mismatch")
	}
	for i := range first {
		if first[i][0] != second[i][0] || first[i][1] != second[i][1] || first[i][2] != second[i][2] {
			t.Fatalf("order diverged at index %d: %v vs %v", i, first[i], second[i])
		}
	}
}

func TestEnumerateBounded_RespectsPerAxisCap(t *testing.T) {
	maxSteps := []int{3, 100, 100}
	Enumerate(0, 0, nil) // no-op sanity call
	EnumerateBounded(3, 10, maxSteps, func(counts []int) {
		if counts[0] > 3 {
			t.Fatalf("axis 0 exceeded cap: %v", counts)
		}
		sum := counts[0] + counts[1] + counts[2]
		if sum != 10 {
			t.Fatalf("sum %d != 10 for %v", sum, counts)
		}
	})
}

func TestEnumerateBounded_LastAxisExcludedWhenOverCap(t *testing.T) {
	maxSteps := []int{100, 2}
	count := 0
	EnumerateBounded(2, 10, maxSteps, func(counts []int) { count++ })
	// Axis 0 runs 0..10; only 8, 9 and 10 leave a remainder within the last
	// axis cap of 2, so the other 8 candidates are excluded.
	if count != 3 {
		t.Errorf("expected 3 candidates (remainder 2, 1, 0 on the last axis), got %d", count)
	}
}

func TestCardinality(t *testing.T) {
	cases := []struct{ n, total, want int }{
		{1, 5, 1},
		{2, 10, 11},
		{3, 10, 66},
	}
	for _, c := range cases {
		if got := Cardinality(c.n, c.total); got != c.want {
			t.Errorf("Cardinality(%d,%d) = %d, want %d", c.n, c.total, got, c.want)
		}
	}
}

package splat

import "testing"

func TestMortonSortUnitCubeZOrder(t *testing.T) {
	// The eight corners of a unit cube, listed in the order a Z-order
	// (Morton) curve visits them: each axis toggles at half the rate of
	// the one before it, x fastest.
	type corner struct{ x, y, z float32 }
	corners := []corner{
		{0, 0, 0}, {1, 0, 0}, {0, 1, 0}, {1, 1, 0},
		{0, 0, 1}, {1, 0, 1}, {0, 1, 1}, {1, 1, 1},
	}

	// Scramble the input order; MortonSort must restore Z-order
	// regardless of input order.
	scrambled := []int{5, 2, 7, 0, 4, 1, 6, 3}
	positions := make([]float32, 0, len(corners)*3)
	ids := make([]int, len(corners))
	for i, idx := range scrambled {
		c := corners[idx]
		positions = append(positions, c.x, c.y, c.z)
		ids[i] = idx
	}

	changed := MortonSort(positions, 3, func(i, j int) {
		ids[i], ids[j] = ids[j], ids[i]
	})
	if !changed {
		t.Fatal("expected MortonSort to reorder a scrambled unit cube")
	}

	want := []int{0, 1, 2, 3, 4, 5, 6, 7}
	if len(ids) != len(want) {
		t.Fatalf("ids length = %d, want %d", len(ids), len(want))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("position %d resolved to corner %d, want Z-order scenario %v, got %v", i, ids[i], want, ids)
		}
	}
}

func TestMortonSortIdempotent(t *testing.T) {
	positions := []float32{
		9, 1, 4,
		2, 7, 0,
		5, 5, 5,
		0, 9, 2,
		3, 3, 8,
		8, 0, 1,
	}
	first := append([]float32(nil), positions...)
	if ok := MortonSort(first, 3, nil); !ok {
		t.Fatal("expected first MortonSort pass to report a change")
	}

	second := append([]float32(nil), first...)
	changedAgain := MortonSort(second, 3, nil)

	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("MortonSort is not idempotent: pass 1 = %v, pass 2 = %v", first, second)
		}
	}
	_ = changedAgain
}

func TestMortonSortSkipsTinyOrDegenerateChunks(t *testing.T) {
	tiny := []float32{0, 0, 0, 1, 1, 1, 2, 2, 2}
	if MortonSort(tiny, 3, nil) {
		t.Fatal("expected MortonSort to skip a chunk with 3 or fewer splats")
	}

	// Zero extent on the Y axis: every point shares y=0.
	flat := []float32{
		0, 0, 0,
		1, 0, 0,
		2, 0, 1,
		3, 0, 1,
		4, 0, 0,
	}
	if MortonSort(flat, 3, nil) {
		t.Fatal("expected MortonSort to skip a chunk with zero extent on an axis")
	}
}

func TestMortonSortPermutesParallelArrays(t *testing.T) {
	positions := []float32{
		5, 5, 5,
		0, 0, 0,
		9, 9, 9,
		1, 1, 1,
		8, 8, 8,
	}
	labels := []string{"c", "a", "e", "b", "d"}

	MortonSort(positions, 3, func(i, j int) {
		labels[i], labels[j] = labels[j], labels[i]
	})

	// After sorting, labels must still line up with their original
	// position (a < b < c < d < e by construction along the diagonal).
	want := []string{"a", "b", "c", "d", "e"}
	for i := range want {
		if labels[i] != want[i] {
			t.Fatalf("labels after MortonSort = %v, want %v", labels, want)
		}
	}
}

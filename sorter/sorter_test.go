package sorter

import (
	"context"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gsplat/chunkstore"
	"github.com/gogpu/gsplat/splat"
)

type fakeDevice struct{}

func (fakeDevice) MaxBufferLength() int64 { return 1 << 30 }

func pointAt(x float32) splat.ScenePoint {
	return splat.ScenePoint{
		Position: mgl32.Vec3{x, 0, 0},
		Color:    splat.NewSRGB8Color(200, 200, 200),
		Opacity:  splat.Opacity{Kind: splat.OpacityLinear, Linear: 1},
		Scale:    splat.Scale{Kind: splat.ScaleLinear, Value: mgl32.Vec3{1, 1, 1}},
		Rotation: mgl32.QuatIdent(),
	}
}

func buildChunk(t *testing.T, xs ...float32) *chunkstore.Chunk {
	t.Helper()
	pts := make([]splat.ScenePoint, len(xs))
	for i, x := range xs {
		pts[i] = pointAt(x)
	}
	c, err := chunkstore.NewChunk(fakeDevice{}, pts, 0)
	if err != nil {
		t.Fatalf("NewChunk: %v", err)
	}
	return c
}

func waitForValid(t *testing.T, s *Sorter, timeout time.Duration) *IndexBuffer {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	buf, ok := s.ObtainSortedIndices(ctx)
	if !ok {
		t.Fatal("timed out waiting for a valid sorted-index buffer")
	}
	return buf
}

func TestSortOrdersBackToFront(t *testing.T) {
	s, err := New(fakeDevice{}, true, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()

	chunk := buildChunk(t, 1, 5, 2, 10)
	s.SetChunks([]chunkstore.ChunkReference{{Index: 0, Chunk: chunk}})
	s.UpdateCamera(CameraPose{Position: [3]float32{0, 0, 0}, Forward: [3]float32{1, 0, 0}})

	buf := waitForValid(t, s, time.Second)
	defer s.ReleaseSortedIndices(buf)

	elems := buf.Buffer().Elements()
	if len(elems) != 4 {
		t.Fatalf("want 4 sorted entries, got %d", len(elems))
	}

	splats := chunk.Splats().Elements()
	var depths []float32
	for _, e := range elems {
		p := splats[e.SplatIndex]
		depths = append(depths, p.Position[0]*p.Position[0])
	}
	for i := 1; i < len(depths); i++ {
		if depths[i] > depths[i-1] {
			t.Fatalf("expected non-increasing (back-to-front) depth order, got %v", depths)
		}
	}
}

func TestTryObtainWithNoValidBufferFails(t *testing.T) {
	s, err := New(fakeDevice{}, true, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()

	if _, ok := s.TryObtainSortedIndices(); ok {
		t.Fatal("expected no valid buffer before any sort has run")
	}
}

func TestInvalidateAllWithdrawsBufferUntilNextSort(t *testing.T) {
	s, err := New(fakeDevice{}, true, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()

	chunk := buildChunk(t, 1, 2, 3)
	s.SetChunks([]chunkstore.ChunkReference{{Index: 0, Chunk: chunk}})
	s.UpdateCamera(CameraPose{Position: [3]float32{0, 0, 0}, Forward: [3]float32{1, 0, 0}})

	buf := waitForValid(t, s, time.Second)
	s.ReleaseSortedIndices(buf)

	s.InvalidateAll()
	if _, ok := s.TryObtainSortedIndices(); ok {
		t.Fatal("expected invalidated buffer to not be returned")
	}

	buf2 := waitForValid(t, s, time.Second)
	s.ReleaseSortedIndices(buf2)
}

func TestSetChunksSameListStillResorts(t *testing.T) {
	s, err := New(fakeDevice{}, true, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()

	chunk := buildChunk(t, 1, 2, 3)
	refs := []chunkstore.ChunkReference{{Index: 0, Chunk: chunk}}
	s.SetChunks(refs)
	s.UpdateCamera(CameraPose{Position: [3]float32{0, 0, 0}, Forward: [3]float32{1, 0, 0}})

	buf := waitForValid(t, s, time.Second)
	s.ReleaseSortedIndices(buf)

	// Publishing the same list again is a no-op content-wise but still
	// marks needsSort: SetChunks unconditionally replaces the list and
	// requests a re-sort.
	s.SetChunks(refs)
	buf2 := waitForValid(t, s, time.Second)
	s.ReleaseSortedIndices(buf2)
}

func TestWithExclusiveAccessInvalidateWaitsForReleases(t *testing.T) {
	s, err := New(fakeDevice{}, true, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Stop()

	chunk := buildChunk(t, 1, 2, 3)
	s.SetChunks([]chunkstore.ChunkReference{{Index: 0, Chunk: chunk}})
	s.UpdateCamera(CameraPose{Position: [3]float32{0, 0, 0}, Forward: [3]float32{1, 0, 0}})

	buf := waitForValid(t, s, time.Second)

	releaseDone := make(chan struct{})
	go func() {
		time.Sleep(30 * time.Millisecond)
		s.ReleaseSortedIndices(buf)
		close(releaseDone)
	}()

	bodyRan := make(chan struct{})
	s.WithExclusiveAccess(true, func() {
		close(bodyRan)
	})

	select {
	case <-releaseDone:
	default:
		t.Fatal("WithExclusiveAccess(invalidate=true) should not return before the held buffer is released")
	}
	<-bodyRan
}

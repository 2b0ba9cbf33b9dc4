package chunkstore

import (
	"sync"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gogpu/gsplat/splat"
)

type fakeDevice struct{}

func (fakeDevice) MaxBufferLength() int64 { return 1 << 30 }

type recordingTarget struct {
	mu   sync.Mutex
	refs []ChunkReference
}

func (r *recordingTarget) SetChunks(refs []ChunkReference) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refs = refs
}

func (r *recordingTarget) WithExclusiveAccess(invalidate bool, body func()) {
	body()
}

func (r *recordingTarget) snapshot() []ChunkReference {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ChunkReference, len(r.refs))
	copy(out, r.refs)
	return out
}

func testPoints(n int) []splat.ScenePoint {
	pts := make([]splat.ScenePoint, n)
	for i := range pts {
		pts[i] = splat.ScenePoint{
			Position: mgl32.Vec3{float32(i), 0, 0},
			Color:    splat.NewSRGB8Color(255, 255, 255),
			Opacity:  splat.Opacity{Kind: splat.OpacityLinear, Linear: 1},
			Scale:    splat.Scale{Kind: splat.ScaleLinear, Value: mgl32.Vec3{1, 1, 1}},
			Rotation: mgl32.QuatIdent(),
		}
	}
	return pts
}

func TestAddChunkPublishesContiguousIndices(t *testing.T) {
	target := &recordingTarget{}
	store := NewStore(target)

	idA, err := store.AddChunk(fakeDevice{}, testPoints(5), 0)
	if err != nil {
		t.Fatalf("AddChunk a: %v", err)
	}
	idB, err := store.AddChunk(fakeDevice{}, testPoints(4), 0)
	if err != nil {
		t.Fatalf("AddChunk b: %v", err)
	}
	if idA == idB {
		t.Fatalf("expected distinct ids, got %d twice", idA)
	}

	refs := target.snapshot()
	if len(refs) != 2 {
		t.Fatalf("want 2 published refs, got %d", len(refs))
	}
	if refs[0].Index != 0 || refs[1].Index != 1 {
		t.Fatalf("want contiguous indices 0,1; got %d,%d", refs[0].Index, refs[1].Index)
	}
}

func TestSetEnabledRemovesFromPublishedSet(t *testing.T) {
	target := &recordingTarget{}
	store := NewStore(target)

	id, err := store.AddChunk(fakeDevice{}, testPoints(5), 0)
	if err != nil {
		t.Fatalf("AddChunk: %v", err)
	}

	if !store.SetEnabled(id, false) {
		t.Fatal("SetEnabled on known id should succeed")
	}
	if store.IsEnabled(id) {
		t.Fatal("chunk should be disabled")
	}
	if got := len(target.snapshot()); got != 0 {
		t.Fatalf("disabled chunk should not be published, got %d entries", got)
	}

	if !store.SetEnabled(id, true) {
		t.Fatal("re-enable should succeed")
	}
	if got := len(target.snapshot()); got != 1 {
		t.Fatalf("re-enabled chunk should be published, got %d entries", got)
	}
}

func TestSetEnabledUnknownID(t *testing.T) {
	store := NewStore(nil)
	if store.SetEnabled(ChunkID(999), true) {
		t.Fatal("SetEnabled on unknown id should return false")
	}
}

func TestRemoveChunk(t *testing.T) {
	target := &recordingTarget{}
	store := NewStore(target)

	id, _ := store.AddChunk(fakeDevice{}, testPoints(5), 0)
	store.RemoveChunk(id)

	if _, ok := store.Chunk(id); ok {
		t.Fatal("removed chunk should not be retrievable")
	}
	if got := len(target.snapshot()); got != 0 {
		t.Fatalf("want 0 published refs after remove, got %d", got)
	}
}

func TestSplatCountCountsEnabledOnly(t *testing.T) {
	store := NewStore(nil)
	idA, _ := store.AddChunk(fakeDevice{}, testPoints(5), 0)
	_, _ = store.AddChunk(fakeDevice{}, testPoints(7), 0)

	if got := store.SplatCount(); got != 12 {
		t.Fatalf("want 12 total splats, got %d", got)
	}

	store.SetEnabled(idA, false)
	if got := store.SplatCount(); got != 7 {
		t.Fatalf("want 7 splats after disabling one chunk, got %d", got)
	}
}

func TestAcquireRenderSlotTimeoutZeroDropsOnContention(t *testing.T) {
	store := NewStore(nil)

	slot1, ok := store.AcquireRenderSlot(1, 0)
	if !ok {
		t.Fatal("first render slot acquisition should succeed")
	}

	_, ok = store.AcquireRenderSlot(1, 0)
	if ok {
		t.Fatal("contended acquisition with timeout=0 should drop immediately")
	}

	slot1.Encoded()
	slot1.Completed()

	if _, ok := store.AcquireRenderSlot(1, 0); !ok {
		t.Fatal("slot should be available again once released")
	}
}

func TestAddChunkBlocksWhileRenderInFlight(t *testing.T) {
	store := NewStore(nil)

	slot, ok := store.AcquireRenderSlot(1, 0)
	if !ok {
		t.Fatal("expected render slot")
	}

	done := make(chan struct{})
	go func() {
		_, _ = store.AddChunk(fakeDevice{}, testPoints(5), 0)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("AddChunk should not complete while a render is in flight")
	case <-time.After(30 * time.Millisecond):
	}

	slot.Encoded()
	slot.Completed()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("AddChunk should complete once the render slot is released")
	}
}

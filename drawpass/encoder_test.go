package drawpass

import (
	"context"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/gogpu/gsplat/chunkstore"
	"github.com/gogpu/gsplat/gpubuf"
	"github.com/gogpu/gsplat/sorter"
	"github.com/gogpu/gsplat/splat"
)

type fakeDevice struct{}

func (fakeDevice) MaxBufferLength() int64 { return 1 << 30 }

type fakeResolver struct{}

func (fakeResolver) Address(buf *gpubuf.Buffer[splat.EncodedSplat]) uint64 { return 0 }

type fakePipeline struct{ variant PipelineVariant }

func (p fakePipeline) Variant() PipelineVariant { return p.variant }

type fakePipelineCache struct{ supportsTile bool }

func (c fakePipelineCache) Pipeline(v PipelineVariant) Pipeline { return fakePipeline{v} }
func (c fakePipelineCache) SupportsTileMemory() bool            { return c.supportsTile }

type fakePassRecorder struct {
	draws int
}

func (r *fakePassRecorder) SetPipeline(Pipeline)               {}
func (r *fakePassRecorder) SetVertexBuffer(slot uint32, d any) {}
func (r *fakePassRecorder) SetIndexBuffer(indices []uint32)    {}
func (r *fakePassRecorder) SetViewport(v ViewportDesc)         {}
func (r *fakePassRecorder) DrawIndexed(indexCount, instanceCount uint32) {
	r.draws++
}
func (r *fakePassRecorder) End() {}

type fakeCommandRecorder struct {
	completions []func()
	passes      []*fakePassRecorder
}

func (c *fakeCommandRecorder) BeginRenderPass(desc RenderPassDescriptor) RenderPassRecorder {
	p := &fakePassRecorder{}
	c.passes = append(c.passes, p)
	return p
}

func (c *fakeCommandRecorder) OnComplete(f func()) {
	c.completions = append(c.completions, f)
}

func (c *fakeCommandRecorder) fireCompletions() {
	for _, f := range c.completions {
		f()
	}
}

func identityViewport() ViewportDesc {
	ident := mgl32.Ident4()
	return ViewportDesc{
		Width: 800, Height: 600,
		Projection:   [16]float32(ident),
		View:         [16]float32(ident),
		ScreenWidth:  800,
		ScreenHeight: 600,
	}
}

func pointAt(x float32) splat.ScenePoint {
	return splat.ScenePoint{
		Position: mgl32.Vec3{x, 0, 0},
		Color:    splat.NewSRGB8Color(180, 180, 180),
		Opacity:  splat.Opacity{Kind: splat.OpacityLinear, Linear: 1},
		Scale:    splat.Scale{Kind: splat.ScaleLinear, Value: mgl32.Vec3{1, 1, 1}},
		Rotation: mgl32.QuatIdent(),
	}
}

func newHarness(t *testing.T) (*chunkstore.Store, *sorter.Sorter, *Encoder) {
	t.Helper()
	s, err := sorter.New(fakeDevice{}, true, 0)
	if err != nil {
		t.Fatalf("sorter.New: %v", err)
	}
	t.Cleanup(s.Stop)

	store := chunkstore.NewStore(s)
	pool := gpubuf.NewPool()
	enc := NewEncoder(fakeDevice{}, store, s, pool, fakeResolver{}, fakePipelineCache{}, DefaultConfig())
	return store, s, enc
}

func TestRenderDropsOnZeroChunks(t *testing.T) {
	_, _, enc := newHarness(t)

	cmd := &fakeCommandRecorder{}
	ok := enc.Render(context.Background(), []ViewportDesc{identityViewport()}, ColorTarget{}, nil, nil, 1, cmd)
	if ok {
		t.Fatal("expected Render to drop the frame with zero chunks")
	}
}

func TestRenderDropsOnZeroSplatChunk(t *testing.T) {
	store, _, enc := newHarness(t)
	_, err := store.AddChunk(fakeDevice{}, nil, 0)
	if err != nil {
		t.Fatalf("AddChunk: %v", err)
	}

	cmd := &fakeCommandRecorder{}
	ok := enc.Render(context.Background(), []ViewportDesc{identityViewport()}, ColorTarget{}, nil, nil, 1, cmd)
	if ok {
		t.Fatal("expected Render to drop the frame when every chunk is empty")
	}
}

func TestRenderDropsOnNoViewports(t *testing.T) {
	store, _, enc := newHarness(t)
	_, err := store.AddChunk(fakeDevice{}, []splat.ScenePoint{pointAt(1), pointAt(2), pointAt(3), pointAt(4)}, 0)
	if err != nil {
		t.Fatalf("AddChunk: %v", err)
	}

	cmd := &fakeCommandRecorder{}
	ok := enc.Render(context.Background(), nil, ColorTarget{}, nil, nil, 1, cmd)
	if ok {
		t.Fatal("expected Render to drop the frame with no viewports")
	}
}

func TestRenderDropsOnSortTimeoutZero(t *testing.T) {
	store, _, enc := newHarness(t)
	enc.cfg.SortTimeout = 0

	_, err := store.AddChunk(fakeDevice{}, []splat.ScenePoint{pointAt(1), pointAt(2), pointAt(3), pointAt(4)}, 0)
	if err != nil {
		t.Fatalf("AddChunk: %v", err)
	}

	// No sort has had a chance to run yet, so no valid buffer exists;
	// with sort_timeout == 0 the frame must drop rather than poll.
	cmd := &fakeCommandRecorder{}
	ok := enc.Render(context.Background(), []ViewportDesc{identityViewport()}, ColorTarget{}, nil, nil, 1, cmd)
	if ok {
		t.Fatal("expected Render to drop the frame when sort_timeout is 0 and no sorted buffer is ready")
	}
}

func TestRenderSucceedsOnceSorted(t *testing.T) {
	store, srt, enc := newHarness(t)

	_, err := store.AddChunk(fakeDevice{}, []splat.ScenePoint{pointAt(1), pointAt(2), pointAt(3), pointAt(4)}, 0)
	if err != nil {
		t.Fatalf("AddChunk: %v", err)
	}
	srt.UpdateCamera(sorter.CameraPose{Position: [3]float32{0, 0, 0}, Forward: [3]float32{1, 0, 0}})

	deadline := time.Now().Add(time.Second)
	for {
		if buf, ok := srt.TryObtainSortedIndices(); ok {
			srt.ReleaseSortedIndices(buf)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for initial sort")
		}
		time.Sleep(2 * time.Millisecond)
	}

	cmd := &fakeCommandRecorder{}
	ok := enc.Render(context.Background(), []ViewportDesc{identityViewport()}, ColorTarget{}, nil, nil, 1, cmd)
	if !ok {
		t.Fatal("expected Render to succeed with chunks, splats, a camera, and a ready sort buffer")
	}
	if len(cmd.passes) == 0 {
		t.Fatal("expected at least one render pass to be recorded")
	}
	cmd.fireCompletions()
}

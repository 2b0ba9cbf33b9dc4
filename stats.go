package gsplat

import "sync/atomic"

// Stats is a read-only snapshot of renderer telemetry, carrying the
// counters a host HUD needs. It carries no new invariant — every field
// is one the engine already maintains for its own bookkeeping.
type Stats struct {
	EnabledChunkCount int
	TotalSplatCount   int
	DroppedFrameCount uint64
	PoolHits          uint64
	PoolMisses        uint64
}

// frameCounters holds the atomics backing Stats' cumulative fields.
type frameCounters struct {
	dropped atomic.Uint64
}

// recordDrop increments the dropped-frame counter and returns its new
// total, so the caller can log it without a second atomic load racing a
// concurrent increment.
func (c *frameCounters) recordDrop() uint64 {
	return c.dropped.Add(1)
}

// Package sorter implements an asynchronous depth sorter: a dedicated
// background loop that keeps one of several ref-counted index buffers
// holding a back-to-front ordering of every enabled chunk's splats,
// coordinated with chunk mutation and frame encoding without ever
// holding a lock across a blocking wait.
package sorter

import (
	"sync/atomic"

	"github.com/gogpu/gsplat/gpubuf"
)

// ChunkedSplatIndex is the 8-byte sorted-index record: the chunk a
// splat belongs to plus its position within that chunk's splat array.
type ChunkedSplatIndex struct {
	ChunkIndex uint16
	_          uint16
	SplatIndex uint32
}

// IndexBuffer is one of the sorter's N ref-counted output buffers.
// valid reports whether it currently holds a complete, up-to-date
// ordering; refcount tracks in-flight readers (frame draws) so the
// sort loop only ever writes to a buffer nothing is reading.
type IndexBuffer struct {
	buffer   *gpubuf.Buffer[ChunkedSplatIndex]
	refcount atomic.Int32
	valid    atomic.Bool
}

func newIndexBuffer(device gpubuf.Device) (*IndexBuffer, error) {
	buf, err := gpubuf.New[ChunkedSplatIndex](device, 0)
	if err != nil {
		return nil, err
	}
	return &IndexBuffer{buffer: buf}, nil
}

// Buffer returns the underlying index record buffer. Callers must hold
// a refcount (via TryObtainSortedIndices/ObtainSortedIndices) while
// reading it.
func (b *IndexBuffer) Buffer() *gpubuf.Buffer[ChunkedSplatIndex] {
	return b.buffer
}

// CameraPose is the depth-sort reference point: a camera position and
// normalized forward vector, in the scene's coordinate space.
type CameraPose struct {
	Position [3]float32
	Forward  [3]float32
}

// depthEntry is the sort loop's scratch record: one per splat, carrying
// enough to both rank by depth and write out a ChunkedSplatIndex.
type depthEntry struct {
	chunkIndex uint16
	splatIndex uint32
	depth      float32
}

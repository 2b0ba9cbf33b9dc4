package drawpass

import (
	"encoding/binary"

	"github.com/gogpu/gsplat/chunkstore"
	"github.com/gogpu/gsplat/gpubuf"
	"github.com/gogpu/gsplat/splat"
)

// chunkTableTag is the gpubuf.Pool tag under which the per-frame chunk
// table scratch buffer is recycled: pooled per frame, returned by the
// completion handler.
const chunkTableTag gpubuf.Tag = "chunktable"

// headerSize and recordSize mirror the GPU-side chunk table layout:
// header {chunks_gpu_ptr u64, enabled_chunk_count u16, pad u16, pad u32}
// then enabled_chunk_count records {splats_gpu_ptr u64, splat_count u32,
// pad u32}, 16 bytes each.
const (
	headerSize = 16
	recordSize = 16
)

// BufferAddressResolver maps a chunk's splat buffer to the GPU-visible
// address the shader-side chunk table stores. gpubuf.Buffer is plain
// host memory with no notion of a device address itself (see
// gpubuf.Allocator); resolving one is the host GPU layer's job.
type BufferAddressResolver interface {
	Address(buf *gpubuf.Buffer[splat.EncodedSplat]) uint64
}

// BuildChunkTable writes the GPU-side chunk table for refs into a
// buffer acquired from pool (or freshly allocated), returning the
// filled buffer sized to header + 16*len(refs) bytes. tablePtr is the
// GPU address of the table's own chunk-record array, used as the
// header's chunks_gpu_ptr (the table is typically placed immediately
// after its own header, so callers usually pass the record region's
// address once known to the backend).
func BuildChunkTable(device gpubuf.Device, pool *gpubuf.Pool, resolver BufferAddressResolver, refs []chunkstore.ChunkReference, tablePtr uint64) (*gpubuf.Buffer[byte], error) {
	total := headerSize + recordSize*len(refs)

	buf, ok := pool.Acquire(chunkTableTag)
	if !ok {
		var err error
		buf, err = gpubuf.New[byte](device, total)
		if err != nil {
			return nil, err
		}
	}
	if err := buf.EnsureCapacity(total); err != nil {
		return nil, err
	}
	buf.Reset()
	_ = buf.AppendSlice(make([]byte, total))

	out := buf.Elements()
	binary.LittleEndian.PutUint64(out[0:8], tablePtr)
	binary.LittleEndian.PutUint16(out[8:10], uint16(len(refs)))
	// bytes 10:16 are reserved padding, left zero.

	for i, ref := range refs {
		off := headerSize + i*recordSize
		addr := resolver.Address(ref.Chunk.Splats())
		binary.LittleEndian.PutUint64(out[off:off+8], addr)
		binary.LittleEndian.PutUint32(out[off+8:off+12], uint32(ref.Chunk.SplatCount()))
		// off+12:off+16 reserved padding, left zero.
	}

	return buf, nil
}

// ReleaseChunkTable returns buf to pool for reuse by a later frame,
// called from the frame's command-buffer completion handler.
func ReleaseChunkTable(pool *gpubuf.Pool, buf *gpubuf.Buffer[byte]) {
	pool.Release(buf, chunkTableTag)
}

package arena

import (
	"time"

	"github.com/rendermesh/gpumem"
)

// BlockID is a pool-scoped stable identifier for a block. IDs are assigned
// from a monotonic counter on allocation and are never reused.
type BlockID uint64

// NoBlock is the zero BlockID; no live block ever carries it.
const NoBlock BlockID = 0

// BlockStatus indicates whether a block describes an allocated range or a
// free region awaiting reuse.
type BlockStatus uint32

const (
	BlockStatusAllocated BlockStatus = iota
	BlockStatusFree
)

var blockStatusMapping = map[BlockStatus]string{
	BlockStatusAllocated: "Allocated",
	BlockStatusFree:      "Free",
}

func (s BlockStatus) String() string {
	return blockStatusMapping[s]
}

// Block describes one contiguous byte range within a pool's backing
// storage. Blocks are created by Pool.Allocate and mutated only by the
// owning pool; callers hold them as read-only descriptors while their
// reference count is above zero.
type Block struct {
	id        BlockID
	offset    int
	size      int
	alignment uint
	poolType  gpumem.PoolType
	status    BlockStatus
	refCount  int
	lastUsed  time.Time
}

// ID returns the block's stable identifier, used to free or retain it
// through the owning pool.
func (b *Block) ID() BlockID { return b.id }

// Offset returns the block's byte offset within the pool's backing range.
// Defragmentation may change the offset; it is stable between frames only
// if GarbageCollect and Defragment are not called.
func (b *Block) Offset() int { return b.offset }

// Size returns the usable byte length granted to this block. It is never
// less than the size requested at allocation time.
func (b *Block) Size() int { return b.size }

// Alignment returns the alignment the block was allocated with. The
// invariant Offset()%Alignment() == 0 holds for the block's whole life,
// including across defragmentation.
func (b *Block) Alignment() uint { return b.alignment }

// PoolType returns the resource kind of the pool this block belongs to.
func (b *Block) PoolType() gpumem.PoolType { return b.poolType }

// Status reports whether the block is currently allocated or free.
func (b *Block) Status() BlockStatus { return b.status }

// RefCount returns the number of outstanding holders. It starts at 1 on
// allocation; the pool reclaims the range when it reaches zero.
func (b *Block) RefCount() int { return b.refCount }

// LastUsed returns the time the block was last allocated, retained or
// touched. The manager's recommendation pass uses it as a leak heuristic.
func (b *Block) LastUsed() time.Time { return b.lastUsed }

func (b *Block) end() int {
	return b.offset + b.size
}

func (b *Block) isFree() bool {
	return b.status == BlockStatusFree
}

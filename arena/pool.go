package arena

import (
	"context"
	"fmt"
	"sort"
	"time"

	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/rendermesh/gpumem"
	"github.com/rendermesh/gpumem/gfx"
	"github.com/rendermesh/gpumem/internal/utils"
)

// minFreeBlockSize is the smallest free block worth tracking: a split
// remainder below this is absorbed into the granted allocation instead.
const minFreeBlockSize = 16

// Pool is one arena of contiguous backing storage dedicated to a single
// resource kind. It owns a block list that exactly partitions
// [0, Size()) into allocated and free ranges, with adjacent free ranges
// always coalesced before any public method returns.
//
// A Pool never grows itself: Allocate fails with nil on exhaustion and
// growth is the Manager's decision via Expand.
type Pool struct {
	logger   *slog.Logger
	device   gfx.Device
	poolType gpumem.PoolType
	handle   gfx.BackingHandle

	growthIncrement  int
	maxSize          int
	defaultAlignment uint

	mutex utils.OptionalRWMutex

	size       int
	usedBytes  int
	allocCount int

	// blocks is ordered by offset and partitions [0, size) exactly
	blocks      []*Block
	byID        *swiss.Map[BlockID, *Block]
	nextBlockID BlockID
}

func (p *Pool) PoolType() gpumem.PoolType { return p.poolType }

// Size returns the pool's current total capacity in bytes.
func (p *Pool) Size() int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.size
}

func (p *Pool) newBlock(offset, size int, status BlockStatus) *Block {
	p.nextBlockID++
	return &Block{
		id:       p.nextBlockID,
		offset:   offset,
		size:     size,
		poolType: p.poolType,
		status:   status,
	}
}

// Allocate finds or splits a free block that can hold size bytes at the
// requested alignment and returns its descriptor, or nil if the request is
// invalid or no free block can satisfy it. An alignment of 0 selects the
// pool's default. The search is first-fit over the block list in offset
// order, so results are deterministic for a given call sequence.
//
// The granted block may be larger than size when absorbing a split
// remainder too small to track, never smaller.
func (p *Pool) Allocate(size int, alignment uint) *Block {
	if alignment == 0 {
		alignment = p.defaultAlignment
	}

	if size <= 0 {
		p.logger.LogAttrs(context.Background(), slog.LevelWarn, "rejecting allocation with non-positive size",
			slog.String("poolType", p.poolType.String()),
			slog.Int("size", size))
		return nil
	}
	if err := gpumem.CheckPow2(alignment, "alignment"); err != nil {
		p.logger.LogAttrs(context.Background(), slog.LevelWarn, "rejecting allocation with invalid alignment",
			slog.String("poolType", p.poolType.String()),
			slog.Uint64("alignment", uint64(alignment)))
		return nil
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	for blockIndex := 0; blockIndex < len(p.blocks); blockIndex++ {
		candidate := p.blocks[blockIndex]
		if !candidate.isFree() {
			continue
		}

		alignedOffset := gpumem.AlignUp(candidate.offset, alignment)
		padding := alignedOffset - candidate.offset
		if candidate.size-padding < size {
			continue
		}

		block := p.commitAllocation(blockIndex, candidate, alignedOffset, size, alignment)
		gpumem.DebugValidate(p)

		p.logger.LogAttrs(context.Background(), slog.LevelDebug, "allocated block",
			slog.String("poolType", p.poolType.String()),
			slog.Uint64("block.id", uint64(block.id)),
			slog.Int("offset", block.offset),
			slog.Int("size", block.size))
		return block
	}

	p.logger.LogAttrs(context.Background(), slog.LevelDebug, "pool exhausted",
		slog.String("poolType", p.poolType.String()),
		slog.Int("size", size),
		slog.Int("freeBytes", p.size-p.usedBytes))
	return nil
}

// commitAllocation splits the free block at blockIndex into up to three
// blocks: front alignment padding (stays free), the granted allocation,
// and the remainder (stays free unless too small to track).
func (p *Pool) commitAllocation(blockIndex int, candidate *Block, alignedOffset, size int, alignment uint) *Block {
	granted := size
	remainder := candidate.end() - (alignedOffset + size)
	if remainder < minFreeBlockSize {
		granted += remainder
		remainder = 0
	}

	block := p.newBlock(alignedOffset, granted, BlockStatusAllocated)
	block.alignment = alignment
	block.refCount = 1
	block.lastUsed = time.Now()

	replacement := make([]*Block, 0, 3)
	if padding := alignedOffset - candidate.offset; padding > 0 {
		candidate.size = padding
		replacement = append(replacement, candidate)
	}
	replacement = append(replacement, block)
	if remainder > 0 {
		replacement = append(replacement, p.newBlock(alignedOffset+granted, remainder, BlockStatusFree))
	}

	p.blocks = append(p.blocks[:blockIndex], append(replacement, p.blocks[blockIndex+1:]...)...)

	p.byID.Put(block.id, block)
	p.usedBytes += granted
	p.allocCount++

	return block
}

// Free decrements the block's reference count and, when it reaches zero,
// returns the range to the free list and coalesces it with any adjacent
// free neighbors. Freeing an unknown or already-free id is a logged no-op
// returning false; it never corrupts pool state.
func (p *Pool) Free(id BlockID) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	block, ok := p.byID.Get(id)
	if !ok {
		p.logger.LogAttrs(context.Background(), slog.LevelWarn, "attempted to free an unknown or already-free block",
			slog.String("poolType", p.poolType.String()),
			slog.Uint64("block.id", uint64(id)))
		return false
	}

	block.refCount--
	if block.refCount > 0 {
		return true
	}

	p.byID.Delete(id)
	block.status = BlockStatusFree
	block.refCount = 0
	p.usedBytes -= block.size
	p.allocCount--

	p.coalesce(block)
	gpumem.DebugValidate(p)

	p.logger.LogAttrs(context.Background(), slog.LevelDebug, "freed block",
		slog.String("poolType", p.poolType.String()),
		slog.Uint64("block.id", uint64(id)))
	return true
}

// Retain registers an additional holder for an allocated block and
// refreshes its last-used time. Returns false for unknown or free ids.
func (p *Pool) Retain(id BlockID) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	block, ok := p.byID.Get(id)
	if !ok {
		return false
	}

	block.refCount++
	block.lastUsed = time.Now()
	return true
}

// Touch refreshes the last-used time of an allocated block without
// changing its reference count.
func (p *Pool) Touch(id BlockID) bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	block, ok := p.byID.Get(id)
	if !ok {
		return false
	}

	block.lastUsed = time.Now()
	return true
}

func (p *Pool) blockIndex(block *Block) int {
	index := sort.Search(len(p.blocks), func(i int) bool {
		return p.blocks[i].offset >= block.offset
	})
	if index >= len(p.blocks) || p.blocks[index] != block {
		panic(fmt.Sprintf("block %d at offset %d is not present in its own pool's block list", block.id, block.offset))
	}
	return index
}

func (p *Pool) coalesce(block *Block) {
	index := p.blockIndex(block)

	if index+1 < len(p.blocks) && p.blocks[index+1].isFree() {
		block.size += p.blocks[index+1].size
		p.blocks = append(p.blocks[:index+1], p.blocks[index+2:]...)
	}

	if index > 0 && p.blocks[index-1].isFree() {
		prev := p.blocks[index-1]
		prev.size += block.size
		p.blocks = append(p.blocks[:index], p.blocks[index+1:]...)
	}
}

// StaleAllocationCount returns the number of allocated blocks whose
// last-used time is older than maxAge. Used by the manager's
// recommendation pass as a leak heuristic.
func (p *Pool) StaleAllocationCount(maxAge time.Duration) int {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	cutoff := time.Now().Add(-maxAge)
	stale := 0
	for _, block := range p.blocks {
		if !block.isFree() && block.lastUsed.Before(cutoff) {
			stale++
		}
	}
	return stale
}

// Stats recomputes the pool's statistics by scanning the block list.
func (p *Pool) Stats() gpumem.DetailedStatistics {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	var stats gpumem.DetailedStatistics
	stats.Clear()
	stats.CapacityBytes = p.size
	stats.BlockCount = len(p.blocks)

	for _, block := range p.blocks {
		if block.isFree() {
			stats.AddFreeRegion(block.size)
		} else {
			stats.AddAllocation(block.size)
		}
	}

	return stats
}

// Defragment relocates every allocated block to the lowest offset that
// still satisfies its alignment, preserving relative order, and merges all
// resulting free space into a single trailing free block. Each byte move
// is requested from the device before the new offset commits in the
// descriptor, so the logical and physical layouts never diverge. Block ids
// and sizes are unchanged; fragmentation never increases.
//
// On a device copy failure, already-committed moves stay in place, the
// partition is rebuilt around current offsets, and the error is returned.
// Defragment does O(blocks) bookkeeping plus the device copies and should
// stay off the hot per-frame path.
func (p *Pool) Defragment() (int, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	moved := 0
	cursor := 0
	allocated := make([]*Block, 0, p.allocCount)

	for _, block := range p.blocks {
		if block.isFree() {
			continue
		}

		newOffset := gpumem.AlignUp(cursor, block.alignment)
		if newOffset < block.offset {
			err := p.device.CopyRange(p.handle, block.offset, newOffset, block.size)
			if err != nil {
				p.rebuildPartition(append(allocated, p.remainingAllocated(block)...))
				gpumem.DebugValidate(p)
				return moved, errors.Wrapf(err, "defragmenting %s pool: failed to move block %d", p.poolType, block.id)
			}
			block.offset = newOffset
			moved++
		}

		allocated = append(allocated, block)
		cursor = block.end()
	}

	p.rebuildPartition(allocated)
	gpumem.DebugValidate(p)

	p.logger.LogAttrs(context.Background(), slog.LevelDebug, "defragmented pool",
		slog.String("poolType", p.poolType.String()),
		slog.Int("blocksMoved", moved))
	return moved, nil
}

// remainingAllocated collects the allocated blocks from firstUnmoved to
// the end of the block list, in offset order.
func (p *Pool) remainingAllocated(firstUnmoved *Block) []*Block {
	var remaining []*Block
	for _, block := range p.blocks {
		if block.isFree() || block.offset < firstUnmoved.offset {
			continue
		}
		remaining = append(remaining, block)
	}
	return remaining
}

// rebuildPartition replaces the block list with the provided allocated
// blocks (already in ascending offset order) plus fresh free blocks
// covering every gap, restoring the exact partition of [0, size).
func (p *Pool) rebuildPartition(allocated []*Block) {
	rebuilt := make([]*Block, 0, len(allocated)*2+1)
	cursor := 0

	for _, block := range allocated {
		if block.offset > cursor {
			rebuilt = append(rebuilt, p.newBlock(cursor, block.offset-cursor, BlockStatusFree))
		}
		rebuilt = append(rebuilt, block)
		cursor = block.end()
	}

	if cursor < p.size {
		rebuilt = append(rebuilt, p.newBlock(cursor, p.size-cursor, BlockStatusFree))
	}

	p.blocks = rebuilt
}

// Expand grows the pool by at least extraBytes, rounded up to the pool's
// growth increment, resizing the backing storage through the device and
// appending the added range as trailing free space. Existing block offsets
// are unaffected. Fails without mutating the pool if the device resize
// fails or a configured hard cap would be exceeded.
func (p *Pool) Expand(extraBytes int) error {
	if extraBytes <= 0 {
		return errors.Newf("cannot expand %s pool by %d bytes", p.poolType, extraBytes)
	}

	p.mutex.Lock()
	defer p.mutex.Unlock()

	newSize := p.size + gpumem.RoundUpToMultiple(extraBytes, p.growthIncrement)
	if p.maxSize > 0 && newSize > p.maxSize {
		if p.size+extraBytes > p.maxSize {
			return errors.Newf("expanding %s pool to %d bytes would exceed its hard cap of %d bytes", p.poolType, p.size+extraBytes, p.maxSize)
		}
		newSize = p.maxSize
	}

	newHandle, err := p.device.ResizeBackingStorage(p.handle, newSize)
	if err != nil {
		return errors.Wrapf(err, "failed to resize backing storage for %s pool to %d bytes", p.poolType, newSize)
	}
	p.handle = newHandle

	last := p.blocks[len(p.blocks)-1]
	if last.isFree() {
		last.size += newSize - p.size
	} else {
		p.blocks = append(p.blocks, p.newBlock(p.size, newSize-p.size, BlockStatusFree))
	}

	oldSize := p.size
	p.size = newSize
	gpumem.DebugValidate(p)

	p.logger.LogAttrs(context.Background(), slog.LevelInfo, "expanded pool",
		slog.String("poolType", p.poolType.String()),
		slog.Int("oldSize", oldSize),
		slog.Int("newSize", newSize))
	return nil
}

// Destroy logs any unreleased allocations and releases the backing
// storage. The pool must not be used afterward.
func (p *Pool) Destroy() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.allocCount > 0 {
		for _, block := range p.blocks {
			if block.isFree() {
				continue
			}
			p.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unfreed block at pool destruction",
				slog.String("poolType", p.poolType.String()),
				slog.Uint64("block.id", uint64(block.id)),
				slog.Int("offset", block.offset),
				slog.Int("size", block.size),
				slog.Int("refCount", block.refCount))
		}
	}

	handle := p.handle
	p.handle = nil
	p.blocks = nil
	p.byID = nil

	err := p.device.DestroyBackingStorage(handle)
	if err != nil {
		return errors.Wrapf(err, "failed to destroy backing storage for %s pool", p.poolType)
	}
	return nil
}

// Validate performs a full consistency check of the block list: the blocks
// must exactly partition [0, Size()) in offset order with no adjacent free
// blocks, and the bookkeeping counters must match. It should not be
// possible for this to fail; it exists to diagnose implementation bugs and
// runs after every mutation in debug_gpu_mem builds.
func (p *Pool) Validate() error {
	expectedOffset := 0
	prevFree := false
	usedBytes := 0
	allocCount := 0

	for i, block := range p.blocks {
		if block.size <= 0 {
			return errors.Newf("block %d at index %d has non-positive size %d", block.id, i, block.size)
		}
		if block.offset != expectedOffset {
			return errors.Newf("block %d at index %d has offset %d, expected %d", block.id, i, block.offset, expectedOffset)
		}

		if block.isFree() {
			if prevFree {
				return errors.Newf("adjacent free blocks at index %d were not coalesced", i)
			}
			if block.refCount != 0 {
				return errors.Newf("free block %d has a nonzero refCount %d", block.id, block.refCount)
			}
			prevFree = true
		} else {
			if block.alignment != 0 && block.offset%int(block.alignment) != 0 {
				return errors.Newf("allocated block %d has offset %d unaligned to %d", block.id, block.offset, block.alignment)
			}
			mapped, ok := p.byID.Get(block.id)
			if !ok || mapped != block {
				return errors.Newf("allocated block %d is missing from the id index", block.id)
			}
			usedBytes += block.size
			allocCount++
			prevFree = false
		}

		expectedOffset = block.end()
	}

	if expectedOffset != p.size {
		return errors.Newf("block list covers [0, %d) but the pool size is %d", expectedOffset, p.size)
	}
	if usedBytes != p.usedBytes {
		return errors.Newf("block list has %d used bytes but the pool recorded %d", usedBytes, p.usedBytes)
	}
	if allocCount != p.allocCount {
		return errors.Newf("block list has %d allocations but the pool recorded %d", allocCount, p.allocCount)
	}
	if p.byID.Count() != allocCount {
		return errors.Newf("id index has %d entries but the block list has %d allocations", p.byID.Count(), allocCount)
	}

	return nil
}

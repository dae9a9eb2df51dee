// Package arena implements a block-based arena allocator for GPU resource
// memory. A Manager owns one Pool per resource kind, each pool covering a
// contiguous backing range obtained from the gfx.Device collaborator, and
// hands out Block descriptors for byte sub-ranges within those pools.
package arena

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/rendermesh/gpumem"
	"github.com/rendermesh/gpumem/gfx"
	"github.com/rendermesh/gpumem/internal/utils"
	"golang.org/x/exp/slices"
)

// staleBlockAge is how long an allocated block may go untouched before the
// recommendation pass flags it as a possible leak.
const staleBlockAge = 5 * time.Minute

// AllocationRequest is one entry of an AllocateBatch call.
type AllocationRequest struct {
	PoolType gpumem.PoolType
	Size     int
	// Alignment 0 selects the configured default
	Alignment uint
}

// GlobalStats aggregates usage across every live pool. Fragmentation is
// the free-byte-weighted average of per-pool fragmentation, so pools
// holding most of the free space dominate the global number.
type GlobalStats struct {
	gpumem.Statistics
	FreeRegionCount int
	Fragmentation   float64
	PoolCount       int
}

// Manager owns one pool per resource kind, created lazily on first
// allocation for that kind. It is process-scoped: the render subsystem
// creates one at startup and disposes it at shutdown. All methods are
// synchronous and complete within the caller's frame; GarbageCollect is
// the only method doing O(blocks) work per pool and belongs outside the
// hot per-frame path.
type Manager struct {
	logger    *slog.Logger
	device    gfx.Device
	options   CreateOptions
	callbacks memoryCallbacks

	poolsMutex utils.OptionalRWMutex
	pools      map[gpumem.PoolType]*Pool
	disposed   bool
}

// Allocate resolves or lazily creates the pool for poolType and allocates
// size bytes at the requested alignment (0 selects the default). If the
// pool cannot satisfy the request it is expanded once per the pool's
// growth policy and the allocation retried. Returns nil if the request is
// invalid or still unsatisfiable; allocation failure is a normal outcome,
// never a panic.
func (m *Manager) Allocate(poolType gpumem.PoolType, size int, alignment uint) *Block {
	if alignment == 0 {
		alignment = m.options.DefaultAlignment
	}
	if size <= 0 || gpumem.CheckPow2(alignment, "alignment") != nil {
		m.logger.LogAttrs(context.Background(), slog.LevelWarn, "rejecting invalid allocation request",
			slog.String("poolType", poolType.String()),
			slog.Int("size", size),
			slog.Uint64("alignment", uint64(alignment)))
		return nil
	}

	pool, created, err := m.resolvePool(poolType)
	if err != nil {
		m.logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to create pool",
			slog.String("poolType", poolType.String()),
			slog.Any("error", err))
		return nil
	}
	if created {
		m.callbacks.PoolCreated(poolType, pool.Size())
	}

	block := pool.Allocate(size, alignment)
	if block != nil {
		return block
	}

	// Exhausted: grow once and retry. size+alignment guarantees the new
	// trailing free space can hold the request at any phase.
	oldSize := pool.Size()
	err = pool.Expand(size + int(alignment))
	if err != nil {
		m.logger.LogAttrs(context.Background(), slog.LevelWarn, "pool exhausted and expansion failed",
			slog.String("poolType", poolType.String()),
			slog.Int("size", size),
			slog.Any("error", err))
		return nil
	}
	m.callbacks.PoolExpanded(poolType, oldSize, pool.Size())

	return pool.Allocate(size, alignment)
}

// AllocateBatch processes requests in order. Each satisfiable request
// appends one block to the result; unsatisfiable requests are skipped, so
// the result is compact and preserves the relative order of the requests
// that succeeded.
func (m *Manager) AllocateBatch(requests []AllocationRequest) []*Block {
	blocks := make([]*Block, 0, len(requests))
	for i := range requests {
		block := m.Allocate(requests[i].PoolType, requests[i].Size, requests[i].Alignment)
		if block != nil {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

// Free releases one holder reference on the block, delegating to the
// owning pool by the block's own pool type. A block whose pool no longer
// exists is a logged no-op returning false.
func (m *Manager) Free(block *Block) bool {
	if block == nil {
		return false
	}

	pool := m.lookupPool(block.PoolType())
	if pool == nil {
		m.logger.LogAttrs(context.Background(), slog.LevelWarn, "attempted to free a block from a pool that no longer exists",
			slog.String("poolType", block.PoolType().String()),
			slog.Uint64("block.id", uint64(block.ID())))
		return false
	}

	return pool.Free(block.ID())
}

// Retain registers an additional holder for the block; pair each Retain
// with one Free. Returns false if the block or its pool is gone.
func (m *Manager) Retain(block *Block) bool {
	if block == nil {
		return false
	}

	pool := m.lookupPool(block.PoolType())
	if pool == nil {
		return false
	}

	return pool.Retain(block.ID())
}

// Touch refreshes the block's last-used time for the leak heuristics
// without changing its reference count.
func (m *Manager) Touch(block *Block) bool {
	if block == nil {
		return false
	}

	pool := m.lookupPool(block.PoolType())
	if pool == nil {
		return false
	}

	return pool.Touch(block.ID())
}

// PoolStats returns the statistics of one pool, or nil if no allocation
// ever created that pool.
func (m *Manager) PoolStats(poolType gpumem.PoolType) *gpumem.DetailedStatistics {
	pool := m.lookupPool(poolType)
	if pool == nil {
		return nil
	}

	stats := pool.Stats()
	return &stats
}

// GlobalStats sums usage across all live pools and computes the
// free-byte-weighted average fragmentation. Nothing is cached: the result
// reflects the pools at the time of the call.
func (m *Manager) GlobalStats() GlobalStats {
	var global GlobalStats

	pools := m.snapshotPools()
	perPool := make([]gpumem.DetailedStatistics, len(pools))

	totalFree := 0
	for i, pool := range pools {
		perPool[i] = pool.Stats()
		global.AddStatistics(&perPool[i].Statistics)
		global.FreeRegionCount += perPool[i].FreeRegionCount
		totalFree += perPool[i].FreeBytes()
	}
	global.PoolCount = len(pools)

	if totalFree > 0 {
		for i := range perPool {
			weight := float64(perPool[i].FreeBytes()) / float64(totalFree)
			global.Fragmentation += weight * perPool[i].Fragmentation()
		}
	}

	return global
}

// IsUnderMemoryPressure reports whether the global used/capacity ratio
// exceeds the global threshold or any single pool exceeds the per-pool
// threshold. It is a pure function of current stats.
func (m *Manager) IsUnderMemoryPressure() bool {
	global := m.GlobalStats()
	if global.UsageRatio() > m.options.GlobalPressureThreshold {
		return true
	}

	for _, pool := range m.snapshotPools() {
		stats := pool.Stats()
		if stats.UsageRatio() > m.options.PoolPressureThreshold {
			return true
		}
	}

	return false
}

// MemoryRecommendations derives advisory text from current stats:
// fragmented pools, pools near capacity, global pressure, and allocations
// that have gone untouched long enough to look leaked. Informational only;
// nothing is mutated.
func (m *Manager) MemoryRecommendations() []string {
	var recommendations []string

	for _, pool := range m.snapshotPools() {
		stats := pool.Stats()

		if frag := stats.Fragmentation(); frag > m.options.GCFragmentationThreshold {
			recommendations = append(recommendations,
				fmt.Sprintf("pool %s is %.0f%% fragmented, consider running GarbageCollect", pool.PoolType(), frag*100))
		}
		if ratio := stats.UsageRatio(); ratio > m.options.PoolPressureThreshold {
			recommendations = append(recommendations,
				fmt.Sprintf("pool %s is at %.0f%% of capacity, consider releasing unused %s resources", pool.PoolType(), ratio*100, pool.PoolType()))
		}
		if stale := pool.StaleAllocationCount(staleBlockAge); stale > 0 {
			recommendations = append(recommendations,
				fmt.Sprintf("pool %s has %d allocations untouched for over %s, check for leaked references", pool.PoolType(), stale, staleBlockAge))
		}
	}

	global := m.GlobalStats()
	if ratio := global.UsageRatio(); ratio > m.options.GlobalPressureThreshold {
		recommendations = append(recommendations,
			fmt.Sprintf("global usage is at %.0f%% of capacity, consider releasing unused resources", ratio*100))
	}

	return recommendations
}

// GarbageCollect defragments every pool whose fragmentation exceeds the
// configured threshold and returns the number of pools compacted. It frees
// nothing on its own: block lifetimes are governed entirely by reference
// counts. Expect O(blocks) work per fragmented pool plus device copies;
// call it every N frames or on a pressure signal, not per frame.
func (m *Manager) GarbageCollect() int {
	compacted := 0

	for _, pool := range m.snapshotPools() {
		stats := pool.Stats()
		if stats.Fragmentation() <= m.options.GCFragmentationThreshold {
			continue
		}

		moved, err := pool.Defragment()
		if err != nil {
			m.logger.LogAttrs(context.Background(), slog.LevelWarn, "defragmentation aborted",
				slog.String("poolType", pool.PoolType().String()),
				slog.Any("error", err))
			continue
		}

		m.callbacks.PoolDefragmented(pool.PoolType(), moved)
		compacted++
	}

	return compacted
}

// Dispose destroys every pool's backing storage and clears the pool map.
// Device destroy failures are logged and ignored, since nothing further
// can be done with the storage at shutdown. The manager must not be used
// afterward.
func (m *Manager) Dispose() {
	m.poolsMutex.Lock()
	defer m.poolsMutex.Unlock()

	if m.disposed {
		return
	}

	for _, poolType := range sortedPoolTypes(m.pools) {
		err := m.pools[poolType].Destroy()
		if err != nil {
			m.logger.LogAttrs(context.Background(), slog.LevelWarn, "failed to destroy pool backing storage",
				slog.String("poolType", poolType.String()),
				slog.Any("error", err))
		}
	}

	m.pools = make(map[gpumem.PoolType]*Pool)
	m.disposed = true
}

func (m *Manager) lookupPool(poolType gpumem.PoolType) *Pool {
	m.poolsMutex.RLock()
	defer m.poolsMutex.RUnlock()

	return m.pools[poolType]
}

// resolvePool returns the pool for poolType, creating it on first use.
// The check-then-create sequence is atomic under the pools mutex so two
// threads never create the same pool twice.
func (m *Manager) resolvePool(poolType gpumem.PoolType) (*Pool, bool, error) {
	pool := m.lookupPool(poolType)
	if pool != nil {
		return pool, false, nil
	}

	m.poolsMutex.Lock()
	defer m.poolsMutex.Unlock()

	pool = m.pools[poolType]
	if pool != nil {
		return pool, false, nil
	}

	if m.disposed {
		return nil, false, errorDisposed
	}

	config := m.poolConfig(poolType)
	pool, err := newPool(m.logger, m.device, poolType, config, m.options.UseMutex)
	if err != nil {
		return nil, false, err
	}

	m.pools[poolType] = pool
	m.logger.LogAttrs(context.Background(), slog.LevelInfo, "created pool",
		slog.String("poolType", poolType.String()),
		slog.Int("size", config.InitialSize))
	return pool, true, nil
}

// snapshotPools returns the live pools in deterministic pool-type order
// without holding the pools mutex during per-pool work.
func (m *Manager) snapshotPools() []*Pool {
	m.poolsMutex.RLock()
	defer m.poolsMutex.RUnlock()

	pools := make([]*Pool, 0, len(m.pools))
	for _, poolType := range sortedPoolTypes(m.pools) {
		pools = append(pools, m.pools[poolType])
	}
	return pools
}

func sortedPoolTypes(pools map[gpumem.PoolType]*Pool) []gpumem.PoolType {
	poolTypes := make([]gpumem.PoolType, 0, len(pools))
	for poolType := range pools {
		poolTypes = append(poolTypes, poolType)
	}
	slices.Sort(poolTypes)
	return poolTypes
}

package arena

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// BuildStatsString renders the manager's current state as a JSON string
// for diagnostics: global statistics plus a per-pool breakdown. When
// detailed is true, every pool's full suballocation map is included, which
// is O(blocks) and intended for offline inspection, not per-frame use.
func (m *Manager) BuildStatsString(detailed bool) string {
	writer := jwriter.NewWriter()

	root := writer.Object()

	global := m.GlobalStats()
	general := root.Name("General").Object()
	general.Name("PoolCount").Int(global.PoolCount)
	general.Name("BlockCount").Int(global.BlockCount)
	general.Name("AllocationCount").Int(global.AllocationCount)
	general.Name("CapacityBytes").Int(global.CapacityBytes)
	general.Name("UsedBytes").Int(global.UsedBytes)
	general.Name("FreeRegionCount").Int(global.FreeRegionCount)
	general.Name("Fragmentation").Float64(global.Fragmentation)
	general.End()

	poolsObj := root.Name("Pools").Object()
	for _, pool := range m.snapshotPools() {
		poolObj := poolsObj.Name(pool.PoolType().String()).Object()
		pool.printDetailedMap(&poolObj, detailed)
		poolObj.End()
	}
	poolsObj.End()

	root.End()

	return string(writer.Bytes())
}

func (p *Pool) printDetailedMap(json *jwriter.ObjectState, detailed bool) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	json.Name("TotalBytes").Int(p.size)
	json.Name("UsedBytes").Int(p.usedBytes)
	json.Name("Allocations").Int(p.allocCount)
	json.Name("UnusedRanges").Int(len(p.blocks) - p.allocCount)

	if !detailed {
		return
	}

	arrayState := json.Name("Blocks").Array()
	defer arrayState.End()

	for _, block := range p.blocks {
		obj := arrayState.Object()

		obj.Name("Id").Int(int(block.id))
		obj.Name("Offset").Int(block.offset)
		obj.Name("Size").Int(block.size)
		obj.Name("Status").String(block.status.String())
		if !block.isFree() {
			obj.Name("RefCount").Int(block.refCount)
			obj.Name("Alignment").Int(int(block.alignment))
			obj.Name("LastUsed").String(block.lastUsed.UTC().Format("2006-01-02T15:04:05.000Z"))
		}

		obj.End()
	}
}

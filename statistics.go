package gpumem

import "math"

// Statistics is a basic set of usage numbers for a pool or group of pools.
// All counts are live values: allocations that have been freed no longer
// contribute.
type Statistics struct {
	// BlockCount is the total number of block descriptors, allocated and free
	BlockCount int
	// AllocationCount is the number of live allocated blocks
	AllocationCount int
	// CapacityBytes is the total backing-storage capacity in bytes
	CapacityBytes int
	// UsedBytes is the sum of allocated block sizes in bytes
	UsedBytes int
}

func (s *Statistics) Clear() {
	s.BlockCount = 0
	s.AllocationCount = 0
	s.CapacityBytes = 0
	s.UsedBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BlockCount += other.BlockCount
	s.AllocationCount += other.AllocationCount
	s.CapacityBytes += other.CapacityBytes
	s.UsedBytes += other.UsedBytes
}

// FreeBytes is the number of unallocated bytes across the measured pools.
func (s *Statistics) FreeBytes() int {
	return s.CapacityBytes - s.UsedBytes
}

// UsageRatio is UsedBytes as a fraction of CapacityBytes, 0 for an empty
// capacity.
func (s *Statistics) UsageRatio() float64 {
	if s.CapacityBytes == 0 {
		return 0
	}
	return float64(s.UsedBytes) / float64(s.CapacityBytes)
}

// DetailedStatistics extends Statistics with free-region data, which makes
// fragmentation computable, and allocation size extremes.
type DetailedStatistics struct {
	Statistics
	// FreeRegionCount is the number of distinct free regions
	FreeRegionCount int
	// LargestFreeRegion is the size in bytes of the largest contiguous free region
	LargestFreeRegion int
	AllocationSizeMin int
	AllocationSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.FreeRegionCount = 0
	s.LargestFreeRegion = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.UsedBytes += size

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

func (s *DetailedStatistics) AddFreeRegion(size int) {
	s.FreeRegionCount++

	if size > s.LargestFreeRegion {
		s.LargestFreeRegion = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.FreeRegionCount += other.FreeRegionCount

	if other.LargestFreeRegion > s.LargestFreeRegion {
		s.LargestFreeRegion = other.LargestFreeRegion
	}

	if other.AllocationSizeMin < s.AllocationSizeMin {
		s.AllocationSizeMin = other.AllocationSizeMin
	}

	if other.AllocationSizeMax > s.AllocationSizeMax {
		s.AllocationSizeMax = other.AllocationSizeMax
	}
}

// Fragmentation is a 0-1 metric describing how scattered free space is:
// 1 - (largest contiguous free region / total free bytes). It is 0 when
// there is no free space at all, and 0 when all free space is a single
// contiguous region.
func (s DetailedStatistics) Fragmentation() float64 {
	freeBytes := s.FreeBytes()
	if freeBytes <= 0 {
		return 0
	}
	return 1.0 - float64(s.LargestFreeRegion)/float64(freeBytes)
}

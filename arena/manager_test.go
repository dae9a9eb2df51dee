package arena

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/rendermesh/gpumem"
	"github.com/rendermesh/gpumem/gfx"
	"github.com/rendermesh/gpumem/gfx/mock_gfx"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func readyManager(t *testing.T, ctrl *gomock.Controller, options CreateOptions) (*mock_gfx.MockDevice, *Manager) {
	device := mock_gfx.NewMockDevice(ctrl)

	manager, err := New(testLogger(), device, options)
	require.NoError(t, err)

	return device, manager
}

func TestManagerLazyPoolCreation(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, manager := readyManager(t, ctrl, CreateOptions{
		PoolConfigs: map[gpumem.PoolType]PoolConfig{
			gpumem.PoolTypeVertexBuffer: {InitialSize: 1024, GrowthIncrement: 256},
		},
	})

	// One storage creation regardless of how many allocations follow
	device.EXPECT().
		CreateBackingStorage(gpumem.PoolTypeVertexBuffer, 1024).
		Return(&fakeHandle{}, nil)

	require.NotNil(t, manager.Allocate(gpumem.PoolTypeVertexBuffer, 100, 0))
	require.NotNil(t, manager.Allocate(gpumem.PoolTypeVertexBuffer, 100, 0))

	require.NotNil(t, manager.PoolStats(gpumem.PoolTypeVertexBuffer))
	require.Nil(t, manager.PoolStats(gpumem.PoolTypeTexture))
}

func TestManagerAllocateInvalidRequests(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, manager := readyManager(t, ctrl, CreateOptions{})

	// No CreateBackingStorage expectation: invalid requests must not
	// create pools
	require.Nil(t, manager.Allocate(gpumem.PoolTypeVertexBuffer, 0, 4))
	require.Nil(t, manager.Allocate(gpumem.PoolTypeVertexBuffer, -10, 4))
	require.Nil(t, manager.Allocate(gpumem.PoolTypeVertexBuffer, 100, 3))
	require.Nil(t, manager.PoolStats(gpumem.PoolTypeVertexBuffer))
}

func TestManagerAllocateDefaultAlignment(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, manager := readyManager(t, ctrl, CreateOptions{
		DefaultAlignment: 16,
		PoolConfigs: map[gpumem.PoolType]PoolConfig{
			gpumem.PoolTypeVertexBuffer: {InitialSize: 1024, GrowthIncrement: 256},
		},
	})

	device.EXPECT().
		CreateBackingStorage(gpumem.PoolTypeVertexBuffer, 1024).
		Return(&fakeHandle{}, nil)

	require.NotNil(t, manager.Allocate(gpumem.PoolTypeVertexBuffer, 10, 0))
	second := manager.Allocate(gpumem.PoolTypeVertexBuffer, 10, 0)
	require.NotNil(t, second)
	require.Zero(t, second.Offset()%16)
}

func TestManagerGrowthRetry(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, manager := readyManager(t, ctrl, CreateOptions{
		PoolConfigs: map[gpumem.PoolType]PoolConfig{
			gpumem.PoolTypeVertexBuffer: {InitialSize: 256, GrowthIncrement: 256},
		},
	})

	handle := &fakeHandle{name: "original"}
	resized := &fakeHandle{name: "resized"}
	device.EXPECT().
		CreateBackingStorage(gpumem.PoolTypeVertexBuffer, 256).
		Return(handle, nil)
	// 300+4 bytes of growth rounds up to 512, on top of the initial 256
	device.EXPECT().
		ResizeBackingStorage(handle, 768).
		Return(resized, nil)

	block := manager.Allocate(gpumem.PoolTypeVertexBuffer, 300, 4)
	require.NotNil(t, block)
	require.GreaterOrEqual(t, block.Size(), 300)

	stats := manager.PoolStats(gpumem.PoolTypeVertexBuffer)
	require.NotNil(t, stats)
	require.GreaterOrEqual(t, stats.CapacityBytes, 300)
}

func TestManagerGrowthFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, manager := readyManager(t, ctrl, CreateOptions{
		PoolConfigs: map[gpumem.PoolType]PoolConfig{
			gpumem.PoolTypeVertexBuffer: {InitialSize: 256, GrowthIncrement: 256},
		},
	})

	device.EXPECT().
		CreateBackingStorage(gpumem.PoolTypeVertexBuffer, 256).
		Return(&fakeHandle{}, nil)
	device.EXPECT().
		ResizeBackingStorage(gomock.Any(), gomock.Any()).
		Return(nil, errors.New("out of device memory"))

	require.Nil(t, manager.Allocate(gpumem.PoolTypeVertexBuffer, 300, 4))
}

func TestManagerAllocateBatchSkipsUnsatisfiable(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, manager := readyManager(t, ctrl, CreateOptions{
		PoolConfigs: map[gpumem.PoolType]PoolConfig{
			gpumem.PoolTypeVertexBuffer: {InitialSize: 1024, GrowthIncrement: 256, MaxSize: 1024},
		},
	})

	// The hard cap rejects growth without a device resize call
	device.EXPECT().
		CreateBackingStorage(gpumem.PoolTypeVertexBuffer, 1024).
		Return(&fakeHandle{}, nil)

	blocks := manager.AllocateBatch([]AllocationRequest{
		{PoolType: gpumem.PoolTypeVertexBuffer, Size: 400},
		{PoolType: gpumem.PoolTypeVertexBuffer, Size: 10000},
		{PoolType: gpumem.PoolTypeVertexBuffer, Size: 400},
	})

	require.Len(t, blocks, 2)
	require.Equal(t, 400, blocks[0].Size())
	require.Equal(t, 400, blocks[1].Size())
	require.Less(t, blocks[0].Offset(), blocks[1].Offset())
}

func TestManagerMemoryPressure(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, manager := readyManager(t, ctrl, CreateOptions{
		PoolConfigs: map[gpumem.PoolType]PoolConfig{
			gpumem.PoolTypeVertexBuffer: {InitialSize: 1000000, GrowthIncrement: 100000, MaxSize: 1000000},
		},
	})

	device.EXPECT().
		CreateBackingStorage(gpumem.PoolTypeVertexBuffer, 1000000).
		Return(&fakeHandle{}, nil)

	require.False(t, manager.IsUnderMemoryPressure())

	blocks := make([]*Block, 0, 9)
	for i := 0; i < 9; i++ {
		block := manager.Allocate(gpumem.PoolTypeVertexBuffer, 100000, 4)
		require.NotNil(t, block)
		blocks = append(blocks, block)
	}

	// 900000/1000000 used exceeds the 0.85 global threshold
	require.True(t, manager.IsUnderMemoryPressure())

	for _, block := range blocks[1:] {
		require.True(t, manager.Free(block))
	}

	require.False(t, manager.IsUnderMemoryPressure())
}

func TestManagerGarbageCollect(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, manager := readyManager(t, ctrl, CreateOptions{
		PoolConfigs: map[gpumem.PoolType]PoolConfig{
			gpumem.PoolTypeVertexBuffer: {InitialSize: 2000, GrowthIncrement: 1000, MaxSize: 2000},
		},
	})

	handle := &fakeHandle{}
	device.EXPECT().
		CreateBackingStorage(gpumem.PoolTypeVertexBuffer, 2000).
		Return(handle, nil)

	blocks := make([]*Block, 0, 10)
	for i := 0; i < 10; i++ {
		block := manager.Allocate(gpumem.PoolTypeVertexBuffer, 100, 4)
		require.NotNil(t, block)
		blocks = append(blocks, block)
	}
	for i := 0; i < 10; i += 2 {
		require.True(t, manager.Free(blocks[i]))
	}

	statsBefore := manager.PoolStats(gpumem.PoolTypeVertexBuffer)
	fragBefore := statsBefore.Fragmentation()
	require.Greater(t, fragBefore, 0.0)
	require.LessOrEqual(t, fragBefore, 1.0)

	device.EXPECT().
		CopyRange(handle, gomock.Any(), gomock.Any(), 100).
		Return(nil).
		Times(5)

	require.Equal(t, 1, manager.GarbageCollect())

	statsAfter := manager.PoolStats(gpumem.PoolTypeVertexBuffer)
	require.LessOrEqual(t, statsAfter.Fragmentation(), fragBefore)
	require.Equal(t, statsBefore.UsedBytes, statsAfter.UsedBytes)

	// A second pass finds nothing above the threshold
	require.Zero(t, manager.GarbageCollect())
}

func TestManagerGlobalStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, manager := readyManager(t, ctrl, CreateOptions{
		PoolConfigs: map[gpumem.PoolType]PoolConfig{
			gpumem.PoolTypeVertexBuffer: {InitialSize: 1024, GrowthIncrement: 256},
			gpumem.PoolTypeIndexBuffer:  {InitialSize: 1024, GrowthIncrement: 256},
		},
	})

	device.EXPECT().
		CreateBackingStorage(gomock.Any(), 1024).
		Return(&fakeHandle{}, nil).
		Times(2)

	first := manager.Allocate(gpumem.PoolTypeVertexBuffer, 256, 4)
	second := manager.Allocate(gpumem.PoolTypeVertexBuffer, 256, 4)
	third := manager.Allocate(gpumem.PoolTypeVertexBuffer, 256, 4)
	require.NotNil(t, first)
	require.NotNil(t, second)
	require.NotNil(t, third)
	require.True(t, manager.Free(second))

	scratch := manager.Allocate(gpumem.PoolTypeIndexBuffer, 64, 4)
	require.NotNil(t, scratch)
	require.True(t, manager.Free(scratch))

	global := manager.GlobalStats()
	require.Equal(t, 2, global.PoolCount)
	require.Equal(t, 2048, global.CapacityBytes)
	require.Equal(t, 512, global.UsedBytes)
	require.Equal(t, 2, global.AllocationCount)

	// Vertex: 512 free in two 256-byte runs (fragmentation 0.5).
	// Index: 1024 free in one run (fragmentation 0).
	// Weighted: (512/1536)*0.5 + (1024/1536)*0
	require.InDelta(t, 512.0/1536.0*0.5, global.Fragmentation, 1e-9)
}

func TestManagerRecommendations(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, manager := readyManager(t, ctrl, CreateOptions{
		PoolConfigs: map[gpumem.PoolType]PoolConfig{
			gpumem.PoolTypeVertexBuffer: {InitialSize: 2000, GrowthIncrement: 1000, MaxSize: 2000},
		},
	})

	require.Empty(t, manager.MemoryRecommendations())

	device.EXPECT().
		CreateBackingStorage(gpumem.PoolTypeVertexBuffer, 2000).
		Return(&fakeHandle{}, nil)

	blocks := make([]*Block, 0, 10)
	for i := 0; i < 10; i++ {
		block := manager.Allocate(gpumem.PoolTypeVertexBuffer, 100, 4)
		require.NotNil(t, block)
		blocks = append(blocks, block)
	}
	for i := 0; i < 10; i += 2 {
		require.True(t, manager.Free(blocks[i]))
	}

	recommendations := manager.MemoryRecommendations()
	require.NotEmpty(t, recommendations)

	foundFragmentation := false
	for _, recommendation := range recommendations {
		require.Contains(t, recommendation, "pool VertexBuffer")
		if recommendation == "pool VertexBuffer is 33% fragmented, consider running GarbageCollect" {
			foundFragmentation = true
		}
	}
	require.True(t, foundFragmentation)
}

func TestManagerCallbacks(t *testing.T) {
	ctrl := gomock.NewController(t)

	type callbackRecord struct {
		created      []int
		expanded     [][2]int
		defragmented []int
	}
	var record callbackRecord
	userData := "render-subsystem"

	device := mock_gfx.NewMockDevice(ctrl)
	manager, err := New(testLogger(), device, CreateOptions{
		PoolConfigs: map[gpumem.PoolType]PoolConfig{
			gpumem.PoolTypeVertexBuffer: {InitialSize: 256, GrowthIncrement: 256},
		},
		MemoryCallbacks: &MemoryCallbackOptions{
			PoolCreated: func(m *Manager, poolType gpumem.PoolType, sizeBytes int, data interface{}) {
				require.Equal(t, userData, data)
				record.created = append(record.created, sizeBytes)
			},
			PoolExpanded: func(m *Manager, poolType gpumem.PoolType, oldSize, newSize int, data interface{}) {
				require.Equal(t, userData, data)
				record.expanded = append(record.expanded, [2]int{oldSize, newSize})
			},
			PoolDefragmented: func(m *Manager, poolType gpumem.PoolType, blocksMoved int, data interface{}) {
				require.Equal(t, userData, data)
				record.defragmented = append(record.defragmented, blocksMoved)
			},
			UserData: userData,
		},
	})
	require.NoError(t, err)

	handle := &fakeHandle{}
	device.EXPECT().
		CreateBackingStorage(gpumem.PoolTypeVertexBuffer, 256).
		Return(handle, nil)
	device.EXPECT().
		ResizeBackingStorage(handle, 768).
		Return(handle, nil)
	device.EXPECT().
		CopyRange(handle, gomock.Any(), gomock.Any(), gomock.Any()).
		Return(nil).
		AnyTimes()

	first := manager.Allocate(gpumem.PoolTypeVertexBuffer, 100, 4)
	require.NotNil(t, first)
	require.Equal(t, []int{256}, record.created)

	// Exceed capacity to force an expansion
	second := manager.Allocate(gpumem.PoolTypeVertexBuffer, 300, 4)
	require.NotNil(t, second)
	require.Equal(t, [][2]int{{256, 768}}, record.expanded)

	require.True(t, manager.Free(first))
	if manager.GarbageCollect() > 0 {
		require.NotEmpty(t, record.defragmented)
	}
}

func TestManagerDispose(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, manager := readyManager(t, ctrl, CreateOptions{
		PoolConfigs: map[gpumem.PoolType]PoolConfig{
			gpumem.PoolTypeVertexBuffer: {InitialSize: 1024, GrowthIncrement: 256},
			gpumem.PoolTypeTexture:      {InitialSize: 2048, GrowthIncrement: 512},
		},
	})

	vertexHandle := &fakeHandle{name: "vertex"}
	textureHandle := &fakeHandle{name: "texture"}
	device.EXPECT().
		CreateBackingStorage(gpumem.PoolTypeVertexBuffer, 1024).
		Return(vertexHandle, nil)
	device.EXPECT().
		CreateBackingStorage(gpumem.PoolTypeTexture, 2048).
		Return(textureHandle, nil)

	vertexBlock := manager.Allocate(gpumem.PoolTypeVertexBuffer, 100, 4)
	require.NotNil(t, vertexBlock)
	require.NotNil(t, manager.Allocate(gpumem.PoolTypeTexture, 100, 4))

	device.EXPECT().DestroyBackingStorage(vertexHandle).Return(nil)
	device.EXPECT().DestroyBackingStorage(textureHandle).Return(errors.New("device lost"))

	// A destroy failure is logged and ignored: disposal always completes
	manager.Dispose()

	require.Nil(t, manager.PoolStats(gpumem.PoolTypeVertexBuffer))
	require.Nil(t, manager.Allocate(gpumem.PoolTypeVertexBuffer, 100, 4))
	require.False(t, manager.Free(vertexBlock))

	// Disposing twice is harmless
	manager.Dispose()
}

func TestManagerRetainAndTouch(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, manager := readyManager(t, ctrl, CreateOptions{
		PoolConfigs: map[gpumem.PoolType]PoolConfig{
			gpumem.PoolTypeVertexBuffer: {InitialSize: 1024, GrowthIncrement: 256},
		},
	})

	device.EXPECT().
		CreateBackingStorage(gpumem.PoolTypeVertexBuffer, 1024).
		Return(&fakeHandle{}, nil)

	block := manager.Allocate(gpumem.PoolTypeVertexBuffer, 100, 4)
	require.NotNil(t, block)

	allocatedAt := block.LastUsed()
	require.True(t, manager.Retain(block))
	require.Equal(t, 2, block.RefCount())
	require.True(t, manager.Touch(block))
	require.False(t, block.LastUsed().Before(allocatedAt))

	require.True(t, manager.Free(block))
	require.True(t, manager.Free(block))
	require.False(t, manager.Free(block))

	require.False(t, manager.Retain(nil))
	require.False(t, manager.Touch(nil))
	require.False(t, manager.Free(nil))
}

func TestManagerBuildStatsString(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, manager := readyManager(t, ctrl, CreateOptions{
		PoolConfigs: map[gpumem.PoolType]PoolConfig{
			gpumem.PoolTypeVertexBuffer: {InitialSize: 1024, GrowthIncrement: 256},
		},
	})

	device.EXPECT().
		CreateBackingStorage(gpumem.PoolTypeVertexBuffer, 1024).
		Return(&fakeHandle{}, nil)
	require.NotNil(t, manager.Allocate(gpumem.PoolTypeVertexBuffer, 100, 4))

	statsString := manager.BuildStatsString(true)

	var parsed map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(statsString), &parsed))
	require.Contains(t, parsed, "General")
	require.Contains(t, parsed, "Pools")

	var pools map[string]map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(parsed["Pools"], &pools))
	require.Contains(t, pools, "VertexBuffer")
	require.Contains(t, pools["VertexBuffer"], "Blocks")

	// The summary form leaves out the block map
	var summaryPools map[string]map[string]json.RawMessage
	summary := manager.BuildStatsString(false)
	require.NoError(t, json.Unmarshal([]byte(summary), &summaryPools))
}

func TestManagerPoolCreationFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, manager := readyManager(t, ctrl, CreateOptions{})

	device.EXPECT().
		CreateBackingStorage(gpumem.PoolTypeFramebuffer, gomock.Any()).
		Return(nil, errors.New("out of device memory"))

	require.Nil(t, manager.Allocate(gpumem.PoolTypeFramebuffer, 100, 4))
	require.Nil(t, manager.PoolStats(gpumem.PoolTypeFramebuffer))
}

func TestNewManagerValidation(t *testing.T) {
	_, err := New(testLogger(), nil, CreateOptions{})
	require.Error(t, err)

	ctrl := gomock.NewController(t)
	device := mock_gfx.NewMockDevice(ctrl)
	_, err = New(testLogger(), device, CreateOptions{DefaultAlignment: 3})
	require.Error(t, err)
	require.ErrorIs(t, err, gpumem.ErrNotPowerOfTwo)
}

var _ gfx.Device = (*mock_gfx.MockDevice)(nil)

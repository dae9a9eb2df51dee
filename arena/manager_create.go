package arena

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/rendermesh/gpumem"
	"github.com/rendermesh/gpumem/gfx"
)

const (
	// DefaultAlignment is applied to allocations that do not request one
	DefaultAlignment uint = 4

	// DefaultGlobalPressureThreshold is the global used/capacity ratio above
	// which IsUnderMemoryPressure reports true
	DefaultGlobalPressureThreshold = 0.85
	// DefaultPoolPressureThreshold is the single-pool used/capacity ratio
	// above which IsUnderMemoryPressure reports true
	DefaultPoolPressureThreshold = 0.95
	// DefaultGCFragmentationThreshold is the per-pool fragmentation above
	// which GarbageCollect defragments the pool
	DefaultGCFragmentationThreshold = 0.1
)

// defaultPoolConfigs are the per-kind pool defaults applied when
// CreateOptions.PoolConfigs has no entry for a kind.
var defaultPoolConfigs = map[gpumem.PoolType]PoolConfig{
	gpumem.PoolTypeVertexBuffer:  {InitialSize: 16 * 1024 * 1024, GrowthIncrement: 4 * 1024 * 1024},
	gpumem.PoolTypeIndexBuffer:   {InitialSize: 8 * 1024 * 1024, GrowthIncrement: 2 * 1024 * 1024},
	gpumem.PoolTypeTexture:       {InitialSize: 64 * 1024 * 1024, GrowthIncrement: 16 * 1024 * 1024},
	gpumem.PoolTypeFramebuffer:   {InitialSize: 32 * 1024 * 1024, GrowthIncrement: 8 * 1024 * 1024},
	gpumem.PoolTypeUniformBuffer: {InitialSize: 4 * 1024 * 1024, GrowthIncrement: 1024 * 1024},
	gpumem.PoolTypeStaging:       {InitialSize: 16 * 1024 * 1024, GrowthIncrement: 4 * 1024 * 1024},
}

const fallbackInitialSize = 8 * 1024 * 1024

var errorDisposed = errors.New("the manager has been disposed")

// CreateOptions configures a Manager. The zero value is usable: every
// field falls back to a sensible default in New.
type CreateOptions struct {
	// PoolConfigs overrides the default per-kind pool sizing. Zero fields
	// within an entry fall back to the defaults for that kind.
	PoolConfigs map[gpumem.PoolType]PoolConfig

	// DefaultAlignment is applied when an allocation requests alignment 0.
	// Must be a power of two. Defaults to DefaultAlignment (4).
	DefaultAlignment uint

	// GlobalPressureThreshold and PoolPressureThreshold configure
	// IsUnderMemoryPressure. Defaults: 0.85 and 0.95.
	GlobalPressureThreshold float64
	PoolPressureThreshold   float64

	// GCFragmentationThreshold is the per-pool fragmentation above which
	// GarbageCollect runs a defragmentation pass. Default: 0.1.
	GCFragmentationThreshold float64

	// UseMutex protects each pool with its own lock and makes pool creation
	// atomic. Leave false when the manager is driven by a single render
	// thread.
	UseMutex bool

	// MemoryCallbacks, when set, receive notifications after pool creation,
	// expansion and defragmentation have committed.
	MemoryCallbacks *MemoryCallbackOptions
}

// New creates a Manager that will obtain backing storage from the provided
// device. The device is the only collaborator: there is no ambient global
// allocator instance, so two managers never contend.
func New(logger *slog.Logger, device gfx.Device, options CreateOptions) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if device == nil {
		return nil, errors.New("attempted to create a Manager with no graphics device")
	}

	if options.DefaultAlignment == 0 {
		options.DefaultAlignment = DefaultAlignment
	}
	err := gpumem.CheckPow2(options.DefaultAlignment, "options.DefaultAlignment")
	if err != nil {
		return nil, err
	}

	if options.GlobalPressureThreshold <= 0 {
		options.GlobalPressureThreshold = DefaultGlobalPressureThreshold
	}
	if options.PoolPressureThreshold <= 0 {
		options.PoolPressureThreshold = DefaultPoolPressureThreshold
	}
	if options.GCFragmentationThreshold <= 0 {
		options.GCFragmentationThreshold = DefaultGCFragmentationThreshold
	}

	manager := &Manager{
		logger:  logger,
		device:  device,
		options: options,
		pools:   make(map[gpumem.PoolType]*Pool),
	}
	manager.poolsMutex.UseMutex = options.UseMutex
	manager.callbacks = memoryCallbacks{
		Callbacks: options.MemoryCallbacks,
		Manager:   manager,
	}

	return manager, nil
}

// poolConfig resolves the effective config for one pool kind, layering the
// caller's overrides over the per-kind defaults.
func (m *Manager) poolConfig(poolType gpumem.PoolType) PoolConfig {
	config := defaultPoolConfigs[poolType]
	if config.InitialSize == 0 {
		config.InitialSize = fallbackInitialSize
	}

	if override, ok := m.options.PoolConfigs[poolType]; ok {
		if override.InitialSize > 0 {
			config.InitialSize = override.InitialSize
		}
		if override.GrowthIncrement > 0 {
			config.GrowthIncrement = override.GrowthIncrement
		}
		if override.MaxSize > 0 {
			config.MaxSize = override.MaxSize
		}
		if override.DefaultAlignment > 0 {
			config.DefaultAlignment = override.DefaultAlignment
		}
	}

	if config.GrowthIncrement == 0 {
		config.GrowthIncrement = config.InitialSize / 4
		if config.GrowthIncrement == 0 {
			config.GrowthIncrement = config.InitialSize
		}
	}
	if config.DefaultAlignment == 0 {
		config.DefaultAlignment = m.options.DefaultAlignment
	}

	return config
}

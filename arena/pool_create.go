package arena

import (
	"log/slog"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/rendermesh/gpumem"
	"github.com/rendermesh/gpumem/gfx"
)

// PoolConfig describes how one pool is sized and grown. Zero-valued fields
// fall back to the manager-wide defaults in CreateOptions.
type PoolConfig struct {
	// InitialSize is the capacity in bytes the pool's backing storage is
	// created with
	InitialSize int
	// GrowthIncrement is the granularity Expand rounds its growth up to
	GrowthIncrement int
	// MaxSize is a hard capacity cap in bytes. 0 means unbounded.
	MaxSize int
	// DefaultAlignment is used when Allocate is called with alignment 0
	DefaultAlignment uint
}

func newPool(logger *slog.Logger, device gfx.Device, poolType gpumem.PoolType, config PoolConfig, useMutex bool) (*Pool, error) {
	if config.InitialSize <= 0 {
		return nil, errors.Newf("cannot create a %s pool with initial size %d", poolType, config.InitialSize)
	}
	if config.GrowthIncrement <= 0 {
		return nil, errors.Newf("cannot create a %s pool with growth increment %d", poolType, config.GrowthIncrement)
	}
	err := gpumem.CheckPow2(config.DefaultAlignment, "config.DefaultAlignment")
	if err != nil {
		return nil, err
	}
	if config.MaxSize > 0 && config.MaxSize < config.InitialSize {
		return nil, errors.Newf("a %s pool cannot have a max size %d below its initial size %d", poolType, config.MaxSize, config.InitialSize)
	}

	handle, err := device.CreateBackingStorage(poolType, config.InitialSize)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create backing storage for %s pool", poolType)
	}

	pool := &Pool{
		logger:           logger,
		device:           device,
		poolType:         poolType,
		handle:           handle,
		growthIncrement:  config.GrowthIncrement,
		maxSize:          config.MaxSize,
		defaultAlignment: config.DefaultAlignment,
		size:             config.InitialSize,
		byID:             swiss.NewMap[BlockID, *Block](42),
	}
	pool.mutex.UseMutex = useMutex
	pool.blocks = []*Block{pool.newBlock(0, config.InitialSize, BlockStatusFree)}

	return pool, nil
}

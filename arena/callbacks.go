package arena

import "github.com/rendermesh/gpumem"

type PoolCreatedCallback func(
	manager *Manager,
	poolType gpumem.PoolType,
	sizeBytes int,
	userData interface{},
)

type PoolExpandedCallback func(
	manager *Manager,
	poolType gpumem.PoolType,
	oldSizeBytes int,
	newSizeBytes int,
	userData interface{},
)

type PoolDefragmentedCallback func(
	manager *Manager,
	poolType gpumem.PoolType,
	blocksMoved int,
	userData interface{},
)

// MemoryCallbackOptions is an optional set of observer hooks invoked
// synchronously by the Manager after an operation has fully committed its
// new state, never mid-mutation. Intended for instrumentation.
type MemoryCallbackOptions struct {
	PoolCreated      PoolCreatedCallback
	PoolExpanded     PoolExpandedCallback
	PoolDefragmented PoolDefragmentedCallback
	UserData         interface{}
}

type memoryCallbacks struct {
	Callbacks *MemoryCallbackOptions
	Manager   *Manager
}

func (c *memoryCallbacks) PoolCreated(poolType gpumem.PoolType, sizeBytes int) {
	if c.Callbacks != nil && c.Callbacks.PoolCreated != nil {
		c.Callbacks.PoolCreated(c.Manager, poolType, sizeBytes, c.Callbacks.UserData)
	}
}

func (c *memoryCallbacks) PoolExpanded(poolType gpumem.PoolType, oldSizeBytes, newSizeBytes int) {
	if c.Callbacks != nil && c.Callbacks.PoolExpanded != nil {
		c.Callbacks.PoolExpanded(c.Manager, poolType, oldSizeBytes, newSizeBytes, c.Callbacks.UserData)
	}
}

func (c *memoryCallbacks) PoolDefragmented(poolType gpumem.PoolType, blocksMoved int) {
	if c.Callbacks != nil && c.Callbacks.PoolDefragmented != nil {
		c.Callbacks.PoolDefragmented(c.Manager, poolType, blocksMoved, c.Callbacks.UserData)
	}
}

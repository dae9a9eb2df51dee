// Package gfx defines the graphics-device collaborator interface the
// allocator uses to create, resize, move within, and destroy backing
// storage. The allocator never touches GPU memory itself: all byte-level
// work is delegated through Device, so the arena package stays a pure
// bookkeeping layer.
package gfx

import "github.com/rendermesh/gpumem"

// BackingHandle is an opaque reference to one pool's backing storage,
// produced by Device.CreateBackingStorage. The allocator holds it and
// passes it back on resize/copy/destroy but never inspects it.
type BackingHandle interface{}

// Device is the graphics-layer collaborator that owns actual GPU storage.
// Exactly one pool owns any given handle; the allocator serializes all
// calls against a single handle, so implementations do not need to be
// safe for concurrent use of the same handle.
type Device interface {
	// CreateBackingStorage creates a backing buffer of sizeBytes bytes
	// appropriate for the provided resource kind and returns a handle to it.
	CreateBackingStorage(poolType gpumem.PoolType, sizeBytes int) (BackingHandle, error)
	// ResizeBackingStorage grows (or shrinks) the storage behind handle to
	// newSizeBytes, preserving the contents of the surviving prefix, and
	// returns the handle to use from this point forward. The returned handle
	// may be the same handle or a replacement.
	ResizeBackingStorage(handle BackingHandle, newSizeBytes int) (BackingHandle, error)
	// CopyRange copies length bytes within a single backing buffer from
	// srcOffset to dstOffset. The ranges may overlap: implementations must
	// produce the result of copying through an intermediate buffer.
	CopyRange(handle BackingHandle, srcOffset, dstOffset, length int) error
	// DestroyBackingStorage releases the storage behind handle. The handle
	// must not be used again afterward.
	DestroyBackingStorage(handle BackingHandle) error
}

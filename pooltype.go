package gpumem

// PoolType identifies the kind of GPU resource a pool's backing storage is
// dedicated to. Each PoolType maps to at most one pool within a Manager.
type PoolType uint32

const (
	// PoolTypeVertexBuffer is backing storage for vertex data consumed by the
	// batching layer
	PoolTypeVertexBuffer PoolType = iota
	// PoolTypeIndexBuffer is backing storage for index data
	PoolTypeIndexBuffer
	// PoolTypeTexture is backing storage for sampled texture data
	PoolTypeTexture
	// PoolTypeFramebuffer is backing storage for render targets
	PoolTypeFramebuffer
	// PoolTypeUniformBuffer is backing storage for per-draw uniform data
	PoolTypeUniformBuffer
	// PoolTypeStaging is backing storage for host-to-device upload staging
	PoolTypeStaging
)

var poolTypeMapping = map[PoolType]string{
	PoolTypeVertexBuffer:  "VertexBuffer",
	PoolTypeIndexBuffer:   "IndexBuffer",
	PoolTypeTexture:       "Texture",
	PoolTypeFramebuffer:   "Framebuffer",
	PoolTypeUniformBuffer: "UniformBuffer",
	PoolTypeStaging:       "Staging",
}

func (t PoolType) String() string {
	str, ok := poolTypeMapping[t]
	if !ok {
		return "UnknownPoolType"
	}
	return str
}

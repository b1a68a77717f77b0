// Package driver defines the narrow device surface the compute layer is built
// on. Every method maps to a single native driver call; a non-success status
// is returned as *Error without retrying.
package driver

// Handle is an opaque reference to a driver object. The zero value is the
// null handle and is never returned by a successful create.
type Handle uint64

type (
	Buffer              Handle
	ShaderModule        Handle
	DescriptorSetLayout Handle
	PipelineLayout      Handle
	PipelineCache       Handle
	Pipeline            Handle
	DescriptorPool      Handle
	DescriptorSet       Handle
	CommandPool         Handle
	CommandBuffer       Handle
)

// LayoutBinding declares one binding slot of a descriptor-set layout.
type LayoutBinding struct {
	Slot uint32
	Kind BindingKind
}

// PushConstantRange is a byte range of the push-constant block visible to
// the compute stage.
type PushConstantRange struct {
	Offset uint32
	Size   uint32
}

// SpecializationEntry maps a specialization constant id to a byte range of
// the specialization data blob.
type SpecializationEntry struct {
	ConstantID uint32
	Offset     uint32
	Size       uint32
}

// StageInfo describes the compute stage handed to pipeline creation.
type StageInfo struct {
	Module     ShaderModule
	EntryPoint string
	Entries    []SpecializationEntry
	Data       []byte
}

// PoolSize is the number of descriptors of one kind a descriptor pool holds.
type PoolSize struct {
	Kind  BindingKind
	Count uint32
}

// BufferRange is the view of a buffer written into a descriptor set.
type BufferRange struct {
	Buffer Buffer
	Offset uint64
	Size   uint64
}

// DescriptorWrite points one binding slot of a set at a buffer range.
type DescriptorWrite struct {
	Set   DescriptorSet
	Slot  uint32
	Kind  BindingKind
	Range BufferRange
}

// Device owns a logical device and its compute queue and creates and
// destroys every other object type. Destroy methods ignore null handles.
type Device interface {
	Properties() Properties

	CreateBuffer(size uint64, kind BindingKind, allocate bool) (Buffer, error)
	AllocateBufferMemory(buf Buffer) error
	MapBuffer(buf Buffer) ([]byte, error)
	UnmapBuffer(buf Buffer)
	DestroyBuffer(buf Buffer)

	CreateShaderModule(code []uint32) (ShaderModule, error)
	DestroyShaderModule(module ShaderModule)

	CreateDescriptorSetLayout(bindings []LayoutBinding) (DescriptorSetLayout, error)
	DestroyDescriptorSetLayout(layout DescriptorSetLayout)
	CreatePipelineLayout(set DescriptorSetLayout, ranges []PushConstantRange) (PipelineLayout, error)
	DestroyPipelineLayout(layout PipelineLayout)
	CreatePipelineCache() (PipelineCache, error)
	DestroyPipelineCache(cache PipelineCache)
	CreateComputePipeline(cache PipelineCache, layout PipelineLayout, stage StageInfo) (Pipeline, error)
	DestroyPipeline(pipeline Pipeline)

	CreateDescriptorPool(sizes []PoolSize, maxSets uint32) (DescriptorPool, error)
	DestroyDescriptorPool(pool DescriptorPool)
	AllocateDescriptorSet(pool DescriptorPool, layout DescriptorSetLayout) (DescriptorSet, error)
	UpdateDescriptorSets(writes []DescriptorWrite)

	CreateCommandPool() (CommandPool, error)
	DestroyCommandPool(pool CommandPool)
	AllocateCommandBuffer(pool CommandPool) (CommandBuffer, error)
	FreeCommandBuffer(pool CommandPool, cmd CommandBuffer)

	BeginCommandBuffer(cmd CommandBuffer) error
	CmdBindPipeline(cmd CommandBuffer, pipeline Pipeline)
	CmdBindDescriptorSet(cmd CommandBuffer, layout PipelineLayout, set DescriptorSet)
	CmdPushConstants(cmd CommandBuffer, layout PipelineLayout, offset uint32, data []byte)
	CmdDispatch(cmd CommandBuffer, x, y, z uint32)
	EndCommandBuffer(cmd CommandBuffer) error

	// Submit executes cmd on the compute queue and blocks until a completion
	// fence signals or the fence timeout elapses.
	Submit(cmd CommandBuffer) error

	Close() error
}

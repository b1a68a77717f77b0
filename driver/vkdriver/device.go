package vkdriver

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"
	"github.com/vulkan-go/vulkan"

	"github.com/hellhand/vkcompute/driver"
)

type bufferObject struct {
	buffer vulkan.Buffer
	memory vulkan.DeviceMemory
	size   uint64
	kind   driver.BindingKind
	mapped unsafe.Pointer
}

type descriptorSetObject struct {
	set  vulkan.DescriptorSet
	pool driver.DescriptorPool
}

type commandBufferObject struct {
	cmd  vulkan.CommandBuffer
	pool driver.CommandPool
}

// Device is a Vulkan logical device with a single compute queue.
type Device struct {
	opts      Options
	log       *logrus.Entry
	terminate func()

	instance       vulkan.Instance
	debugCallback  vulkan.DebugReportCallback
	physicalDevice vulkan.PhysicalDevice
	memProps       vulkan.PhysicalDeviceMemoryProperties
	queueFamily    uint32
	props          driver.Properties
	device         vulkan.Device
	queue          vulkan.Queue

	next            driver.Handle
	buffers         *handleTable[*bufferObject]
	modules         *handleTable[vulkan.ShaderModule]
	setLayouts      *handleTable[vulkan.DescriptorSetLayout]
	pipelineLayouts *handleTable[vulkan.PipelineLayout]
	caches          *handleTable[vulkan.PipelineCache]
	pipelines       *handleTable[vulkan.Pipeline]
	descriptorPools *handleTable[vulkan.DescriptorPool]
	descriptorSets  *handleTable[descriptorSetObject]
	commandPools    *handleTable[vulkan.CommandPool]
	commandBuffers  *handleTable[commandBufferObject]
}

var _ driver.Device = (*Device)(nil)

func (d *Device) initTables() {
	d.buffers = newHandleTable[*bufferObject]("buffer")
	d.modules = newHandleTable[vulkan.ShaderModule]("shader module")
	d.setLayouts = newHandleTable[vulkan.DescriptorSetLayout]("descriptor set layout")
	d.pipelineLayouts = newHandleTable[vulkan.PipelineLayout]("pipeline layout")
	d.caches = newHandleTable[vulkan.PipelineCache]("pipeline cache")
	d.pipelines = newHandleTable[vulkan.Pipeline]("pipeline")
	d.descriptorPools = newHandleTable[vulkan.DescriptorPool]("descriptor pool")
	d.descriptorSets = newHandleTable[descriptorSetObject]("descriptor set")
	d.commandPools = newHandleTable[vulkan.CommandPool]("command pool")
	d.commandBuffers = newHandleTable[commandBufferObject]("command buffer")
}

func (d *Device) newHandle() driver.Handle {
	d.next++
	return d.next
}

func get[T any](t *handleTable[T], h driver.Handle) (T, error) {
	v, ok := t.lookup(h)
	if !ok {
		var zero T
		return zero, errors.Newf("unknown %s handle %d", t.kind, h)
	}
	return v, nil
}

func (d *Device) created(kind string, h driver.Handle) {
	d.log.WithFields(logrus.Fields{"kind": kind, "handle": h}).Debug("created")
}

func (d *Device) destroyed(kind string, h driver.Handle) {
	d.log.WithFields(logrus.Fields{"kind": kind, "handle": h}).Debug("destroyed")
}

func (d *Device) Properties() driver.Properties { return d.props }

func descriptorType(kind driver.BindingKind) vulkan.DescriptorType {
	if kind == driver.UniformBuffer {
		return vulkan.DescriptorTypeUniformBuffer
	}
	return vulkan.DescriptorTypeStorageBuffer
}

func bufferUsage(kind driver.BindingKind) vulkan.BufferUsageFlags {
	if kind == driver.UniformBuffer {
		return vulkan.BufferUsageFlags(vulkan.BufferUsageUniformBufferBit)
	}
	return vulkan.BufferUsageFlags(vulkan.BufferUsageStorageBufferBit)
}

func (d *Device) CreateBuffer(size uint64, kind driver.BindingKind, allocate bool) (driver.Buffer, error) {
	if size == 0 {
		return 0, errors.New("create buffer: zero size")
	}
	bufferInfo := vulkan.BufferCreateInfo{
		SType:       vulkan.StructureTypeBufferCreateInfo,
		Size:        vulkan.DeviceSize(size),
		Usage:       bufferUsage(kind),
		SharingMode: vulkan.SharingModeExclusive,
	}
	var buffer vulkan.Buffer
	if res := vulkan.CreateBuffer(d.device, &bufferInfo, nil, &buffer); res != vulkan.Success {
		return 0, driver.Check(driver.Result(res), "vkCreateBuffer")
	}
	h := d.newHandle()
	d.buffers.insert(h, &bufferObject{
		buffer: buffer,
		memory: vulkan.DeviceMemory(vulkan.NullHandle),
		size:   size,
		kind:   kind,
	})
	d.created(d.buffers.kind, h)

	if allocate {
		if err := d.AllocateBufferMemory(driver.Buffer(h)); err != nil {
			d.DestroyBuffer(driver.Buffer(h))
			return 0, err
		}
	}
	return driver.Buffer(h), nil
}

// AllocateBufferMemory binds host-visible, host-coherent memory to buf.
func (d *Device) AllocateBufferMemory(buf driver.Buffer) error {
	b, err := get(d.buffers, driver.Handle(buf))
	if err != nil {
		return err
	}
	if b.memory != vulkan.DeviceMemory(vulkan.NullHandle) {
		return errors.Newf("buffer %d already has memory", buf)
	}

	var memReq vulkan.MemoryRequirements
	vulkan.GetBufferMemoryRequirements(d.device, b.buffer, &memReq)
	memReq.Deref()
	typeIndex, ok := d.findMemoryType(memReq.MemoryTypeBits, vulkan.MemoryPropertyHostVisibleBit|vulkan.MemoryPropertyHostCoherentBit)
	if !ok {
		return &driver.Error{Op: "vkAllocateMemory", Code: driver.ErrorOutOfDeviceMemory}
	}
	allocInfo := vulkan.MemoryAllocateInfo{
		SType:           vulkan.StructureTypeMemoryAllocateInfo,
		AllocationSize:  memReq.Size,
		MemoryTypeIndex: typeIndex,
	}
	var memory vulkan.DeviceMemory
	if res := vulkan.AllocateMemory(d.device, &allocInfo, nil, &memory); res != vulkan.Success {
		return driver.Check(driver.Result(res), "vkAllocateMemory")
	}
	if res := vulkan.BindBufferMemory(d.device, b.buffer, memory, 0); res != vulkan.Success {
		vulkan.FreeMemory(d.device, memory, nil)
		return driver.Check(driver.Result(res), "vkBindBufferMemory")
	}
	b.memory = memory
	return nil
}

func (d *Device) findMemoryType(typeFilter uint32, properties vulkan.MemoryPropertyFlagBits) (uint32, bool) {
	want := vulkan.MemoryPropertyFlags(properties)
	for i := uint32(0); i < d.memProps.MemoryTypeCount; i++ {
		memoryType := d.memProps.MemoryTypes[i]
		memoryType.Deref()
		if typeFilter&(1<<i) != 0 && memoryType.PropertyFlags&want == want {
			return i, true
		}
	}
	return 0, false
}

func (d *Device) MapBuffer(buf driver.Buffer) ([]byte, error) {
	b, err := get(d.buffers, driver.Handle(buf))
	if err != nil {
		return nil, err
	}
	if b.mapped != nil {
		return hostBytes(b.mapped, b.size), nil
	}
	if b.memory == vulkan.DeviceMemory(vulkan.NullHandle) {
		return nil, errors.Newf("map buffer %d: no memory allocated", buf)
	}
	var data unsafe.Pointer
	if res := vulkan.MapMemory(d.device, b.memory, 0, vulkan.DeviceSize(b.size), 0, &data); res != vulkan.Success {
		return nil, driver.Check(driver.Result(res), "vkMapMemory")
	}
	b.mapped = data
	return hostBytes(data, b.size), nil
}

func (d *Device) UnmapBuffer(buf driver.Buffer) {
	b, ok := d.buffers.lookup(driver.Handle(buf))
	if !ok || b.mapped == nil {
		return
	}
	vulkan.UnmapMemory(d.device, b.memory)
	b.mapped = nil
}

func (d *Device) DestroyBuffer(buf driver.Buffer) {
	b, ok := d.buffers.remove(driver.Handle(buf))
	if !ok {
		return
	}
	if b.mapped != nil {
		vulkan.UnmapMemory(d.device, b.memory)
	}
	vulkan.DestroyBuffer(d.device, b.buffer, nil)
	if b.memory != vulkan.DeviceMemory(vulkan.NullHandle) {
		vulkan.FreeMemory(d.device, b.memory, nil)
	}
	d.destroyed(d.buffers.kind, driver.Handle(buf))
}

func (d *Device) CreateShaderModule(code []uint32) (driver.ShaderModule, error) {
	if len(code) == 0 {
		return 0, errors.New("create shader module: empty code")
	}
	createInfo := vulkan.ShaderModuleCreateInfo{
		SType:    vulkan.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint(len(code) * 4),
		PCode:    code,
	}
	var module vulkan.ShaderModule
	if res := vulkan.CreateShaderModule(d.device, &createInfo, nil, &module); res != vulkan.Success {
		return 0, driver.Check(driver.Result(res), "vkCreateShaderModule")
	}
	h := d.newHandle()
	d.modules.insert(h, module)
	d.created(d.modules.kind, h)
	return driver.ShaderModule(h), nil
}

func (d *Device) DestroyShaderModule(module driver.ShaderModule) {
	if m, ok := d.modules.remove(driver.Handle(module)); ok {
		vulkan.DestroyShaderModule(d.device, m, nil)
		d.destroyed(d.modules.kind, driver.Handle(module))
	}
}

func (d *Device) CreateDescriptorSetLayout(bindings []driver.LayoutBinding) (driver.DescriptorSetLayout, error) {
	vkBindings := make([]vulkan.DescriptorSetLayoutBinding, len(bindings))
	for i, b := range bindings {
		vkBindings[i] = vulkan.DescriptorSetLayoutBinding{
			Binding:         b.Slot,
			DescriptorType:  descriptorType(b.Kind),
			DescriptorCount: 1,
			StageFlags:      vulkan.ShaderStageFlags(vulkan.ShaderStageComputeBit),
		}
	}
	layoutInfo := vulkan.DescriptorSetLayoutCreateInfo{
		SType:        vulkan.StructureTypeDescriptorSetLayoutCreateInfo,
		BindingCount: uint32(len(vkBindings)),
		PBindings:    vkBindings,
	}
	var layout vulkan.DescriptorSetLayout
	if res := vulkan.CreateDescriptorSetLayout(d.device, &layoutInfo, nil, &layout); res != vulkan.Success {
		return 0, driver.Check(driver.Result(res), "vkCreateDescriptorSetLayout")
	}
	h := d.newHandle()
	d.setLayouts.insert(h, layout)
	d.created(d.setLayouts.kind, h)
	return driver.DescriptorSetLayout(h), nil
}

func (d *Device) DestroyDescriptorSetLayout(layout driver.DescriptorSetLayout) {
	if l, ok := d.setLayouts.remove(driver.Handle(layout)); ok {
		vulkan.DestroyDescriptorSetLayout(d.device, l, nil)
		d.destroyed(d.setLayouts.kind, driver.Handle(layout))
	}
}

func (d *Device) CreatePipelineLayout(set driver.DescriptorSetLayout, ranges []driver.PushConstantRange) (driver.PipelineLayout, error) {
	setLayout, err := get(d.setLayouts, driver.Handle(set))
	if err != nil {
		return 0, err
	}
	vkRanges := make([]vulkan.PushConstantRange, len(ranges))
	for i, r := range ranges {
		vkRanges[i] = vulkan.PushConstantRange{
			StageFlags: vulkan.ShaderStageFlags(vulkan.ShaderStageComputeBit),
			Offset:     r.Offset,
			Size:       r.Size,
		}
	}
	layoutInfo := vulkan.PipelineLayoutCreateInfo{
		SType:                  vulkan.StructureTypePipelineLayoutCreateInfo,
		SetLayoutCount:         1,
		PSetLayouts:            []vulkan.DescriptorSetLayout{setLayout},
		PushConstantRangeCount: uint32(len(vkRanges)),
		PPushConstantRanges:    vkRanges,
	}
	layoutOut, free := cOut[vulkan.PipelineLayout]()
	if layoutOut == nil {
		return 0, &driver.Error{Op: "vkCreatePipelineLayout", Code: driver.ErrorOutOfHostMemory}
	}
	defer free()
	if res := vulkan.CreatePipelineLayout(d.device, &layoutInfo, nil, layoutOut); res != vulkan.Success {
		return 0, driver.Check(driver.Result(res), "vkCreatePipelineLayout")
	}
	h := d.newHandle()
	d.pipelineLayouts.insert(h, *layoutOut)
	d.created(d.pipelineLayouts.kind, h)
	return driver.PipelineLayout(h), nil
}

func (d *Device) DestroyPipelineLayout(layout driver.PipelineLayout) {
	if l, ok := d.pipelineLayouts.remove(driver.Handle(layout)); ok {
		vulkan.DestroyPipelineLayout(d.device, l, nil)
		d.destroyed(d.pipelineLayouts.kind, driver.Handle(layout))
	}
}

func (d *Device) CreatePipelineCache() (driver.PipelineCache, error) {
	cacheInfo := vulkan.PipelineCacheCreateInfo{
		SType: vulkan.StructureTypePipelineCacheCreateInfo,
	}
	var cache vulkan.PipelineCache
	if res := vulkan.CreatePipelineCache(d.device, &cacheInfo, nil, &cache); res != vulkan.Success {
		return 0, driver.Check(driver.Result(res), "vkCreatePipelineCache")
	}
	h := d.newHandle()
	d.caches.insert(h, cache)
	d.created(d.caches.kind, h)
	return driver.PipelineCache(h), nil
}

func (d *Device) DestroyPipelineCache(cache driver.PipelineCache) {
	if c, ok := d.caches.remove(driver.Handle(cache)); ok {
		vulkan.DestroyPipelineCache(d.device, c, nil)
		d.destroyed(d.caches.kind, driver.Handle(cache))
	}
}

func (d *Device) CreateComputePipeline(cache driver.PipelineCache, layout driver.PipelineLayout, stage driver.StageInfo) (driver.Pipeline, error) {
	module, err := get(d.modules, driver.Handle(stage.Module))
	if err != nil {
		return 0, err
	}
	pipelineLayout, err := get(d.pipelineLayouts, driver.Handle(layout))
	if err != nil {
		return 0, err
	}
	pipelineCache := vulkan.PipelineCache(vulkan.NullHandle)
	if cache != 0 {
		if pipelineCache, err = get(d.caches, driver.Handle(cache)); err != nil {
			return 0, err
		}
	}

	stageInfo := vulkan.PipelineShaderStageCreateInfo{
		SType:  vulkan.StructureTypePipelineShaderStageCreateInfo,
		Stage:  vulkan.ShaderStageComputeBit,
		Module: module,
		PName:  safeString(stage.EntryPoint),
	}
	if len(stage.Entries) > 0 {
		data, freeData := cBytes(stage.Data)
		defer freeData()
		entries := make([]vulkan.SpecializationMapEntry, len(stage.Entries))
		for i, e := range stage.Entries {
			entries[i] = vulkan.SpecializationMapEntry{
				ConstantID: e.ConstantID,
				Offset:     e.Offset,
				Size:       uint(e.Size),
			}
		}
		stageInfo.PSpecializationInfo = []vulkan.SpecializationInfo{{
			MapEntryCount: uint32(len(entries)),
			PMapEntries:   entries,
			DataSize:      uint(len(stage.Data)),
			PData:         data,
		}}
	}

	pipelineInfo := vulkan.ComputePipelineCreateInfo{
		SType:  vulkan.StructureTypeComputePipelineCreateInfo,
		Stage:  stageInfo,
		Layout: pipelineLayout,
	}
	out, free := cAlloc(unsafe.Sizeof(vulkan.Pipeline(vulkan.NullHandle)))
	if out == nil {
		return 0, &driver.Error{Op: "vkCreateComputePipelines", Code: driver.ErrorOutOfHostMemory}
	}
	defer free()
	pipelines := unsafe.Slice((*vulkan.Pipeline)(out), 1)
	if res := vulkan.CreateComputePipelines(d.device, pipelineCache, 1, []vulkan.ComputePipelineCreateInfo{pipelineInfo}, nil, pipelines); res != vulkan.Success {
		return 0, driver.Check(driver.Result(res), "vkCreateComputePipelines")
	}
	h := d.newHandle()
	d.pipelines.insert(h, pipelines[0])
	d.created(d.pipelines.kind, h)
	return driver.Pipeline(h), nil
}

func (d *Device) DestroyPipeline(pipeline driver.Pipeline) {
	if p, ok := d.pipelines.remove(driver.Handle(pipeline)); ok {
		vulkan.DestroyPipeline(d.device, p, nil)
		d.destroyed(d.pipelines.kind, driver.Handle(pipeline))
	}
}

func (d *Device) CreateDescriptorPool(sizes []driver.PoolSize, maxSets uint32) (driver.DescriptorPool, error) {
	poolSizes := make([]vulkan.DescriptorPoolSize, 0, len(sizes))
	for _, s := range sizes {
		if s.Count == 0 {
			continue
		}
		poolSizes = append(poolSizes, vulkan.DescriptorPoolSize{
			Type:            descriptorType(s.Kind),
			DescriptorCount: s.Count,
		})
	}
	poolInfo := vulkan.DescriptorPoolCreateInfo{
		SType:         vulkan.StructureTypeDescriptorPoolCreateInfo,
		MaxSets:       maxSets,
		PoolSizeCount: uint32(len(poolSizes)),
		PPoolSizes:    poolSizes,
	}
	var pool vulkan.DescriptorPool
	if res := vulkan.CreateDescriptorPool(d.device, &poolInfo, nil, &pool); res != vulkan.Success {
		return 0, driver.Check(driver.Result(res), "vkCreateDescriptorPool")
	}
	h := d.newHandle()
	d.descriptorPools.insert(h, pool)
	d.created(d.descriptorPools.kind, h)
	return driver.DescriptorPool(h), nil
}

// DestroyDescriptorPool destroys the pool and every set allocated from it.
func (d *Device) DestroyDescriptorPool(pool driver.DescriptorPool) {
	p, ok := d.descriptorPools.remove(driver.Handle(pool))
	if !ok {
		return
	}
	for h, s := range d.descriptorSets.objects {
		if s.pool == pool {
			delete(d.descriptorSets.objects, h)
		}
	}
	vulkan.DestroyDescriptorPool(d.device, p, nil)
	d.destroyed(d.descriptorPools.kind, driver.Handle(pool))
}

func (d *Device) AllocateDescriptorSet(pool driver.DescriptorPool, layout driver.DescriptorSetLayout) (driver.DescriptorSet, error) {
	p, err := get(d.descriptorPools, driver.Handle(pool))
	if err != nil {
		return 0, err
	}
	l, err := get(d.setLayouts, driver.Handle(layout))
	if err != nil {
		return 0, err
	}
	allocInfo := vulkan.DescriptorSetAllocateInfo{
		SType:              vulkan.StructureTypeDescriptorSetAllocateInfo,
		DescriptorPool:     p,
		DescriptorSetCount: 1,
		PSetLayouts:        []vulkan.DescriptorSetLayout{l},
	}
	var set vulkan.DescriptorSet
	if res := vulkan.AllocateDescriptorSets(d.device, &allocInfo, &set); res != vulkan.Success {
		return 0, driver.Check(driver.Result(res), "vkAllocateDescriptorSets")
	}
	h := d.newHandle()
	d.descriptorSets.insert(h, descriptorSetObject{set: set, pool: pool})
	d.created(d.descriptorSets.kind, h)
	return driver.DescriptorSet(h), nil
}

func (d *Device) UpdateDescriptorSets(writes []driver.DescriptorWrite) {
	vkWrites := make([]vulkan.WriteDescriptorSet, 0, len(writes))
	for _, w := range writes {
		s, ok := d.descriptorSets.lookup(driver.Handle(w.Set))
		if !ok {
			d.log.WithField("set", w.Set).Warn("descriptor write to unknown set skipped")
			continue
		}
		b, ok := d.buffers.lookup(driver.Handle(w.Range.Buffer))
		if !ok {
			d.log.WithField("buffer", w.Range.Buffer).Warn("descriptor write of unknown buffer skipped")
			continue
		}
		vkWrites = append(vkWrites, vulkan.WriteDescriptorSet{
			SType:           vulkan.StructureTypeWriteDescriptorSet,
			DstSet:          s.set,
			DstBinding:      w.Slot,
			DstArrayElement: 0,
			DescriptorCount: 1,
			DescriptorType:  descriptorType(w.Kind),
			PBufferInfo: []vulkan.DescriptorBufferInfo{{
				Buffer: b.buffer,
				Offset: vulkan.DeviceSize(w.Range.Offset),
				Range:  vulkan.DeviceSize(w.Range.Size),
			}},
		})
	}
	if len(vkWrites) == 0 {
		return
	}
	vulkan.UpdateDescriptorSets(d.device, uint32(len(vkWrites)), vkWrites, 0, nil)
}

func (d *Device) CreateCommandPool() (driver.CommandPool, error) {
	poolInfo := vulkan.CommandPoolCreateInfo{
		SType:            vulkan.StructureTypeCommandPoolCreateInfo,
		QueueFamilyIndex: d.queueFamily,
		Flags:            vulkan.CommandPoolCreateFlags(vulkan.CommandPoolCreateResetCommandBufferBit),
	}
	var pool vulkan.CommandPool
	if res := vulkan.CreateCommandPool(d.device, &poolInfo, nil, &pool); res != vulkan.Success {
		return 0, driver.Check(driver.Result(res), "vkCreateCommandPool")
	}
	h := d.newHandle()
	d.commandPools.insert(h, pool)
	d.created(d.commandPools.kind, h)
	return driver.CommandPool(h), nil
}

// DestroyCommandPool destroys the pool and frees every buffer allocated from it.
func (d *Device) DestroyCommandPool(pool driver.CommandPool) {
	p, ok := d.commandPools.remove(driver.Handle(pool))
	if !ok {
		return
	}
	for h, c := range d.commandBuffers.objects {
		if c.pool == pool {
			delete(d.commandBuffers.objects, h)
		}
	}
	vulkan.DestroyCommandPool(d.device, p, nil)
	d.destroyed(d.commandPools.kind, driver.Handle(pool))
}

func (d *Device) AllocateCommandBuffer(pool driver.CommandPool) (driver.CommandBuffer, error) {
	p, err := get(d.commandPools, driver.Handle(pool))
	if err != nil {
		return 0, err
	}
	allocInfo := vulkan.CommandBufferAllocateInfo{
		SType:              vulkan.StructureTypeCommandBufferAllocateInfo,
		CommandPool:        p,
		Level:              vulkan.CommandBufferLevelPrimary,
		CommandBufferCount: 1,
	}
	buffers := make([]vulkan.CommandBuffer, 1)
	if res := vulkan.AllocateCommandBuffers(d.device, &allocInfo, buffers); res != vulkan.Success {
		return 0, driver.Check(driver.Result(res), "vkAllocateCommandBuffers")
	}
	h := d.newHandle()
	d.commandBuffers.insert(h, commandBufferObject{cmd: buffers[0], pool: pool})
	d.created(d.commandBuffers.kind, h)
	return driver.CommandBuffer(h), nil
}

func (d *Device) FreeCommandBuffer(pool driver.CommandPool, cmd driver.CommandBuffer) {
	p, ok := d.commandPools.lookup(driver.Handle(pool))
	if !ok {
		return
	}
	c, ok := d.commandBuffers.remove(driver.Handle(cmd))
	if !ok {
		return
	}
	vulkan.FreeCommandBuffers(d.device, p, 1, []vulkan.CommandBuffer{c.cmd})
	d.destroyed(d.commandBuffers.kind, driver.Handle(cmd))
}

func (d *Device) commandBuffer(cmd driver.CommandBuffer) (vulkan.CommandBuffer, bool) {
	c, ok := d.commandBuffers.lookup(driver.Handle(cmd))
	if !ok {
		d.log.WithField("cmd", cmd).Warn("unknown command buffer")
	}
	return c.cmd, ok
}

func (d *Device) BeginCommandBuffer(cmd driver.CommandBuffer) error {
	c, err := get(d.commandBuffers, driver.Handle(cmd))
	if err != nil {
		return err
	}
	beginInfo := vulkan.CommandBufferBeginInfo{
		SType: vulkan.StructureTypeCommandBufferBeginInfo,
		Flags: vulkan.CommandBufferUsageFlags(vulkan.CommandBufferUsageOneTimeSubmitBit),
	}
	if res := vulkan.BeginCommandBuffer(c.cmd, &beginInfo); res != vulkan.Success {
		return driver.Check(driver.Result(res), "vkBeginCommandBuffer")
	}
	return nil
}

func (d *Device) CmdBindPipeline(cmd driver.CommandBuffer, pipeline driver.Pipeline) {
	c, ok := d.commandBuffer(cmd)
	p, found := d.pipelines.lookup(driver.Handle(pipeline))
	if !ok || !found {
		return
	}
	vulkan.CmdBindPipeline(c, vulkan.PipelineBindPointCompute, p)
}

func (d *Device) CmdBindDescriptorSet(cmd driver.CommandBuffer, layout driver.PipelineLayout, set driver.DescriptorSet) {
	c, ok := d.commandBuffer(cmd)
	l, foundLayout := d.pipelineLayouts.lookup(driver.Handle(layout))
	s, foundSet := d.descriptorSets.lookup(driver.Handle(set))
	if !ok || !foundLayout || !foundSet {
		return
	}
	vulkan.CmdBindDescriptorSets(c, vulkan.PipelineBindPointCompute, l, 0, 1, []vulkan.DescriptorSet{s.set}, 0, nil)
}

func (d *Device) CmdPushConstants(cmd driver.CommandBuffer, layout driver.PipelineLayout, offset uint32, data []byte) {
	c, ok := d.commandBuffer(cmd)
	l, found := d.pipelineLayouts.lookup(driver.Handle(layout))
	if !ok || !found || len(data) == 0 {
		return
	}
	values, free := cBytes(data)
	defer free()
	vulkan.CmdPushConstants(c, l, vulkan.ShaderStageFlags(vulkan.ShaderStageComputeBit), offset, uint32(len(data)), values)
}

func (d *Device) CmdDispatch(cmd driver.CommandBuffer, x, y, z uint32) {
	if c, ok := d.commandBuffer(cmd); ok {
		vulkan.CmdDispatch(c, x, y, z)
	}
}

func (d *Device) EndCommandBuffer(cmd driver.CommandBuffer) error {
	c, err := get(d.commandBuffers, driver.Handle(cmd))
	if err != nil {
		return err
	}
	if res := vulkan.EndCommandBuffer(c.cmd); res != vulkan.Success {
		return driver.Check(driver.Result(res), "vkEndCommandBuffer")
	}
	return nil
}

// Submit executes cmd and waits on a fresh fence for at most the configured
// fence timeout. A timeout is reported as a driver error with code Timeout.
func (d *Device) Submit(cmd driver.CommandBuffer) error {
	c, err := get(d.commandBuffers, driver.Handle(cmd))
	if err != nil {
		return err
	}
	fenceInfo := vulkan.FenceCreateInfo{
		SType: vulkan.StructureTypeFenceCreateInfo,
	}
	var fence vulkan.Fence
	if res := vulkan.CreateFence(d.device, &fenceInfo, nil, &fence); res != vulkan.Success {
		return driver.Check(driver.Result(res), "vkCreateFence")
	}
	defer vulkan.DestroyFence(d.device, fence, nil)

	submitInfo := vulkan.SubmitInfo{
		SType:              vulkan.StructureTypeSubmitInfo,
		CommandBufferCount: 1,
		PCommandBuffers:    []vulkan.CommandBuffer{c.cmd},
	}
	if res := vulkan.QueueSubmit(d.queue, 1, []vulkan.SubmitInfo{submitInfo}, fence); res != vulkan.Success {
		return driver.Check(driver.Result(res), "vkQueueSubmit")
	}
	timeout := uint64(d.opts.FenceTimeout.Nanoseconds())
	if res := vulkan.WaitForFences(d.device, 1, []vulkan.Fence{fence}, vulkan.True, timeout); res != vulkan.Success {
		if driver.Result(res) == driver.Timeout {
			// The fence may still be pending; drain the queue before it is destroyed.
			vulkan.QueueWaitIdle(d.queue)
		}
		return driver.Check(driver.Result(res), "vkWaitForFences")
	}
	return nil
}

// Close destroys the logical device and instance. Objects that are still
// alive are reported and left to the driver.
func (d *Device) Close() error {
	if d.device != vulkan.Device(vulkan.NullHandle) {
		vulkan.DeviceWaitIdle(d.device)
		d.reportLive()
		vulkan.DestroyDevice(d.device, nil)
		d.device = vulkan.Device(vulkan.NullHandle)
	}
	d.destroyCore()
	return nil
}

func (d *Device) reportLive() {
	counts := map[string]int{
		d.buffers.kind:         d.buffers.len(),
		d.modules.kind:         d.modules.len(),
		d.setLayouts.kind:      d.setLayouts.len(),
		d.pipelineLayouts.kind: d.pipelineLayouts.len(),
		d.caches.kind:          d.caches.len(),
		d.pipelines.kind:       d.pipelines.len(),
		d.descriptorPools.kind: d.descriptorPools.len(),
		d.commandPools.kind:    d.commandPools.len(),
	}
	for kind, n := range counts {
		if n > 0 {
			d.log.WithFields(logrus.Fields{"kind": kind, "count": n}).Warn("objects still alive at device close")
		}
	}
}

func (d *Device) destroyCore() {
	if d.debugCallback != vulkan.DebugReportCallback(vulkan.NullHandle) {
		vulkan.DestroyDebugReportCallback(d.instance, d.debugCallback, nil)
		d.debugCallback = vulkan.DebugReportCallback(vulkan.NullHandle)
	}
	if d.instance != vulkan.Instance(vulkan.NullHandle) {
		vulkan.DestroyInstance(d.instance, nil)
		d.instance = vulkan.Instance(vulkan.NullHandle)
	}
	if d.terminate != nil {
		d.terminate()
		d.terminate = nil
	}
}

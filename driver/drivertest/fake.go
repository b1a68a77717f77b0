// Package drivertest provides an in-memory driver.Device that records every
// object it creates and destroys. Buffers live in host memory and dispatches
// are forwarded to an optional hook so tests can emulate kernels.
package drivertest

import (
	"fmt"
	"sort"

	"github.com/hellhand/vkcompute/driver"
)

// Object kinds reported by Created, Destroyed and DestroyLog.
const (
	KindBuffer              = "buffer"
	KindShaderModule        = "shader module"
	KindDescriptorSetLayout = "descriptor set layout"
	KindPipelineLayout      = "pipeline layout"
	KindPipelineCache       = "pipeline cache"
	KindPipeline            = "pipeline"
	KindDescriptorPool      = "descriptor pool"
	KindDescriptorSet       = "descriptor set"
	KindCommandPool         = "command pool"
	KindCommandBuffer       = "command buffer"
)

// Event is one destroy call observed by the fake.
type Event struct {
	Kind   string
	Handle driver.Handle
}

// DispatchContext is handed to the OnDispatch hook for every recorded
// dispatch when its command buffer is submitted.
type DispatchContext struct {
	Stage  driver.StageInfo
	Layout driver.PipelineLayout
	// Bindings maps a binding slot to the live bytes of the bound buffer range.
	Bindings  map[uint32][]byte
	Constants []byte
	Groups    [3]uint32
}

type bufferState struct {
	size   uint64
	kind   driver.BindingKind
	memory []byte
	mapped bool
}

type poolState struct {
	remaining map[driver.BindingKind]uint32
	setsLeft  uint32
}

type setState struct {
	pool     driver.DescriptorPool
	layout   driver.DescriptorSetLayout
	bindings []driver.LayoutBinding
	writes   map[uint32]driver.DescriptorWrite
}

func (s *setState) slot(n uint32) (driver.LayoutBinding, bool) {
	for _, b := range s.bindings {
		if b.Slot == n {
			return b, true
		}
	}
	return driver.LayoutBinding{}, false
}

type pipelineState struct {
	layout driver.PipelineLayout
	stage  driver.StageInfo
}

type commandOp struct {
	pipeline  driver.Pipeline
	set       driver.DescriptorSet
	constants []byte
	groups    [3]uint32
}

type commandState struct {
	pool      driver.CommandPool
	recording bool
	pipeline  driver.Pipeline
	set       driver.DescriptorSet
	constants []byte
	ops       []commandOp
}

// Device is a recording driver.Device.
type Device struct {
	// OnDispatch, when set, runs once per recorded dispatch at submit time.
	OnDispatch func(DispatchContext)

	props  driver.Properties
	next   driver.Handle
	closed bool

	kinds      map[driver.Handle]string
	created    map[string]int
	destroyed  map[string]int
	destroyLog []Event
	violations []string
	failures   map[string]driver.Result
	dispatches int

	buffers         map[driver.Handle]*bufferState
	modules         map[driver.Handle][]uint32
	setLayouts      map[driver.Handle][]driver.LayoutBinding
	pipelineLayouts map[driver.Handle][]driver.PushConstantRange
	caches          map[driver.Handle]bool
	pipelines       map[driver.Handle]pipelineState
	pools           map[driver.Handle]*poolState
	sets            map[driver.Handle]*setState
	commandPools    map[driver.Handle]bool
	commands        map[driver.Handle]*commandState
}

var _ driver.Device = (*Device)(nil)

// DefaultProperties are the limits reported by NewDevice.
func DefaultProperties() driver.Properties {
	return driver.Properties{
		Name:     "drivertest",
		VendorID: 0xffff,
		DeviceID: 1,
		Type:     driver.DeviceTypeCPU,
		Limits: driver.Limits{
			MaxComputeWorkGroupInvocations: 1024,
			MaxComputeWorkGroupSize:        [3]uint32{1024, 1024, 64},
			MaxComputeWorkGroupCount:       [3]uint32{65535, 65535, 65535},
			MaxComputeSharedMemorySize:     32768,
			MaxPushConstantsSize:           128,
			MaxStorageBufferRange:          1 << 27,
		},
	}
}

// NewDevice returns an empty fake with DefaultProperties.
func NewDevice() *Device {
	return NewDeviceWithProperties(DefaultProperties())
}

func NewDeviceWithProperties(props driver.Properties) *Device {
	return &Device{
		props:           props,
		kinds:           make(map[driver.Handle]string),
		created:         make(map[string]int),
		destroyed:       make(map[string]int),
		failures:        make(map[string]driver.Result),
		buffers:         make(map[driver.Handle]*bufferState),
		modules:         make(map[driver.Handle][]uint32),
		setLayouts:      make(map[driver.Handle][]driver.LayoutBinding),
		pipelineLayouts: make(map[driver.Handle][]driver.PushConstantRange),
		caches:          make(map[driver.Handle]bool),
		pipelines:       make(map[driver.Handle]pipelineState),
		pools:           make(map[driver.Handle]*poolState),
		sets:            make(map[driver.Handle]*setState),
		commandPools:    make(map[driver.Handle]bool),
		commands:        make(map[driver.Handle]*commandState),
	}
}

// Fail makes the next call of the named native operation (for example
// "vkCreateComputePipelines") fail with res.
func (d *Device) Fail(op string, res driver.Result) {
	d.failures[op] = res
}

func (d *Device) check(op string) error {
	res, ok := d.failures[op]
	if !ok {
		return nil
	}
	delete(d.failures, op)
	return driver.Check(res, op)
}

func (d *Device) violate(format string, args ...any) {
	d.violations = append(d.violations, fmt.Sprintf(format, args...))
}

func (d *Device) add(kind string) driver.Handle {
	if d.closed {
		d.violate("%s created after Close", kind)
	}
	d.next++
	d.kinds[d.next] = kind
	d.created[kind]++
	return d.next
}

// drop validates and records a destroy. It reports false for null handles
// and for handles that are unknown or of another kind.
func (d *Device) drop(kind string, h driver.Handle) bool {
	if h == 0 {
		return false
	}
	got, ok := d.kinds[h]
	switch {
	case !ok && h <= d.next:
		d.violate("%s %d destroyed twice", kind, h)
		return false
	case !ok:
		d.violate("%s %d was never created", kind, h)
		return false
	case got != kind:
		d.violate("handle %d is a %s, destroyed as %s", h, got, kind)
		return false
	}
	delete(d.kinds, h)
	d.destroyed[kind]++
	d.destroyLog = append(d.destroyLog, Event{Kind: kind, Handle: h})
	return true
}

func (d *Device) known(kind string, h driver.Handle) error {
	if got, ok := d.kinds[h]; !ok || got != kind {
		d.violate("unknown %s handle %d", kind, h)
		return fmt.Errorf("unknown %s handle %d", kind, h)
	}
	return nil
}

// Created returns how many objects of kind were created.
func (d *Device) Created(kind string) int { return d.created[kind] }

// Destroyed returns how many objects of kind were destroyed.
func (d *Device) Destroyed(kind string) int { return d.destroyed[kind] }

// DestroyLog returns every destroy in call order.
func (d *Device) DestroyLog() []Event {
	return append([]Event(nil), d.destroyLog...)
}

// Live returns the kinds of objects that have not been destroyed, sorted.
// Descriptor sets and command buffers released with their pool are not live.
func (d *Device) Live() []string {
	var out []string
	for h, kind := range d.kinds {
		out = append(out, fmt.Sprintf("%s %d", kind, h))
	}
	sort.Strings(out)
	return out
}

// Violations returns misuse detected so far: double destroys, unknown
// handles and recording outside Begin/End.
func (d *Device) Violations() []string {
	return append([]string(nil), d.violations...)
}

// Dispatches returns how many dispatches have been executed by Submit.
func (d *Device) Dispatches() int { return d.dispatches }

// PipelineStage returns the stage a live pipeline was built from.
func (d *Device) PipelineStage(p driver.Pipeline) (driver.StageInfo, bool) {
	ps, ok := d.pipelines[driver.Handle(p)]
	return ps.stage, ok
}

// BufferMemory returns the host memory behind a live buffer.
func (d *Device) BufferMemory(buf driver.Buffer) []byte {
	if b, ok := d.buffers[driver.Handle(buf)]; ok {
		return b.memory
	}
	return nil
}

func (d *Device) Properties() driver.Properties { return d.props }

func (d *Device) CreateBuffer(size uint64, kind driver.BindingKind, allocate bool) (driver.Buffer, error) {
	if size == 0 {
		return 0, fmt.Errorf("create buffer: zero size")
	}
	if err := d.check("vkCreateBuffer"); err != nil {
		return 0, err
	}
	h := d.add(KindBuffer)
	d.buffers[h] = &bufferState{size: size, kind: kind}
	if allocate {
		if err := d.AllocateBufferMemory(driver.Buffer(h)); err != nil {
			d.DestroyBuffer(driver.Buffer(h))
			return 0, err
		}
	}
	return driver.Buffer(h), nil
}

func (d *Device) AllocateBufferMemory(buf driver.Buffer) error {
	if err := d.known(KindBuffer, driver.Handle(buf)); err != nil {
		return err
	}
	b := d.buffers[driver.Handle(buf)]
	if b.memory != nil {
		return fmt.Errorf("buffer %d already has memory", buf)
	}
	if err := d.check("vkAllocateMemory"); err != nil {
		return err
	}
	b.memory = make([]byte, b.size)
	return nil
}

func (d *Device) MapBuffer(buf driver.Buffer) ([]byte, error) {
	if err := d.known(KindBuffer, driver.Handle(buf)); err != nil {
		return nil, err
	}
	b := d.buffers[driver.Handle(buf)]
	if b.memory == nil {
		return nil, fmt.Errorf("map buffer %d: no memory allocated", buf)
	}
	if err := d.check("vkMapMemory"); err != nil {
		return nil, err
	}
	b.mapped = true
	return b.memory, nil
}

func (d *Device) UnmapBuffer(buf driver.Buffer) {
	if b, ok := d.buffers[driver.Handle(buf)]; ok {
		b.mapped = false
	}
}

func (d *Device) DestroyBuffer(buf driver.Buffer) {
	if d.drop(KindBuffer, driver.Handle(buf)) {
		if d.buffers[driver.Handle(buf)].mapped {
			d.violate("buffer %d destroyed while mapped", buf)
		}
		delete(d.buffers, driver.Handle(buf))
	}
}

func (d *Device) CreateShaderModule(code []uint32) (driver.ShaderModule, error) {
	if len(code) == 0 {
		return 0, fmt.Errorf("create shader module: empty code")
	}
	if err := d.check("vkCreateShaderModule"); err != nil {
		return 0, err
	}
	h := d.add(KindShaderModule)
	d.modules[h] = append([]uint32(nil), code...)
	return driver.ShaderModule(h), nil
}

func (d *Device) DestroyShaderModule(module driver.ShaderModule) {
	if d.drop(KindShaderModule, driver.Handle(module)) {
		delete(d.modules, driver.Handle(module))
	}
}

func (d *Device) CreateDescriptorSetLayout(bindings []driver.LayoutBinding) (driver.DescriptorSetLayout, error) {
	if err := d.check("vkCreateDescriptorSetLayout"); err != nil {
		return 0, err
	}
	h := d.add(KindDescriptorSetLayout)
	d.setLayouts[h] = append([]driver.LayoutBinding(nil), bindings...)
	return driver.DescriptorSetLayout(h), nil
}

func (d *Device) DestroyDescriptorSetLayout(layout driver.DescriptorSetLayout) {
	if d.drop(KindDescriptorSetLayout, driver.Handle(layout)) {
		delete(d.setLayouts, driver.Handle(layout))
	}
}

func (d *Device) CreatePipelineLayout(set driver.DescriptorSetLayout, ranges []driver.PushConstantRange) (driver.PipelineLayout, error) {
	if err := d.known(KindDescriptorSetLayout, driver.Handle(set)); err != nil {
		return 0, err
	}
	if err := d.check("vkCreatePipelineLayout"); err != nil {
		return 0, err
	}
	h := d.add(KindPipelineLayout)
	d.pipelineLayouts[h] = append([]driver.PushConstantRange(nil), ranges...)
	return driver.PipelineLayout(h), nil
}

func (d *Device) DestroyPipelineLayout(layout driver.PipelineLayout) {
	if d.drop(KindPipelineLayout, driver.Handle(layout)) {
		delete(d.pipelineLayouts, driver.Handle(layout))
	}
}

func (d *Device) CreatePipelineCache() (driver.PipelineCache, error) {
	if err := d.check("vkCreatePipelineCache"); err != nil {
		return 0, err
	}
	h := d.add(KindPipelineCache)
	d.caches[h] = true
	return driver.PipelineCache(h), nil
}

func (d *Device) DestroyPipelineCache(cache driver.PipelineCache) {
	if d.drop(KindPipelineCache, driver.Handle(cache)) {
		delete(d.caches, driver.Handle(cache))
	}
}

func (d *Device) CreateComputePipeline(cache driver.PipelineCache, layout driver.PipelineLayout, stage driver.StageInfo) (driver.Pipeline, error) {
	if cache != 0 {
		if err := d.known(KindPipelineCache, driver.Handle(cache)); err != nil {
			return 0, err
		}
	}
	if err := d.known(KindPipelineLayout, driver.Handle(layout)); err != nil {
		return 0, err
	}
	if err := d.known(KindShaderModule, driver.Handle(stage.Module)); err != nil {
		return 0, err
	}
	if err := d.check("vkCreateComputePipelines"); err != nil {
		return 0, err
	}
	stage.Entries = append([]driver.SpecializationEntry(nil), stage.Entries...)
	stage.Data = append([]byte(nil), stage.Data...)
	h := d.add(KindPipeline)
	d.pipelines[h] = pipelineState{layout: layout, stage: stage}
	return driver.Pipeline(h), nil
}

func (d *Device) DestroyPipeline(pipeline driver.Pipeline) {
	if d.drop(KindPipeline, driver.Handle(pipeline)) {
		delete(d.pipelines, driver.Handle(pipeline))
	}
}

func (d *Device) CreateDescriptorPool(sizes []driver.PoolSize, maxSets uint32) (driver.DescriptorPool, error) {
	if err := d.check("vkCreateDescriptorPool"); err != nil {
		return 0, err
	}
	p := &poolState{remaining: make(map[driver.BindingKind]uint32), setsLeft: maxSets}
	for _, s := range sizes {
		p.remaining[s.Kind] += s.Count
	}
	h := d.add(KindDescriptorPool)
	d.pools[h] = p
	return driver.DescriptorPool(h), nil
}

// DestroyDescriptorPool also releases every set allocated from the pool.
func (d *Device) DestroyDescriptorPool(pool driver.DescriptorPool) {
	if !d.drop(KindDescriptorPool, driver.Handle(pool)) {
		return
	}
	delete(d.pools, driver.Handle(pool))
	for h, s := range d.sets {
		if s.pool == pool {
			delete(d.sets, h)
			delete(d.kinds, h)
		}
	}
}

func (d *Device) AllocateDescriptorSet(pool driver.DescriptorPool, layout driver.DescriptorSetLayout) (driver.DescriptorSet, error) {
	if err := d.known(KindDescriptorPool, driver.Handle(pool)); err != nil {
		return 0, err
	}
	if err := d.known(KindDescriptorSetLayout, driver.Handle(layout)); err != nil {
		return 0, err
	}
	if err := d.check("vkAllocateDescriptorSets"); err != nil {
		return 0, err
	}
	p := d.pools[driver.Handle(pool)]
	need := make(map[driver.BindingKind]uint32)
	for _, b := range d.setLayouts[driver.Handle(layout)] {
		need[b.Kind]++
	}
	if p.setsLeft == 0 {
		return 0, driver.Check(driver.ErrorOutOfPoolMemory, "vkAllocateDescriptorSets")
	}
	for kind, n := range need {
		if p.remaining[kind] < n {
			return 0, driver.Check(driver.ErrorOutOfPoolMemory, "vkAllocateDescriptorSets")
		}
	}
	p.setsLeft--
	for kind, n := range need {
		p.remaining[kind] -= n
	}
	h := d.add(KindDescriptorSet)
	d.sets[h] = &setState{
		pool:     pool,
		layout:   layout,
		bindings: append([]driver.LayoutBinding(nil), d.setLayouts[driver.Handle(layout)]...),
		writes:   make(map[uint32]driver.DescriptorWrite),
	}
	return driver.DescriptorSet(h), nil
}

func (d *Device) UpdateDescriptorSets(writes []driver.DescriptorWrite) {
	for _, w := range writes {
		s, ok := d.sets[driver.Handle(w.Set)]
		if !ok {
			d.violate("descriptor write to unknown set %d", w.Set)
			continue
		}
		if _, ok := d.buffers[driver.Handle(w.Range.Buffer)]; !ok {
			d.violate("descriptor write of unknown buffer %d", w.Range.Buffer)
			continue
		}
		b, ok := s.slot(w.Slot)
		if !ok {
			d.violate("descriptor write to slot %d not declared by set %d", w.Slot, w.Set)
			continue
		}
		if b.Kind != w.Kind {
			d.violate("descriptor write of %s to %s slot %d of set %d", w.Kind, b.Kind, w.Slot, w.Set)
			continue
		}
		s.writes[w.Slot] = w
	}
}

func (d *Device) CreateCommandPool() (driver.CommandPool, error) {
	if err := d.check("vkCreateCommandPool"); err != nil {
		return 0, err
	}
	h := d.add(KindCommandPool)
	d.commandPools[h] = true
	return driver.CommandPool(h), nil
}

// DestroyCommandPool also frees every command buffer allocated from the pool.
func (d *Device) DestroyCommandPool(pool driver.CommandPool) {
	if !d.drop(KindCommandPool, driver.Handle(pool)) {
		return
	}
	delete(d.commandPools, driver.Handle(pool))
	for h, c := range d.commands {
		if c.pool == pool {
			delete(d.commands, h)
			delete(d.kinds, h)
		}
	}
}

func (d *Device) AllocateCommandBuffer(pool driver.CommandPool) (driver.CommandBuffer, error) {
	if err := d.known(KindCommandPool, driver.Handle(pool)); err != nil {
		return 0, err
	}
	if err := d.check("vkAllocateCommandBuffers"); err != nil {
		return 0, err
	}
	h := d.add(KindCommandBuffer)
	d.commands[h] = &commandState{pool: pool}
	return driver.CommandBuffer(h), nil
}

func (d *Device) FreeCommandBuffer(pool driver.CommandPool, cmd driver.CommandBuffer) {
	if c, ok := d.commands[driver.Handle(cmd)]; ok && c.pool != pool {
		d.violate("command buffer %d freed to pool %d, allocated from %d", cmd, pool, c.pool)
	}
	if d.drop(KindCommandBuffer, driver.Handle(cmd)) {
		delete(d.commands, driver.Handle(cmd))
	}
}

func (d *Device) recording(cmd driver.CommandBuffer, op string) *commandState {
	c, ok := d.commands[driver.Handle(cmd)]
	if !ok {
		d.violate("%s on unknown command buffer %d", op, cmd)
		return nil
	}
	if !c.recording {
		d.violate("%s on command buffer %d outside Begin/End", op, cmd)
		return nil
	}
	return c
}

func (d *Device) BeginCommandBuffer(cmd driver.CommandBuffer) error {
	if err := d.known(KindCommandBuffer, driver.Handle(cmd)); err != nil {
		return err
	}
	if err := d.check("vkBeginCommandBuffer"); err != nil {
		return err
	}
	c := d.commands[driver.Handle(cmd)]
	*c = commandState{pool: c.pool, recording: true}
	return nil
}

func (d *Device) CmdBindPipeline(cmd driver.CommandBuffer, pipeline driver.Pipeline) {
	if c := d.recording(cmd, "CmdBindPipeline"); c != nil {
		c.pipeline = pipeline
	}
}

func (d *Device) CmdBindDescriptorSet(cmd driver.CommandBuffer, layout driver.PipelineLayout, set driver.DescriptorSet) {
	if c := d.recording(cmd, "CmdBindDescriptorSet"); c != nil {
		c.set = set
	}
}

func (d *Device) CmdPushConstants(cmd driver.CommandBuffer, layout driver.PipelineLayout, offset uint32, data []byte) {
	if c := d.recording(cmd, "CmdPushConstants"); c != nil {
		c.constants = append(make([]byte, offset), data...)
	}
}

func (d *Device) CmdDispatch(cmd driver.CommandBuffer, x, y, z uint32) {
	if c := d.recording(cmd, "CmdDispatch"); c != nil {
		c.ops = append(c.ops, commandOp{
			pipeline:  c.pipeline,
			set:       c.set,
			constants: append([]byte(nil), c.constants...),
			groups:    [3]uint32{x, y, z},
		})
	}
}

func (d *Device) EndCommandBuffer(cmd driver.CommandBuffer) error {
	c := d.recording(cmd, "EndCommandBuffer")
	if c == nil {
		return fmt.Errorf("end command buffer %d: not recording", cmd)
	}
	if err := d.check("vkEndCommandBuffer"); err != nil {
		return err
	}
	c.recording = false
	return nil
}

func (d *Device) Submit(cmd driver.CommandBuffer) error {
	c, ok := d.commands[driver.Handle(cmd)]
	if !ok {
		d.violate("submit of unknown command buffer %d", cmd)
		return fmt.Errorf("unknown command buffer %d", cmd)
	}
	if c.recording {
		d.violate("submit of command buffer %d while recording", cmd)
		return fmt.Errorf("command buffer %d is still recording", cmd)
	}
	if err := d.check("vkQueueSubmit"); err != nil {
		return err
	}
	for _, op := range c.ops {
		d.dispatches++
		ps, ok := d.pipelines[driver.Handle(op.pipeline)]
		if !ok {
			d.violate("dispatch with unknown pipeline %d", op.pipeline)
			continue
		}
		if _, ok := d.kinds[driver.Handle(ps.layout)]; !ok {
			d.violate("dispatch with pipeline %d whose layout %d was destroyed", op.pipeline, ps.layout)
		}
		if s, ok := d.sets[driver.Handle(op.set)]; ok {
			for _, b := range s.bindings {
				if _, ok := s.writes[b.Slot]; !ok {
					d.violate("dispatch with set %d missing a write for slot %d", op.set, b.Slot)
				}
			}
		}
		if d.OnDispatch == nil {
			continue
		}
		ctx := DispatchContext{
			Stage:     ps.stage,
			Layout:    ps.layout,
			Bindings:  make(map[uint32][]byte),
			Constants: op.constants,
			Groups:    op.groups,
		}
		if s, ok := d.sets[driver.Handle(op.set)]; ok {
			for slot, w := range s.writes {
				if b, ok := d.buffers[driver.Handle(w.Range.Buffer)]; ok {
					ctx.Bindings[slot] = b.memory[w.Range.Offset : w.Range.Offset+w.Range.Size]
				}
			}
		}
		d.OnDispatch(ctx)
	}
	return d.check("vkWaitForFences")
}

// Close marks the device closed. Objects still alive are reported as a
// violation.
func (d *Device) Close() error {
	if d.closed {
		d.violate("device closed twice")
		return nil
	}
	d.closed = true
	if live := d.Live(); len(live) > 0 {
		d.violate("objects alive at close: %v", live)
	}
	return nil
}

package compute

import (
	"fmt"
	"reflect"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/sirupsen/logrus"

	"github.com/hellhand/vkcompute/driver"
)

// State is the build state of a Program.
type State int

const (
	// Unconfigured: no layouts exist yet.
	Unconfigured State = iota
	// LayoutReady: binding-set and pipeline layouts exist, no pipeline.
	LayoutReady
	// PipelineReady: a pipeline exists for the current specialization.
	PipelineReady
	// BoundForDispatch: a command buffer is being recorded and submitted.
	BoundForDispatch
	// Released: every object has been destroyed.
	Released
)

var stateNames = [...]string{
	Unconfigured:     "unconfigured",
	LayoutReady:      "layout-ready",
	PipelineReady:    "pipeline-ready",
	BoundForDispatch: "bound-for-dispatch",
	Released:         "released",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Stats counts the work a Program has done.
type Stats struct {
	LayoutBuilds   int
	PipelineBuilds int
	SetAllocations int
	Dispatches     int
}

// Objects lists the driver objects a Program currently holds. Zero means
// the object does not exist.
type Objects struct {
	SetLayout      driver.DescriptorSetLayout
	PipelineLayout driver.PipelineLayout
	Cache          driver.PipelineCache
	Pipeline       driver.Pipeline
	Pool           driver.DescriptorPool
	Set            driver.DescriptorSet
	CommandPool    driver.CommandPool
	CommandBuffer  driver.CommandBuffer
}

type pipelineRecord struct {
	cache    driver.PipelineCache
	pipeline driver.Pipeline
}

type bindingRecord struct {
	alloc *BindingAllocator
	set   driver.DescriptorSet
}

type commandRecord struct {
	pool driver.CommandPool
	cmd  driver.CommandBuffer
}

// ProgramOption configures a Program.
type ProgramOption func(*Program)

// WithLogger sets the logger used for build and dispatch events.
func WithLogger(log *logrus.Entry) ProgramOption {
	return func(p *Program) { p.log = log }
}

// WithPoolLimits sizes the binding pool the program allocates from.
func WithPoolLimits(limits PoolLimits) ProgramOption {
	return func(p *Program) { p.limits = limits }
}

// Program runs one kernel. It owns the kernel and every object derived from
// it, builds them lazily and rebuilds only what a change invalidates: a new
// specialization replaces the pipeline, new binding declarations or a new
// push-constant size replace the layouts and everything built on them.
//
// A Program is not safe for concurrent use. Dispatch blocks until the GPU
// has finished.
type Program struct {
	dev    driver.Device
	kernel *Kernel
	log    *logrus.Entry
	limits PoolLimits

	state  State
	groups WorkGroups
	spec   Specialization

	layouts  Layouts
	pipeline pipelineRecord
	binding  bindingRecord
	commands commandRecord
	stats    Stats
}

// NewProgram takes ownership of kernel. A kernel can back only one program.
func NewProgram(kernel *Kernel, opts ...ProgramOption) (*Program, error) {
	if kernel == nil || kernel.module == 0 {
		return nil, errors.Wrap(ErrReleased, "new program: kernel")
	}
	if kernel.owned {
		return nil, errors.Wrap(ErrInvalidArgument, "new program: kernel already belongs to a program")
	}
	p := &Program{
		dev:    kernel.dev,
		kernel: kernel,
		limits: DefaultPoolLimits(),
		groups: WorkGroups{X: 1, Y: 1, Z: 1},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.log == nil {
		p.log = logrus.NewEntry(logrus.StandardLogger())
	}
	p.log = p.log.WithFields(logrus.Fields{"component": "compute", "entry": kernel.entry})
	kernel.owned = true
	return p, nil
}

// LoadProgram loads the kernel at path with the default entry point and
// wraps it in a Program.
func LoadProgram(dev driver.Device, path string, opts ...ProgramOption) (*Program, error) {
	k, err := LoadKernel(dev, path, DefaultEntryPoint)
	if err != nil {
		return nil, err
	}
	p, err := NewProgram(k, opts...)
	if err != nil {
		k.Release()
		return nil, err
	}
	return p, nil
}

// Kernel returns the owned kernel. Declarations added to it take effect on
// the next dispatch.
func (p *Program) Kernel() *Kernel { return p.kernel }

func (p *Program) State() State { return p.state }

func (p *Program) Stats() Stats { return p.stats }

// Specialization returns the current specialization tuple.
func (p *Program) Specialization() Specialization { return p.spec }

// Objects returns the driver objects currently held.
func (p *Program) Objects() Objects {
	o := Objects{
		SetLayout:      p.layouts.Set,
		PipelineLayout: p.layouts.Pipeline,
		Cache:          p.pipeline.cache,
		Pipeline:       p.pipeline.pipeline,
		Set:            p.binding.set,
		CommandPool:    p.commands.pool,
		CommandBuffer:  p.commands.cmd,
	}
	if p.binding.alloc != nil {
		o.Pool = p.binding.alloc.Pool()
	}
	return o
}

// WithWorkGroups sets the work-group count used by subsequent dispatches.
func (p *Program) WithWorkGroups(x, y, z uint32) *Program {
	p.groups = WorkGroups{X: x, Y: y, Z: z}
	return p
}

func (p *Program) WorkGroups() WorkGroups { return p.groups }

// SetSpecializations replaces the specialization tuple. An equal tuple is a
// no-op; a different one releases the pipeline but keeps the layouts.
func (p *Program) SetSpecializations(values ...any) error {
	spec, err := NewSpecialization(values...)
	if err != nil {
		return err
	}
	return p.SetSpecialization(spec)
}

// SetSpecialization is SetSpecializations for a prepared tuple.
func (p *Program) SetSpecialization(spec Specialization) error {
	if p.state == Released {
		return ErrReleased
	}
	if spec.Equal(p.spec) {
		return nil
	}
	p.spec = spec
	if p.pipeline.pipeline != 0 {
		p.log.WithField("constants", spec.Len()).Debug("specialization changed, releasing pipeline")
		p.releasePipeline()
	}
	return nil
}

// Configure builds the layouts without dispatching.
func (p *Program) Configure() error {
	if p.state == Released {
		return ErrReleased
	}
	return p.ensureLayouts()
}

// Dispatch runs the kernel once with args bound to slots 0..len(args)-1 and
// waits for it to finish.
func (p *Program) Dispatch(args ...Binding) error {
	return p.dispatch(nil, args)
}

// DispatchWithConstants is Dispatch with a push-constant blob. The blob size
// must equal the kernel's push-constant size; a kernel without one adopts
// the blob size before its layouts are first built.
func (p *Program) DispatchWithConstants(constants []byte, args ...Binding) error {
	if len(constants) == 0 {
		return errors.Wrap(ErrConstantsSize, "empty constants blob")
	}
	return p.dispatch(constants, args)
}

func (p *Program) dispatch(constants []byte, args []Binding) error {
	if p.state == Released {
		return ErrReleased
	}
	if err := p.groups.check(p.dev.Properties().Limits); err != nil {
		return err
	}
	if err := p.prepareArguments(args); err != nil {
		return err
	}
	if err := p.prepareConstants(constants); err != nil {
		return err
	}

	if err := p.ensureLayouts(); err != nil {
		return err
	}
	if err := p.ensurePipeline(); err != nil {
		return err
	}
	if err := p.ensureBindingSet(); err != nil {
		return err
	}
	p.writeBindings(args)
	if err := p.ensureCommands(); err != nil {
		return err
	}

	p.state = BoundForDispatch
	err := p.record(constants)
	if err == nil {
		err = errors.Wrap(p.dev.Submit(p.commands.cmd), "submit")
	}
	p.state = PipelineReady
	if err != nil {
		return err
	}
	p.stats.Dispatches++
	p.log.WithFields(logrus.Fields{
		"groups":   p.groups,
		"bindings": len(args),
	}).Debug("dispatched")
	return nil
}

// prepareArguments checks args against the kernel's declarations. A kernel
// with no declarations and no layouts yet adopts one declaration per
// argument in order, and adopts none of them if any argument is rejected.
func (p *Program) prepareArguments(args []Binding) error {
	for i, a := range args {
		if a == nil || a.DescriptorInfo().Buffer == 0 {
			return errors.Wrapf(ErrReleased, "binding argument %d", i)
		}
	}
	if len(p.kernel.bindings) == 0 && !p.kernel.Built() {
		for i, a := range args {
			if err := checkBindingKind(uint32(i), a.Kind()); err != nil {
				return err
			}
		}
		for i, a := range args {
			if err := p.kernel.AddBinding(uint32(i), a.Kind()); err != nil {
				return err
			}
		}
	}
	decl := p.kernel.bindings
	if len(args) != len(decl) {
		return errors.Wrapf(ErrBindingMismatch, "got %d buffers, kernel declares %d", len(args), len(decl))
	}
	for i, a := range args {
		if a.Kind() != decl[i].Kind {
			return errors.Wrapf(ErrBindingMismatch, "slot %d: got %s buffer, kernel declares %s", i, a.Kind(), decl[i].Kind)
		}
	}
	return nil
}

func (p *Program) prepareConstants(constants []byte) error {
	if constants == nil {
		return nil
	}
	size := uint32(len(constants))
	if p.kernel.pushSize == 0 && !p.kernel.Built() {
		return p.kernel.SetPushConstantSize(size)
	}
	if size != p.kernel.pushSize {
		return errors.Wrapf(ErrConstantsSize, "got %d bytes, kernel expects %d", size, p.kernel.pushSize)
	}
	return nil
}

// ensureLayouts moves Unconfigured to LayoutReady. Stale layouts take the
// pipeline and binding pool down with them before being rebuilt. Layouts
// rebuilt directly through the kernel are detected by handle and drop the
// same dependents.
func (p *Program) ensureLayouts() error {
	if p.kernel.Stale() {
		p.log.Debug("binding declarations changed, rebuilding layouts")
		p.releaseDerived()
	}
	l, built, err := p.kernel.Layouts()
	if err != nil {
		return err
	}
	if p.layouts.Pipeline != 0 && (l.Pipeline != p.layouts.Pipeline || l.Set != p.layouts.Set) {
		p.log.Debug("kernel layouts replaced, rebuilding pipeline and binding set")
		p.releaseDerived()
	}
	p.layouts = l
	if built {
		p.stats.LayoutBuilds++
		p.log.WithFields(logrus.Fields{
			"bindings":      len(l.Bindings),
			"pushConstants": l.PushConstantSize,
		}).Debug("built layouts")
	}
	if p.state < LayoutReady {
		p.state = LayoutReady
	}
	return nil
}

// ensurePipeline moves LayoutReady to PipelineReady.
func (p *Program) ensurePipeline() error {
	if p.pipeline.pipeline != 0 {
		return nil
	}
	if p.pipeline.cache == 0 {
		cache, err := p.dev.CreatePipelineCache()
		if err != nil {
			return errors.Wrap(err, "create pipeline cache")
		}
		p.pipeline.cache = cache
	}
	pipeline, err := p.dev.CreateComputePipeline(p.pipeline.cache, p.layouts.Pipeline, p.kernel.StageInfo(p.spec))
	if err != nil {
		return errors.Wrap(err, "create compute pipeline")
	}
	p.pipeline.pipeline = pipeline
	p.stats.PipelineBuilds++
	p.state = PipelineReady
	p.log.WithField("constants", p.spec.Len()).Debug("built pipeline")
	return nil
}

func (p *Program) ensureBindingSet() error {
	if len(p.layouts.Bindings) == 0 || p.binding.set != 0 {
		return nil
	}
	if p.binding.alloc == nil {
		alloc, err := NewBindingAllocator(p.dev, p.limits)
		if err != nil {
			return err
		}
		p.binding.alloc = alloc
	}
	set, err := p.binding.alloc.Allocate(p.layouts)
	if err != nil {
		return err
	}
	p.binding.set = set
	p.stats.SetAllocations++
	return nil
}

func (p *Program) writeBindings(args []Binding) {
	if len(args) == 0 {
		return
	}
	writes := make([]driver.DescriptorWrite, len(args))
	for i, a := range args {
		writes[i] = driver.DescriptorWrite{
			Set:   p.binding.set,
			Slot:  uint32(i),
			Kind:  a.Kind(),
			Range: a.DescriptorInfo(),
		}
	}
	p.dev.UpdateDescriptorSets(writes)
}

func (p *Program) ensureCommands() error {
	if p.commands.pool == 0 {
		pool, err := p.dev.CreateCommandPool()
		if err != nil {
			return errors.Wrap(err, "create command pool")
		}
		p.commands.pool = pool
	}
	if p.commands.cmd == 0 {
		cmd, err := p.dev.AllocateCommandBuffer(p.commands.pool)
		if err != nil {
			return errors.Wrap(err, "allocate command buffer")
		}
		p.commands.cmd = cmd
	}
	return nil
}

func (p *Program) record(constants []byte) error {
	cmd := p.commands.cmd
	if err := p.dev.BeginCommandBuffer(cmd); err != nil {
		return errors.Wrap(err, "begin command buffer")
	}
	p.dev.CmdBindPipeline(cmd, p.pipeline.pipeline)
	if p.binding.set != 0 {
		p.dev.CmdBindDescriptorSet(cmd, p.layouts.Pipeline, p.binding.set)
	}
	if len(constants) > 0 {
		p.dev.CmdPushConstants(cmd, p.layouts.Pipeline, 0, constants)
	}
	p.dev.CmdDispatch(cmd, p.groups.X, p.groups.Y, p.groups.Z)
	if err := p.dev.EndCommandBuffer(cmd); err != nil {
		return errors.Wrap(err, "end command buffer")
	}
	return nil
}

func (p *Program) releasePipeline() {
	if p.pipeline.pipeline != 0 {
		p.dev.DestroyPipeline(p.pipeline.pipeline)
		p.pipeline.pipeline = 0
	}
	if p.state > LayoutReady {
		p.state = LayoutReady
	}
}

// releaseDerived drops everything built from the current layouts.
func (p *Program) releaseDerived() {
	p.releaseBindings()
	p.releasePipeline()
	p.layouts = Layouts{}
	p.state = Unconfigured
}

func (p *Program) releaseBindings() {
	if p.binding.alloc != nil {
		p.binding.alloc.Release()
	}
	p.binding = bindingRecord{}
}

// Release destroys every object the program holds in reverse dependency
// order: command buffer, command pool, binding set and pool, pipeline,
// pipeline cache, then the kernel's layouts and module. It is safe to call
// more than once.
func (p *Program) Release() {
	if p.state == Released {
		return
	}
	// Dependents first: invalidating an object invalidates everything
	// built from it.
	if p.commands.cmd != 0 {
		p.dev.FreeCommandBuffer(p.commands.pool, p.commands.cmd)
	}
	if p.commands.pool != 0 {
		p.dev.DestroyCommandPool(p.commands.pool)
	}
	p.commands = commandRecord{}
	p.releaseBindings()
	p.releasePipeline()
	if p.pipeline.cache != 0 {
		p.dev.DestroyPipelineCache(p.pipeline.cache)
	}
	p.pipeline = pipelineRecord{}
	p.kernel.Release()
	p.layouts = Layouts{}
	p.state = Released
}

// ConstantsOf returns the bytes of v for use as a push-constant blob. T must
// be a fixed-size plain data type.
func ConstantsOf[T any](v T) ([]byte, error) {
	t := reflect.TypeFor[T]()
	if err := checkPlainData(t); err != nil {
		return nil, errors.Wrapf(ErrInvalidArgument, "constants type %s: %v", t, err)
	}
	size := int(t.Size())
	if size == 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "constants type %s has zero size", t)
	}
	out := make([]byte, size)
	copy(out, unsafe.Slice((*byte)(unsafe.Pointer(&v)), size))
	return out, nil
}

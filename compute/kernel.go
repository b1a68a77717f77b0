package compute

import (
	"os"
	"slices"
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/hellhand/vkcompute/driver"
)

// DefaultEntryPoint is the kernel entry point used when none is given.
const DefaultEntryPoint = "main"

// Layouts is the binding-set layout and pipeline layout derived from a
// kernel's binding declarations and push-constant size.
type Layouts struct {
	Set              driver.DescriptorSetLayout
	Pipeline         driver.PipelineLayout
	Bindings         []driver.LayoutBinding
	PushConstantSize uint32
}

// Kernel is a compiled compute kernel with its entry point and binding
// declarations.
type Kernel struct {
	dev      driver.Device
	module   driver.ShaderModule
	entry    string
	bindings []driver.LayoutBinding
	pushSize uint32

	layouts *Layouts
	stale   bool
	owned   bool
}

// LoadKernel reads a compiled kernel binary from path. A missing or
// unreadable file is reported as *IOError.
func LoadKernel(dev driver.Device, path, entry string) (*Kernel, error) {
	code, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Path: path, Err: err}
	}
	k, err := NewKernel(dev, code, entry)
	if err != nil {
		return nil, errors.Wrapf(err, "kernel %s", path)
	}
	return k, nil
}

// NewKernel creates a kernel from an in-memory binary, whose length must be
// a non-zero multiple of four bytes.
func NewKernel(dev driver.Device, code []byte, entry string) (*Kernel, error) {
	if len(code) == 0 || len(code)%4 != 0 {
		return nil, errors.Wrapf(ErrInvalidArgument, "kernel code length %d is not a multiple of 4", len(code))
	}
	if entry == "" {
		entry = DefaultEntryPoint
	}
	words := make([]uint32, len(code)/4)
	copy(unsafe.Slice((*byte)(unsafe.Pointer(&words[0])), len(code)), code)

	module, err := dev.CreateShaderModule(words)
	if err != nil {
		return nil, errors.Wrap(err, "create shader module")
	}
	return &Kernel{dev: dev, module: module, entry: entry}, nil
}

func (k *Kernel) EntryPoint() string { return k.entry }

func (k *Kernel) Module() driver.ShaderModule { return k.module }

// Bindings returns a copy of the binding declarations in slot order.
func (k *Kernel) Bindings() []driver.LayoutBinding { return slices.Clone(k.bindings) }

func (k *Kernel) PushConstantSize() uint32 { return k.pushSize }

// AddBinding declares the next binding slot. Slots are contiguous from zero,
// so slot must equal the number of bindings already declared.
func (k *Kernel) AddBinding(slot uint32, kind driver.BindingKind) error {
	if k.module == 0 {
		return ErrReleased
	}
	if int(slot) != len(k.bindings) {
		return errors.Wrapf(ErrInvalidArgument, "binding slot %d declared out of order, next slot is %d", slot, len(k.bindings))
	}
	if err := checkBindingKind(slot, kind); err != nil {
		return err
	}
	k.bindings = append(k.bindings, driver.LayoutBinding{Slot: slot, Kind: kind})
	k.invalidate()
	return nil
}

func checkBindingKind(slot uint32, kind driver.BindingKind) error {
	if kind != driver.StorageBuffer && kind != driver.UniformBuffer {
		return errors.Wrapf(ErrInvalidArgument, "binding slot %d has unknown kind %s", slot, kind)
	}
	return nil
}

// SetPushConstantSize sets the byte size of the push-constant block. It must
// be a multiple of four and within the device limit.
func (k *Kernel) SetPushConstantSize(size uint32) error {
	if k.module == 0 {
		return ErrReleased
	}
	if size%4 != 0 {
		return errors.Wrapf(ErrInvalidArgument, "push constant size %d is not a multiple of 4", size)
	}
	if limit := k.dev.Properties().Limits.MaxPushConstantsSize; limit > 0 && size > limit {
		return errors.Wrapf(ErrInvalidArgument, "push constant size %d exceeds device limit %d", size, limit)
	}
	if size == k.pushSize {
		return nil
	}
	k.pushSize = size
	k.invalidate()
	return nil
}

func (k *Kernel) invalidate() {
	if k.layouts != nil {
		k.stale = true
	}
}

// Stale reports whether built layouts no longer match the declarations.
func (k *Kernel) Stale() bool { return k.stale }

// Built reports whether layouts currently exist.
func (k *Kernel) Built() bool { return k.layouts != nil }

// StageInfo combines the kernel's code and entry point with a specialization.
func (k *Kernel) StageInfo(spec Specialization) driver.StageInfo {
	return driver.StageInfo{
		Module:     k.module,
		EntryPoint: k.entry,
		Entries:    spec.Entries(),
		Data:       spec.Data(),
	}
}

// Layouts returns the kernel's layouts, building them on first use and
// rebuilding them when stale. Objects derived from stale layouts must be
// released by the caller first. built reports whether new layouts were made.
func (k *Kernel) Layouts() (l Layouts, built bool, err error) {
	if k.module == 0 {
		return Layouts{}, false, ErrReleased
	}
	if k.layouts != nil && !k.stale {
		return *k.layouts, false, nil
	}
	k.releaseLayouts()

	set, err := k.dev.CreateDescriptorSetLayout(k.bindings)
	if err != nil {
		return Layouts{}, false, errors.Wrap(err, "create binding set layout")
	}
	var ranges []driver.PushConstantRange
	if k.pushSize > 0 {
		ranges = []driver.PushConstantRange{{Offset: 0, Size: k.pushSize}}
	}
	pipeline, err := k.dev.CreatePipelineLayout(set, ranges)
	if err != nil {
		k.dev.DestroyDescriptorSetLayout(set)
		return Layouts{}, false, errors.Wrap(err, "create pipeline layout")
	}
	k.layouts = &Layouts{
		Set:              set,
		Pipeline:         pipeline,
		Bindings:         slices.Clone(k.bindings),
		PushConstantSize: k.pushSize,
	}
	k.stale = false
	return *k.layouts, true, nil
}

func (k *Kernel) releaseLayouts() {
	if k.layouts == nil {
		return
	}
	k.dev.DestroyPipelineLayout(k.layouts.Pipeline)
	k.dev.DestroyDescriptorSetLayout(k.layouts.Set)
	k.layouts = nil
	k.stale = false
}

// Release destroys the layouts and the compiled module. It is safe to call
// more than once.
func (k *Kernel) Release() {
	if k.module == 0 {
		return
	}
	k.releaseLayouts()
	k.dev.DestroyShaderModule(k.module)
	k.module = 0
}

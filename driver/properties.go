package driver

import (
	"fmt"
	"io"
)

// DeviceType classifies the physical device.
type DeviceType uint32

const (
	DeviceTypeOther DeviceType = iota
	DeviceTypeIntegratedGPU
	DeviceTypeDiscreteGPU
	DeviceTypeVirtualGPU
	DeviceTypeCPU
)

func (t DeviceType) String() string {
	switch t {
	case DeviceTypeIntegratedGPU:
		return "integrated-gpu"
	case DeviceTypeDiscreteGPU:
		return "discrete-gpu"
	case DeviceTypeVirtualGPU:
		return "virtual-gpu"
	case DeviceTypeCPU:
		return "cpu"
	default:
		return "other"
	}
}

// Limits holds the compute-relevant physical device limits.
type Limits struct {
	MaxComputeWorkGroupInvocations uint32
	MaxComputeWorkGroupSize        [3]uint32
	MaxComputeWorkGroupCount       [3]uint32
	MaxComputeSharedMemorySize     uint32
	MaxPushConstantsSize           uint32
	MaxStorageBufferRange          uint32
}

// Properties describes the selected physical device.
type Properties struct {
	Name             string
	VendorID         uint32
	DeviceID         uint32
	Type             DeviceType
	APIVersion       uint32
	DriverVersion    uint32
	QueueFamilyIndex uint32
	Limits           Limits
}

func (p Properties) MaxThreadsPerWorkgroup() uint32 { return p.Limits.MaxComputeWorkGroupInvocations }

func (p Properties) MaxWorkGroupSize() [3]uint32 { return p.Limits.MaxComputeWorkGroupSize }

func (p Properties) MaxWorkGroupCount() [3]uint32 { return p.Limits.MaxComputeWorkGroupCount }

func (p Properties) MaxSharedMemorySize() uint32 { return p.Limits.MaxComputeSharedMemorySize }

func (p Properties) MaxPushConstantsSize() uint32 { return p.Limits.MaxPushConstantsSize }

// WriteSummary prints a human-readable device summary.
func (p Properties) WriteSummary(w io.Writer) error {
	l := p.Limits
	_, err := fmt.Fprintf(w, ` ========= Device summary =========
Device name: %s
Vendor id: %d
Device id: %d
Device type: %s
API version: %d.%d.%d
--- Compute ---
Max threads per group: %d
Max work group size: %d x %d x %d
Max work group count: %d x %d x %d
Max shared memory size: %d
Max push constants size: %d
 ==================================
`,
		p.Name, p.VendorID, p.DeviceID, p.Type,
		p.APIVersion>>22, (p.APIVersion>>12)&0x3ff, p.APIVersion&0xfff,
		l.MaxComputeWorkGroupInvocations,
		l.MaxComputeWorkGroupSize[0], l.MaxComputeWorkGroupSize[1], l.MaxComputeWorkGroupSize[2],
		l.MaxComputeWorkGroupCount[0], l.MaxComputeWorkGroupCount[1], l.MaxComputeWorkGroupCount[2],
		l.MaxComputeSharedMemorySize,
		l.MaxPushConstantsSize,
	)
	return err
}

package compute

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/hellhand/vkcompute/driver"
	"github.com/hellhand/vkcompute/driver/drivertest"
)

// fakeCode is a stand-in kernel binary; the fake driver never parses it.
var fakeCode = []byte{0x03, 0x02, 0x23, 0x07, 0, 0, 1, 0}

func newTestKernel(t *testing.T, dev driver.Device) *Kernel {
	t.Helper()
	k, err := NewKernel(dev, fakeCode, "")
	if err != nil {
		t.Fatalf("NewKernel: %v", err)
	}
	return k
}

func TestLoadKernelMissingFile(t *testing.T) {
	dev := drivertest.NewDevice()
	path := filepath.Join(t.TempDir(), "missing.spv")
	_, err := LoadKernel(dev, path, "main")

	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("LoadKernel() error = %v, want *IOError", err)
	}
	if ioErr.Path != path || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("IOError = %+v", ioErr)
	}
	if n := dev.Created(drivertest.KindShaderModule); n != 0 {
		t.Errorf("created %d modules", n)
	}
}

func TestLoadKernelFromFile(t *testing.T) {
	dev := drivertest.NewDevice()
	path := filepath.Join(t.TempDir(), "k.spv")
	if err := os.WriteFile(path, fakeCode, 0o644); err != nil {
		t.Fatal(err)
	}
	k, err := LoadKernel(dev, path, "")
	if err != nil {
		t.Fatalf("LoadKernel: %v", err)
	}
	defer k.Release()
	if k.EntryPoint() != DefaultEntryPoint {
		t.Errorf("EntryPoint() = %q, want %q", k.EntryPoint(), DefaultEntryPoint)
	}
	if k.Module() == 0 {
		t.Error("Module() is null")
	}
}

func TestNewKernelBadLength(t *testing.T) {
	dev := drivertest.NewDevice()
	for _, code := range [][]byte{nil, {1, 2, 3}, {1, 2, 3, 4, 5}} {
		if _, err := NewKernel(dev, code, "main"); !errors.Is(err, ErrInvalidArgument) {
			t.Errorf("NewKernel(%d bytes) error = %v, want ErrInvalidArgument", len(code), err)
		}
	}
}

func TestKernelAddBinding(t *testing.T) {
	dev := drivertest.NewDevice()
	k := newTestKernel(t, dev)
	defer k.Release()

	if err := k.AddBinding(0, driver.StorageBuffer); err != nil {
		t.Fatalf("AddBinding(0): %v", err)
	}
	if err := k.AddBinding(2, driver.StorageBuffer); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("AddBinding(2) out of order = %v, want ErrInvalidArgument", err)
	}
	if err := k.AddBinding(0, driver.StorageBuffer); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("AddBinding(0) duplicate = %v, want ErrInvalidArgument", err)
	}
	if err := k.AddBinding(1, driver.UniformBuffer); err != nil {
		t.Fatalf("AddBinding(1): %v", err)
	}
	want := []driver.LayoutBinding{{Slot: 0, Kind: driver.StorageBuffer}, {Slot: 1, Kind: driver.UniformBuffer}}
	if got := k.Bindings(); !slices.Equal(got, want) {
		t.Errorf("Bindings() = %v, want %v", got, want)
	}
}

func TestKernelLayoutsLazy(t *testing.T) {
	dev := drivertest.NewDevice()
	k := newTestKernel(t, dev)
	if err := k.AddBinding(0, driver.StorageBuffer); err != nil {
		t.Fatal(err)
	}

	first, built, err := k.Layouts()
	if err != nil || !built {
		t.Fatalf("Layouts() = built %v, err %v", built, err)
	}
	again, built, err := k.Layouts()
	if err != nil || built {
		t.Fatalf("second Layouts() = built %v, err %v", built, err)
	}
	if again.Set != first.Set || again.Pipeline != first.Pipeline {
		t.Errorf("layouts changed without invalidation: %+v -> %+v", first, again)
	}
	if got := dev.Created(drivertest.KindPipelineLayout); got != 1 {
		t.Errorf("created %d pipeline layouts, want 1", got)
	}

	if err := k.AddBinding(1, driver.StorageBuffer); err != nil {
		t.Fatal(err)
	}
	if !k.Stale() {
		t.Fatal("AddBinding after build did not mark layouts stale")
	}
	rebuilt, built, err := k.Layouts()
	if err != nil || !built {
		t.Fatalf("rebuild = built %v, err %v", built, err)
	}
	if rebuilt.Set == first.Set || len(rebuilt.Bindings) != 2 {
		t.Errorf("rebuilt layouts = %+v", rebuilt)
	}
	if got := dev.Destroyed(drivertest.KindDescriptorSetLayout); got != 1 {
		t.Errorf("destroyed %d set layouts, want 1", got)
	}

	k.Release()
	k.Release()
	if live := dev.Live(); len(live) != 0 {
		t.Errorf("live after Release: %v", live)
	}
	checkClean(t, dev)
}

func TestKernelPushConstantSize(t *testing.T) {
	dev := drivertest.NewDevice()
	k := newTestKernel(t, dev)
	defer k.Release()

	if err := k.SetPushConstantSize(6); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("size 6 = %v, want ErrInvalidArgument", err)
	}
	if err := k.SetPushConstantSize(256); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("size above limit = %v, want ErrInvalidArgument", err)
	}
	if err := k.SetPushConstantSize(16); err != nil {
		t.Fatal(err)
	}
	l, _, err := k.Layouts()
	if err != nil {
		t.Fatal(err)
	}
	if l.PushConstantSize != 16 {
		t.Errorf("PushConstantSize = %d, want 16", l.PushConstantSize)
	}
	if err := k.SetPushConstantSize(16); err != nil || k.Stale() {
		t.Errorf("same size marked stale (err %v)", err)
	}
	if err := k.SetPushConstantSize(32); err != nil || !k.Stale() {
		t.Errorf("new size not stale (err %v)", err)
	}
}

func TestKernelLayoutFailureLeavesNothing(t *testing.T) {
	dev := drivertest.NewDevice()
	k := newTestKernel(t, dev)
	defer k.Release()

	dev.Fail("vkCreatePipelineLayout", driver.ErrorOutOfHostMemory)
	if _, _, err := k.Layouts(); !driver.IsResult(err, driver.ErrorOutOfHostMemory) {
		t.Fatalf("Layouts() error = %v", err)
	}
	if k.Built() {
		t.Error("kernel reports layouts after failed build")
	}
	if got, want := dev.Destroyed(drivertest.KindDescriptorSetLayout), 1; got != want {
		t.Errorf("destroyed %d set layouts, want %d", got, want)
	}
	checkClean(t, dev)
}

func TestKernelStageInfo(t *testing.T) {
	dev := drivertest.NewDevice()
	k, err := NewKernel(dev, fakeCode, "entry")
	if err != nil {
		t.Fatal(err)
	}
	defer k.Release()

	spec, _ := NewSpecialization(uint32(2), float32(1))
	stage := k.StageInfo(spec)
	if stage.Module != k.Module() || stage.EntryPoint != "entry" {
		t.Errorf("StageInfo() = %+v", stage)
	}
	if len(stage.Entries) != 2 || len(stage.Data) != 8 {
		t.Errorf("StageInfo specialization = %v / %d bytes", stage.Entries, len(stage.Data))
	}
}

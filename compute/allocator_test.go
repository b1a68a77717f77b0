package compute

import (
	"testing"

	"github.com/cockroachdb/errors"

	"github.com/hellhand/vkcompute/driver"
	"github.com/hellhand/vkcompute/driver/drivertest"
)

func buildLayouts(t *testing.T, dev driver.Device, kinds ...driver.BindingKind) (*Kernel, Layouts) {
	t.Helper()
	k := newTestKernel(t, dev)
	for i, kind := range kinds {
		if err := k.AddBinding(uint32(i), kind); err != nil {
			t.Fatal(err)
		}
	}
	l, _, err := k.Layouts()
	if err != nil {
		t.Fatalf("Layouts: %v", err)
	}
	return k, l
}

func TestAllocatorDefaults(t *testing.T) {
	got := DefaultPoolLimits()
	if got.StorageBuffers != 4 || got.MaxSets != 64 || got.UniformBuffers != 0 {
		t.Errorf("DefaultPoolLimits() = %+v", got)
	}
}

func TestAllocatorExhaustion(t *testing.T) {
	tests := []struct {
		name   string
		limits PoolLimits
		kinds  []driver.BindingKind
		ok     int
	}{
		{"descriptors", PoolLimits{StorageBuffers: 4, MaxSets: 64}, []driver.BindingKind{driver.StorageBuffer, driver.StorageBuffer}, 2},
		{"sets", PoolLimits{StorageBuffers: 16, MaxSets: 3}, []driver.BindingKind{driver.StorageBuffer}, 3},
		{"no uniform capacity", PoolLimits{StorageBuffers: 4, MaxSets: 4}, []driver.BindingKind{driver.UniformBuffer}, 0},
		{"mixed", PoolLimits{StorageBuffers: 2, UniformBuffers: 1, MaxSets: 8}, []driver.BindingKind{driver.StorageBuffer, driver.UniformBuffer}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := drivertest.NewDevice()
			k, l := buildLayouts(t, dev, tt.kinds...)
			defer k.Release()

			a, err := NewBindingAllocator(dev, tt.limits)
			if err != nil {
				t.Fatalf("NewBindingAllocator: %v", err)
			}
			for i := 0; i < tt.ok; i++ {
				if _, err := a.Allocate(l); err != nil {
					t.Fatalf("Allocate #%d: %v", i, err)
				}
			}
			if _, err := a.Allocate(l); !errors.Is(err, ErrPoolExhausted) {
				t.Fatalf("Allocate past capacity = %v, want ErrPoolExhausted", err)
			}
			if a.Issued() != tt.ok {
				t.Errorf("Issued() = %d, want %d", a.Issued(), tt.ok)
			}
			a.Release()
			a.Release()
			if got := dev.Destroyed(drivertest.KindDescriptorPool); got != 1 {
				t.Errorf("destroyed %d pools, want 1", got)
			}
			checkClean(t, dev)
		})
	}
}

func TestAllocatorDriverPoolError(t *testing.T) {
	dev := drivertest.NewDevice()
	k, l := buildLayouts(t, dev, driver.StorageBuffer)
	defer k.Release()

	a, err := NewBindingAllocator(dev, DefaultPoolLimits())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Release()

	dev.Fail("vkAllocateDescriptorSets", driver.ErrorFragmentedPool)
	_, err = a.Allocate(l)
	if !errors.Is(err, ErrPoolExhausted) {
		t.Errorf("fragmented pool = %v, want ErrPoolExhausted", err)
	}
	if !driver.IsResult(err, driver.ErrorFragmentedPool) {
		t.Errorf("driver status lost from %v", err)
	}

	dev.Fail("vkAllocateDescriptorSets", driver.ErrorDeviceLost)
	_, err = a.Allocate(l)
	if errors.Is(err, ErrPoolExhausted) || !driver.IsResult(err, driver.ErrorDeviceLost) {
		t.Errorf("device lost = %v", err)
	}
	if a.Issued() != 0 {
		t.Errorf("Issued() = %d after failures", a.Issued())
	}
}

func TestAllocatorInvalid(t *testing.T) {
	dev := drivertest.NewDevice()
	if _, err := NewBindingAllocator(dev, PoolLimits{StorageBuffers: 4}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("zero sets = %v, want ErrInvalidArgument", err)
	}

	k, l := buildLayouts(t, dev, driver.StorageBuffer)
	defer k.Release()
	a, err := NewBindingAllocator(dev, DefaultPoolLimits())
	if err != nil {
		t.Fatal(err)
	}
	a.Release()
	if _, err := a.Allocate(l); !errors.Is(err, ErrReleased) {
		t.Errorf("Allocate after Release = %v, want ErrReleased", err)
	}
}

package vkdriver_test

//go:generate glslangValidator -V testdata/threadscount.comp -o testdata/threadscount.spv
//go:generate glslangValidator -V testdata/scale.comp -o testdata/scale.spv

import (
	"bytes"
	"os"
	"slices"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/hellhand/vkcompute/compute"
	"github.com/hellhand/vkcompute/driver"
	"github.com/hellhand/vkcompute/driver/vkdriver"
)

func openDevice(t *testing.T) *vkdriver.Device {
	t.Helper()
	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	dev, err := vkdriver.FindFirstAvailable(vkdriver.Options{
		ApplicationName:  "vkdriver-test",
		EnableValidation: os.Getenv("VK_VALIDATION") == "1",
		Logger:           logrus.NewEntry(log),
	})
	if err != nil {
		t.Skipf("no Vulkan compute device: %v", err)
	}
	t.Cleanup(func() {
		if err := dev.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return dev
}

func requireKernel(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); err != nil {
		t.Skipf("%s not compiled (run go generate): %v", path, err)
	}
}

func TestDeviceSummary(t *testing.T) {
	dev := openDevice(t)
	props := dev.Properties()
	if props.Name == "" || props.MaxThreadsPerWorkgroup() == 0 {
		t.Errorf("Properties() = %+v", props)
	}
	var buf bytes.Buffer
	if err := props.WriteSummary(&buf); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"Device name: " + props.Name, "Max threads per group:", "Max work group count:"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("summary missing %q:\n%s", want, buf.String())
		}
	}
}

func TestBufferRoundTrip(t *testing.T) {
	dev := openDevice(t)
	want := []float32{1, 2, 3, 4}
	buf, err := compute.NewBufferFrom(dev, want)
	if err != nil {
		t.Fatalf("NewBufferFrom: %v", err)
	}
	defer buf.Release()
	if got := buf.Store(); !slices.Equal(got, want) {
		t.Errorf("Store() = %v, want %v", got, want)
	}
}

func TestDeferredAllocation(t *testing.T) {
	dev := openDevice(t)
	h, err := dev.CreateBuffer(64, driver.StorageBuffer, false)
	if err != nil {
		t.Fatalf("CreateBuffer: %v", err)
	}
	defer dev.DestroyBuffer(h)
	if _, err := dev.MapBuffer(h); err == nil {
		t.Error("MapBuffer succeeded before memory was bound")
	}
	if err := dev.AllocateBufferMemory(h); err != nil {
		t.Fatalf("AllocateBufferMemory: %v", err)
	}
	mem, err := dev.MapBuffer(h)
	if err != nil {
		t.Fatalf("MapBuffer: %v", err)
	}
	if len(mem) != 64 {
		t.Errorf("mapped %d bytes, want 64", len(mem))
	}
	dev.UnmapBuffer(h)
}

func TestThreadsCount(t *testing.T) {
	const path = "testdata/threadscount.spv"
	requireKernel(t, path)
	dev := openDevice(t)

	p, err := compute.LoadProgram(dev, path)
	if err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}
	defer p.Release()
	out, err := compute.NewBuffer[uint32](dev, 1)
	if err != nil {
		t.Fatal(err)
	}
	defer out.Release()

	if err := p.SetSpecializations(uint32(4), uint32(4), uint32(1)); err != nil {
		t.Fatal(err)
	}
	if err := p.WithWorkGroups(2, 2, 1).Dispatch(out); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := out.Store()[0]; got != 64 {
		t.Errorf("threads = %d, want 64", got)
	}

	if err := out.Load([]uint32{0}); err != nil {
		t.Fatal(err)
	}
	if err := p.SetSpecializations(uint32(8), uint32(1), uint32(1)); err != nil {
		t.Fatal(err)
	}
	if err := p.Dispatch(out); err != nil {
		t.Fatalf("Dispatch after respecialization: %v", err)
	}
	if got := out.Store()[0]; got != 32 {
		t.Errorf("threads = %d, want 32", got)
	}
	if s := p.Stats(); s.PipelineBuilds != 2 || s.LayoutBuilds != 1 {
		t.Errorf("Stats() = %+v", s)
	}
}

func TestScaleWithConstants(t *testing.T) {
	const path = "testdata/scale.spv"
	requireKernel(t, path)
	dev := openDevice(t)

	src := make([]float32, 100)
	for i := range src {
		src[i] = float32(i)
	}
	in, err := compute.NewBufferFrom(dev, src)
	if err != nil {
		t.Fatal(err)
	}
	defer in.Release()
	out, err := compute.NewBuffer[float32](dev, len(src))
	if err != nil {
		t.Fatal(err)
	}
	defer out.Release()

	p, err := compute.LoadProgram(dev, path)
	if err != nil {
		t.Fatalf("LoadProgram: %v", err)
	}
	defer p.Release()

	type params struct {
		Scale float32
		N     uint32
	}
	blob, err := compute.ConstantsOf(params{Scale: 3, N: uint32(len(src))})
	if err != nil {
		t.Fatal(err)
	}
	if err := p.WithWorkGroups(2, 1, 1).DispatchWithConstants(blob, in, out); err != nil {
		t.Fatalf("DispatchWithConstants: %v", err)
	}
	got := out.Store()
	for i, v := range got {
		if v != src[i]*3 {
			t.Fatalf("dst[%d] = %v, want %v", i, v, src[i]*3)
		}
	}
}

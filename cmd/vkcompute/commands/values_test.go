package commands

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/hellhand/vkcompute/compute"
	"github.com/hellhand/vkcompute/driver/drivertest"
	"github.com/hellhand/vkcompute/internal/config"
)

func TestParseGroups(t *testing.T) {
	tests := []struct {
		in      string
		want    compute.WorkGroups
		wantErr bool
	}{
		{"4", compute.WorkGroups{X: 4, Y: 1, Z: 1}, false},
		{"2,2", compute.WorkGroups{X: 2, Y: 2, Z: 1}, false},
		{"2, 3, 4", compute.WorkGroups{X: 2, Y: 3, Z: 4}, false},
		{"1,1,1,1", compute.WorkGroups{}, true},
		{"x", compute.WorkGroups{}, true},
		{"-1", compute.WorkGroups{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseGroups(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseGroups(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseGroups(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseSpecValue(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"u32:4", uint32(4)},
		{"u32:0x10", uint32(16)},
		{"i32:-3", int32(-3)},
		{"f32:0.5", float32(0.5)},
		{"bool:true", true},
	}
	for _, tt := range tests {
		got, err := parseSpecValue(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("parseSpecValue(%q) = %v (%T), %v; want %v (%T)", tt.in, got, got, err, tt.want, tt.want)
		}
	}
	for _, bad := range []string{"4", "u64:1", "u32:-1", "bool:maybe"} {
		if _, err := parseSpecValue(bad); err == nil {
			t.Errorf("parseSpecValue(%q) succeeded", bad)
		}
	}
}

func TestParseConstants(t *testing.T) {
	blob, err := parseConstants("f32:2, u32:10,i32:-1")
	if err != nil {
		t.Fatalf("parseConstants: %v", err)
	}
	if len(blob) != 12 {
		t.Fatalf("len = %d, want 12", len(blob))
	}
	ne := binary.NativeEndian
	if math.Float32frombits(ne.Uint32(blob)) != 2 || ne.Uint32(blob[4:]) != 10 || int32(ne.Uint32(blob[8:])) != -1 {
		t.Errorf("blob = %v", blob)
	}
	if _, err := parseConstants("f32"); err == nil {
		t.Error("parseConstants without type succeeded")
	}
}

func TestParseBufferSpec(t *testing.T) {
	tests := []struct {
		in      string
		want    bufferSpec
		wantErr bool
	}{
		{"f32:16", bufferSpec{elem: "f32", count: 16}, false},
		{"u32=1,2,3", bufferSpec{elem: "u32", count: 3, values: []string{"1", "2", "3"}}, false},
		{"vec4=1,2,3,4,5,6,7,8", bufferSpec{elem: "vec4", count: 2, values: strings.Split("1,2,3,4,5,6,7,8", ",")}, false},
		{"vec4=1,2,3", bufferSpec{}, true},
		{"f32:0", bufferSpec{}, true},
		{"f32", bufferSpec{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseBufferSpec(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.elem != tt.want.elem || got.count != tt.want.count || !slices.Equal(got.values, tt.want.values) {
				t.Errorf("parseBufferSpec(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNewHostBuffer(t *testing.T) {
	dev := drivertest.NewDevice()
	tests := []struct {
		spec string
		want string
	}{
		{"u32=1,2", "buffer 0 (u32 x 2): [1 2]\n"},
		{"i32:2", "buffer 0 (i32 x 2): [0 0]\n"},
		{"f32=0.5", "buffer 0 (f32 x 1): [0.5]\n"},
		{"vec4=1,2,3,4", "buffer 0 (vec4 x 1): [[1 2 3 4]]\n"},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			spec, err := parseBufferSpec(tt.spec)
			if err != nil {
				t.Fatal(err)
			}
			b, err := newHostBuffer(dev, spec)
			if err != nil {
				t.Fatalf("newHostBuffer: %v", err)
			}
			defer b.Release()
			var out bytes.Buffer
			b.print(&out, 0)
			if out.String() != tt.want {
				t.Errorf("print = %q, want %q", out.String(), tt.want)
			}
		})
	}
	if _, err := newHostBuffer(dev, bufferSpec{elem: "f64", count: 1}); err == nil {
		t.Error("unknown element type accepted")
	}
	if _, err := newHostBuffer(dev, bufferSpec{elem: "u32", count: 1, values: []string{"x"}}); err == nil {
		t.Error("bad value accepted")
	}
	if live := dev.Live(); len(live) != 0 {
		t.Errorf("live buffers: %v", live)
	}
}

func TestDispatchOnce(t *testing.T) {
	cfg = config.DefaultConfig()
	dev := drivertest.NewDevice()
	dev.OnDispatch = func(ctx drivertest.DispatchContext) {
		in, out := ctx.Bindings[0], ctx.Bindings[1]
		scale := math.Float32frombits(binary.NativeEndian.Uint32(ctx.Constants))
		for i := 0; i+4 <= len(in); i += 4 {
			v := math.Float32frombits(binary.NativeEndian.Uint32(in[i:]))
			binary.NativeEndian.PutUint32(out[i:], math.Float32bits(v*scale))
		}
	}

	path := filepath.Join(t.TempDir(), "scale.spv")
	if err := os.WriteFile(path, []byte{0x03, 0x02, 0x23, 0x07}, 0o644); err != nil {
		t.Fatal(err)
	}
	in, _ := parseBufferSpec("f32=1,2,3")
	out, _ := parseBufferSpec("f32:3")
	constants, err := parseConstants("f32:2")
	if err != nil {
		t.Fatal(err)
	}

	var stdout bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&stdout)
	runEntry = compute.DefaultEntryPoint
	err = dispatchOnce(cmd, dev, path, compute.Groups1D(1), compute.Specialization{}, []bufferSpec{in, out}, constants)
	if err != nil {
		t.Fatalf("dispatchOnce: %v", err)
	}
	want := "buffer 0 (f32 x 3): [1 2 3]\nbuffer 1 (f32 x 3): [2 4 6]\n"
	if stdout.String() != want {
		t.Errorf("output = %q, want %q", stdout.String(), want)
	}
	if live := dev.Live(); len(live) != 0 {
		t.Errorf("live after run: %v", live)
	}
	if v := dev.Violations(); len(v) != 0 {
		t.Errorf("driver misuse: %v", v)
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"version"})
	defer rootCmd.SetArgs(nil)
	if err := Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !strings.HasPrefix(out.String(), "vkcompute v"+version) {
		t.Errorf("version output = %q", out.String())
	}
}

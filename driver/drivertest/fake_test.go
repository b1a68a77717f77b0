package drivertest

import (
	"strings"
	"testing"

	"github.com/hellhand/vkcompute/driver"
)

func mustNoErr(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}

func TestDescriptorWriteChecks(t *testing.T) {
	tests := []struct {
		name string
		slot uint32
		kind driver.BindingKind
		want string
	}{
		{"declared", 0, driver.StorageBuffer, ""},
		{"undeclared slot", 1, driver.StorageBuffer, "slot 1 not declared"},
		{"wrong kind", 0, driver.UniformBuffer, "descriptor write of uniform to storage slot 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDevice()
			buf, err := d.CreateBuffer(16, tt.kind, true)
			mustNoErr(t, err)
			layout, err := d.CreateDescriptorSetLayout([]driver.LayoutBinding{{Slot: 0, Kind: driver.StorageBuffer}})
			mustNoErr(t, err)
			pool, err := d.CreateDescriptorPool([]driver.PoolSize{{Kind: driver.StorageBuffer, Count: 1}}, 1)
			mustNoErr(t, err)
			set, err := d.AllocateDescriptorSet(pool, layout)
			mustNoErr(t, err)

			d.UpdateDescriptorSets([]driver.DescriptorWrite{{
				Set:   set,
				Slot:  tt.slot,
				Kind:  tt.kind,
				Range: driver.BufferRange{Buffer: buf, Size: 16},
			}})
			v := d.Violations()
			switch {
			case tt.want == "" && len(v) != 0:
				t.Errorf("violations = %v, want none", v)
			case tt.want != "" && (len(v) != 1 || !strings.Contains(v[0], tt.want)):
				t.Errorf("violations = %v, want one containing %q", v, tt.want)
			}
		})
	}
}

func TestSubmitChecksPipelineLayout(t *testing.T) {
	d := NewDevice()
	module, err := d.CreateShaderModule([]uint32{0x07230203})
	mustNoErr(t, err)
	set, err := d.CreateDescriptorSetLayout(nil)
	mustNoErr(t, err)
	layout, err := d.CreatePipelineLayout(set, nil)
	mustNoErr(t, err)
	cache, err := d.CreatePipelineCache()
	mustNoErr(t, err)
	pipeline, err := d.CreateComputePipeline(cache, layout, driver.StageInfo{Module: module, EntryPoint: "main"})
	mustNoErr(t, err)
	pool, err := d.CreateCommandPool()
	mustNoErr(t, err)
	cmd, err := d.AllocateCommandBuffer(pool)
	mustNoErr(t, err)

	d.DestroyPipelineLayout(layout)
	mustNoErr(t, d.BeginCommandBuffer(cmd))
	d.CmdBindPipeline(cmd, pipeline)
	d.CmdDispatch(cmd, 1, 1, 1)
	mustNoErr(t, d.EndCommandBuffer(cmd))
	mustNoErr(t, d.Submit(cmd))

	v := d.Violations()
	if len(v) != 1 || !strings.Contains(v[0], "layout") {
		t.Errorf("violations = %v, want one about the destroyed layout", v)
	}
	if d.Dispatches() != 1 {
		t.Errorf("Dispatches() = %d, want 1", d.Dispatches())
	}
}

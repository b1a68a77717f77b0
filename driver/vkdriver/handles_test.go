package vkdriver

import (
	"slices"
	"testing"
	"time"

	"github.com/hellhand/vkcompute/driver"
)

func TestHandleTable(t *testing.T) {
	tbl := newHandleTable[string]("widget")
	tbl.insert(1, "a")
	tbl.insert(2, "b")

	if v, ok := tbl.lookup(1); !ok || v != "a" {
		t.Errorf("lookup(1) = %q, %v", v, ok)
	}
	if _, err := get(tbl, driver.Handle(3)); err == nil {
		t.Error("get of unknown handle succeeded")
	}
	if v, ok := tbl.remove(2); !ok || v != "b" {
		t.Errorf("remove(2) = %q, %v", v, ok)
	}
	if _, ok := tbl.remove(2); ok {
		t.Error("second remove succeeded")
	}
	if tbl.len() != 1 {
		t.Errorf("len() = %d, want 1", tbl.len())
	}
}

func TestSafeStrings(t *testing.T) {
	got := safeStrings([]string{"VK_LAYER_KHRONOS_validation", "already\x00", ""})
	want := []string{"VK_LAYER_KHRONOS_validation\x00", "already\x00", "\x00"}
	if !slices.Equal(got, want) {
		t.Errorf("safeStrings() = %q, want %q", got, want)
	}
}

func TestOptionsDefaults(t *testing.T) {
	o := Options{}.withDefaults()
	if o.ApplicationName != "vkcompute" || o.Loader != LoaderDefault || o.FenceTimeout != DefaultFenceTimeout {
		t.Errorf("withDefaults() = %+v", o)
	}
	if o.Logger == nil || o.Logger.Data["component"] != "vkdriver" {
		t.Errorf("logger = %+v", o.Logger)
	}
	o = Options{FenceTimeout: time.Second, Loader: LoaderGLFW}.withDefaults()
	if o.FenceTimeout != time.Second || o.Loader != LoaderGLFW {
		t.Errorf("withDefaults() overrode %+v", o)
	}
}

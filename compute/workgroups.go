package compute

import (
	"github.com/cockroachdb/errors"

	"github.com/hellhand/vkcompute/driver"
)

// WorkGroups is a 3-D count of work-groups or a 3-D work-group size.
type WorkGroups struct {
	X, Y, Z uint32
}

// Groups1D returns a count of x groups along one axis.
func Groups1D(x uint32) WorkGroups { return WorkGroups{X: x, Y: 1, Z: 1} }

// Total returns X*Y*Z.
func (w WorkGroups) Total() uint64 {
	return uint64(w.X) * uint64(w.Y) * uint64(w.Z)
}

// Threads returns the number of invocations a dispatch of w groups runs
// with the given local size.
func (w WorkGroups) Threads(local WorkGroups) uint64 {
	return w.Total() * local.Total()
}

func (w WorkGroups) check(limits driver.Limits) error {
	count := [3]uint32{w.X, w.Y, w.Z}
	for axis, n := range count {
		if n == 0 {
			return errors.Wrapf(ErrInvalidArgument, "work-group count %v is zero on axis %d", w, axis)
		}
		if limit := limits.MaxComputeWorkGroupCount[axis]; limit > 0 && n > limit {
			return errors.Wrapf(ErrInvalidArgument, "work-group count %d on axis %d exceeds device limit %d", n, axis, limit)
		}
	}
	return nil
}

package compute

import (
	"github.com/cockroachdb/errors"

	"github.com/hellhand/vkcompute/driver"
)

// PoolLimits sizes a binding allocator's pool.
type PoolLimits struct {
	StorageBuffers uint32 `mapstructure:"storage_buffers"`
	UniformBuffers uint32 `mapstructure:"uniform_buffers"`
	MaxSets        uint32 `mapstructure:"max_sets"`
}

// DefaultPoolLimits holds 4 storage buffer descriptors across at most 64 sets.
func DefaultPoolLimits() PoolLimits {
	return PoolLimits{StorageBuffers: 4, MaxSets: 64}
}

func (l PoolLimits) capacity(kind driver.BindingKind) uint32 {
	if kind == driver.UniformBuffer {
		return l.UniformBuffers
	}
	return l.StorageBuffers
}

// BindingAllocator issues binding sets from one fixed-capacity pool. Sets are
// never returned individually; Release frees the pool and every set in it.
type BindingAllocator struct {
	dev       driver.Device
	pool      driver.DescriptorPool
	limits    PoolLimits
	setsLeft  uint32
	remaining map[driver.BindingKind]uint32
	issued    int
}

// NewBindingAllocator creates the pool.
func NewBindingAllocator(dev driver.Device, limits PoolLimits) (*BindingAllocator, error) {
	if limits.MaxSets == 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "binding pool must allow at least one set")
	}
	sizes := []driver.PoolSize{
		{Kind: driver.StorageBuffer, Count: limits.StorageBuffers},
		{Kind: driver.UniformBuffer, Count: limits.UniformBuffers},
	}
	pool, err := dev.CreateDescriptorPool(sizes, limits.MaxSets)
	if err != nil {
		return nil, errors.Wrap(err, "create binding pool")
	}
	return &BindingAllocator{
		dev:      dev,
		pool:     pool,
		limits:   limits,
		setsLeft: limits.MaxSets,
		remaining: map[driver.BindingKind]uint32{
			driver.StorageBuffer: limits.StorageBuffers,
			driver.UniformBuffer: limits.UniformBuffers,
		},
	}, nil
}

// Allocate issues one binding set for l. It fails with ErrPoolExhausted when
// the pool has no set or descriptor capacity left for l's bindings.
func (a *BindingAllocator) Allocate(l Layouts) (driver.DescriptorSet, error) {
	if a.pool == 0 {
		return 0, ErrReleased
	}
	need := make(map[driver.BindingKind]uint32)
	for _, b := range l.Bindings {
		need[b.Kind]++
	}
	if a.setsLeft == 0 {
		return 0, errors.Wrapf(ErrPoolExhausted, "all %d sets issued", a.limits.MaxSets)
	}
	for kind, n := range need {
		if a.remaining[kind] < n {
			return 0, errors.Wrapf(ErrPoolExhausted, "need %d %s descriptors, %d of %d left",
				n, kind, a.remaining[kind], a.limits.capacity(kind))
		}
	}

	set, err := a.dev.AllocateDescriptorSet(a.pool, l.Set)
	if err != nil {
		return 0, errors.Wrap(poolError(err), "allocate binding set")
	}
	a.setsLeft--
	for kind, n := range need {
		a.remaining[kind] -= n
	}
	a.issued++
	return set, nil
}

// Issued returns how many sets have been allocated.
func (a *BindingAllocator) Issued() int { return a.issued }

// Limits returns the pool configuration.
func (a *BindingAllocator) Limits() PoolLimits { return a.limits }

// Pool returns the pool handle, or zero after Release.
func (a *BindingAllocator) Pool() driver.DescriptorPool { return a.pool }

// Release destroys the pool, releasing every set it issued.
func (a *BindingAllocator) Release() {
	if a.pool == 0 {
		return
	}
	a.dev.DestroyDescriptorPool(a.pool)
	a.pool = 0
}

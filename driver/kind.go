package driver

import "fmt"

// BindingKind is the descriptor type a buffer is bound as.
type BindingKind uint8

const (
	StorageBuffer BindingKind = iota
	UniformBuffer
)

func (k BindingKind) String() string {
	switch k {
	case StorageBuffer:
		return "storage"
	case UniformBuffer:
		return "uniform"
	default:
		return fmt.Sprintf("BindingKind(%d)", uint8(k))
	}
}

// Package irq is the dispatch layer between an interrupt controller and
// its consumers: linear domains map hardware line numbers onto
// descriptors, flow handlers bracket consumer handlers with the right
// chip operations, and a hotplug registrar tracks which CPUs are online.
package irq

// Virq is a virtual interrupt number, unique across all domains sharing
// an Allocator. 0 is never handed out.
type Virq uint32

// Trigger sense values carried in the last cell of interrupt specifiers.
const (
	SenseEdgeRising  uint32 = 1 << 0
	SenseEdgeFalling uint32 = 1 << 1
	SenseLevelHigh   uint32 = 1 << 2
	SenseLevelLow    uint32 = 1 << 3
	SenseMask        uint32 = 0xf
)

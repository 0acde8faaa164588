package irq

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"gvisor.dev/gvisor/pkg/atomicbitops"
)

// MapInfo tells a domain how to wire one hwirq at map time.
type MapInfo struct {
	Chip   Chip
	Flow   FlowHandler
	Percpu bool
	Level  bool
}

// MapFunc yields the wiring for a hwirq when it is first mapped.
type MapFunc func(hwirq uint32) MapInfo

// Domain maps a linear hwirq space onto descriptors and dispatches events
// into their handlers.
type Domain struct {
	name  string
	size  uint32
	alloc *Allocator
	mapfn MapFunc

	desc []atomic.Pointer[Desc]

	unhandledCount atomicbitops.Uint64
}

// NewLinear creates a domain covering hwirqs [0, size).
func NewLinear(name string, size uint32, alloc *Allocator, mapfn MapFunc) *Domain {
	return &Domain{
		name:  name,
		size:  size,
		alloc: alloc,
		mapfn: mapfn,
		desc:  make([]atomic.Pointer[Desc], size),
	}
}

func (dom *Domain) Name() string { return dom.name }
func (dom *Domain) Size() uint32 { return dom.size }

// Map returns the descriptor for hwirq, wiring it on first use. Mapping
// is idempotent: concurrent calls for the same hwirq yield one descriptor.
func (dom *Domain) Map(hwirq uint32) (*Desc, error) {
	if hwirq >= dom.size {
		return nil, fmt.Errorf("irq: hwirq %d outside domain %s (size %d)", hwirq, dom.name, dom.size)
	}
	if d := dom.desc[hwirq].Load(); d != nil {
		return d, nil
	}
	info := dom.mapfn(hwirq)
	if info.Chip == nil || info.Flow == nil {
		return nil, fmt.Errorf("irq: domain %s cannot wire hwirq %d", dom.name, hwirq)
	}
	d := &Desc{
		domain: dom,
		virq:   dom.alloc.Allocate(),
		hwirq:  hwirq,
		chip:   info.Chip,
		flow:   info.Flow,
		percpu: info.Percpu,
		level:  info.Level,
	}
	if !info.Percpu {
		// Lines start disabled until a consumer enables them.
		d.state = atomicbitops.FromUint32(stateDisabled | stateMasked)
	}
	if dom.desc[hwirq].CompareAndSwap(nil, d) {
		return d, nil
	}
	return dom.desc[hwirq].Load(), nil
}

// Lookup returns the descriptor for hwirq, or nil if it was never mapped.
func (dom *Domain) Lookup(hwirq uint32) *Desc {
	if hwirq >= dom.size {
		return nil
	}
	return dom.desc[hwirq].Load()
}

// Dispatch runs one delivery of hwirq on cpu. It reports false when the
// hwirq has no mapping, leaving the caller to treat the event as spurious.
func (dom *Domain) Dispatch(cpu int, hwirq uint32) bool {
	d := dom.Lookup(hwirq)
	if d == nil {
		return false
	}
	d.count.Add(1)
	d.flow(cpu, d)
	return true
}

// Unhandled returns how many deliveries found no usable handler.
func (dom *Domain) Unhandled() uint64 { return dom.unhandledCount.Load() }

func (dom *Domain) unhandled(cpu int, d *Desc) {
	dom.unhandledCount.Add(1)
	slog.Warn("irq: unhandled interrupt", "domain", dom.name, "hwirq", d.hwirq, "cpu", cpu)
}

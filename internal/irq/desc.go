package irq

import (
	"fmt"
	"sync"
	"sync/atomic"

	"gvisor.dev/gvisor/pkg/atomicbitops"
)

const (
	stateDisabled uint32 = 1 << 0
	stateMasked   uint32 = 1 << 1
)

// Desc is the per-interrupt descriptor connecting a mapped line to its
// chip, flow and handler.
type Desc struct {
	domain *Domain
	virq   Virq
	hwirq  uint32
	chip   Chip
	flow   FlowHandler
	percpu bool
	level  bool

	handler atomic.Pointer[Handler]

	// Global lines keep disabled/masked bits in state. Per-CPU lines
	// keep an enabled-CPU set in enabled instead: a line is considered
	// masked and disabled on every CPU whose bit is clear.
	state   atomicbitops.Uint32
	enabled atomicbitops.Uint32

	mu       sync.Mutex
	affinity CPUMask

	count atomicbitops.Uint64
}

func (d *Desc) Domain() *Domain { return d.domain }
func (d *Desc) Virq() Virq      { return d.virq }
func (d *Desc) Hwirq() uint32   { return d.hwirq }
func (d *Desc) Chip() Chip      { return d.chip }
func (d *Desc) Percpu() bool    { return d.percpu }
func (d *Desc) Level() bool     { return d.level }

// Count returns how many times the line has been dispatched.
func (d *Desc) Count() uint64 { return d.count.Load() }

func (d *Desc) String() string {
	return fmt.Sprintf("%s:%d(virq %d)", d.chip.Name(), d.hwirq, d.virq)
}

// SetHandler installs the dispatch target. Passing nil detaches it.
func (d *Desc) SetHandler(h Handler) {
	if h == nil {
		d.handler.Store(nil)
		return
	}
	d.handler.Store(&h)
}

// Handler returns the installed dispatch target, or nil.
func (d *Desc) Handler() Handler {
	if p := d.handler.Load(); p != nil {
		return *p
	}
	return nil
}

// Enable clears the disabled state and unmasks the line. For per-CPU lines
// it acts on cpu only.
func (d *Desc) Enable(cpu int) {
	if d.percpu {
		atomicbitops.OrUint32(&d.enabled, 1<<uint(cpu))
	} else {
		atomicbitops.AndUint32(&d.state, ^(stateDisabled | stateMasked))
	}
	d.chip.Unmask(cpu, d)
}

// Disable masks the line and marks it disabled. For per-CPU lines it acts
// on cpu only.
func (d *Desc) Disable(cpu int) {
	if d.percpu {
		atomicbitops.AndUint32(&d.enabled, ^(uint32(1) << uint(cpu)))
	} else {
		atomicbitops.OrUint32(&d.state, stateDisabled|stateMasked)
	}
	d.chip.Mask(cpu, d)
}

// Mask masks the line without marking it disabled.
func (d *Desc) Mask(cpu int) {
	if d.percpu {
		atomicbitops.AndUint32(&d.enabled, ^(uint32(1) << uint(cpu)))
	} else {
		atomicbitops.OrUint32(&d.state, stateMasked)
	}
	d.chip.Mask(cpu, d)
}

// Unmask clears the masked state and unmasks the line.
func (d *Desc) Unmask(cpu int) {
	if d.percpu {
		atomicbitops.OrUint32(&d.enabled, 1<<uint(cpu))
	} else {
		atomicbitops.AndUint32(&d.state, ^stateMasked)
	}
	d.chip.Unmask(cpu, d)
}

// Disabled reports whether the line is disabled; for per-CPU lines, on
// cpu.
func (d *Desc) Disabled(cpu int) bool {
	if d.percpu {
		return d.enabled.Load()&(1<<uint(cpu)) == 0
	}
	return d.state.Load()&stateDisabled != 0
}

// Masked reports whether the line is masked; for per-CPU lines, on cpu.
func (d *Desc) Masked(cpu int) bool {
	if d.percpu {
		return d.enabled.Load()&(1<<uint(cpu)) == 0
	}
	return d.state.Load()&stateMasked != 0
}

// SetAffinity asks the chip to steer the line to one of the CPUs in mask.
// With force set, offline CPUs may be chosen.
func (d *Desc) SetAffinity(mask CPUMask, force bool) error {
	ac, ok := d.chip.(AffinityChip)
	if !ok {
		return fmt.Errorf("irq: %s line %d cannot be steered", d.chip.Name(), d.hwirq)
	}
	return ac.SetAffinity(d, mask, force)
}

// SetEffectiveAffinity records where the chip actually routed the line.
func (d *Desc) SetEffectiveAffinity(m CPUMask) {
	d.mu.Lock()
	d.affinity = m
	d.mu.Unlock()
}

// EffectiveAffinity returns the CPU set the line was last routed to.
func (d *Desc) EffectiveAffinity() CPUMask {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.affinity
}

// Send delivers an IPI line to targets. cpu is the sending core.
func (d *Desc) Send(cpu int, targets CPUMask) error {
	ic, ok := d.chip.(IPIChip)
	if !ok {
		return fmt.Errorf("irq: %s line %d is not an IPI", d.chip.Name(), d.hwirq)
	}
	ic.SendMask(cpu, d, targets)
	return nil
}

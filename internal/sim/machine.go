// Package sim models the interrupt controller and the per-CPU system
// registers around it, accurate to their observable register behavior.
// The driver runs against it unmodified, which is how the test suite
// and the bringup tool exercise delivery semantics without hardware.
package sim

import (
	"fmt"
	"math/bits"
	"sync"

	"github.com/tinyrange/aic/internal/regs"
	"github.com/tinyrange/aic/internal/sysreg"
)

// DefaultNRHW is the hardware line count reported by the info register
// unless a Config overrides it, matching the t8103 controller.
const DefaultNRHW = 896

// MaxNRHW bounds the line count. The set/clear arrays sit 0x80 bytes
// apart in the register map, which caps them at 32 words.
const MaxNRHW = 1024

// Config sizes a simulated machine.
type Config struct {
	// CPUs is the number of cores, 1 to regs.MaxCPUs.
	CPUs int
	// NRHW overrides the hardware line count when nonzero.
	NRHW uint32
}

// cpuState is one core's banked register state.
type cpuState struct {
	ipiPending uint32
	ipiMasked  uint32
	sys        [sysreg.NumRegs]uint64
}

// Machine is one simulated interrupt controller plus each core's system
// registers. All state sits behind a single mutex; concurrent register
// accesses from different goroutines serialize in some order, the way
// concurrent accesses from different cores would.
type Machine struct {
	mu   sync.Mutex
	ncpu int
	nrHW uint32

	config  uint32
	pending []uint32 // latched line state, one bit per line
	masked  []uint32
	target  []uint32 // one routing word per line, BIT(cpu)

	cpus []*cpuState
}

// New builds a quiesced machine: nothing latched, every line masked and
// routed nowhere, both IPIs masked.
func New(cfg Config) (*Machine, error) {
	if cfg.CPUs < 1 || cfg.CPUs > regs.MaxCPUs {
		return nil, fmt.Errorf("sim: %d CPUs out of range (1..%d)", cfg.CPUs, regs.MaxCPUs)
	}
	nrHW := cfg.NRHW
	if nrHW == 0 {
		nrHW = DefaultNRHW
	}
	if nrHW > MaxNRHW {
		return nil, fmt.Errorf("sim: %d lines exceed the register map's %d", nrHW, MaxNRHW)
	}

	m := &Machine{
		ncpu:    cfg.CPUs,
		nrHW:    nrHW,
		pending: make([]uint32, (nrHW+31)/32),
		masked:  make([]uint32, (nrHW+31)/32),
		target:  make([]uint32, nrHW),
	}
	for i := range m.masked {
		m.masked[i] = ^uint32(0)
	}
	for i := 0; i < cfg.CPUs; i++ {
		m.cpus = append(m.cpus, &cpuState{ipiMasked: regs.IPIOther | regs.IPISelf})
	}
	return m, nil
}

// CPUs returns the number of simulated cores.
func (m *Machine) CPUs() int { return m.ncpu }

// NumHW returns the simulated hardware line count.
func (m *Machine) NumHW() uint32 { return m.nrHW }

func (m *Machine) String() string {
	return fmt.Sprintf("sim.Machine(%d CPUs, %d lines)", m.ncpu, m.nrHW)
}

func (m *Machine) checkCPU(cpu int) {
	if cpu < 0 || cpu >= m.ncpu {
		panic(fmt.Sprintf("sim: access from CPU %d of %d", cpu, m.ncpu))
	}
}

func (m *Machine) words() uint32 { return uint32(len(m.pending)) }

// Read32 implements regs.IO. Reading the event register through Read32
// is a side-effect-free peek; only ReadEvent32 pops it.
func (m *Machine) Read32(cpu int, off uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read(cpu, off, false)
}

// ReadEvent32 implements regs.IO. When off addresses the event register
// the read applies its side effects; any other register reads normally.
func (m *Machine) ReadEvent32(cpu int, off uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.read(cpu, off, true)
}

func (m *Machine) read(cpu int, off uint32, pop bool) uint32 {
	m.checkCPU(cpu)
	switch {
	case off == regs.Info:
		return m.nrHW
	case off == regs.Config:
		return m.config
	case off == regs.Whoami:
		return uint32(cpu)
	case off == regs.Event:
		return m.scanEvent(cpu, pop)
	case off == regs.IPISend:
		return 0
	case off == regs.IPIAck:
		return m.cpus[cpu].ipiPending
	case off == regs.IPIMaskSet, off == regs.IPIMaskClr:
		return m.cpus[cpu].ipiMasked
	case off >= regs.TargetCPU && off < regs.TargetCPU+4*m.nrHW:
		return m.target[(off-regs.TargetCPU)/4]
	case off >= regs.SWSet && off < regs.SWSet+4*m.words():
		return m.pending[(off-regs.SWSet)/4]
	case off >= regs.SWClr && off < regs.SWClr+4*m.words():
		return m.pending[(off-regs.SWClr)/4]
	case off >= regs.MaskSet && off < regs.MaskSet+4*m.words():
		return m.masked[(off-regs.MaskSet)/4]
	case off >= regs.MaskClr && off < regs.MaskClr+4*m.words():
		return m.masked[(off-regs.MaskClr)/4]
	}
	if tc, sub, ok := regs.CPUView(off); ok {
		m.checkCPU(tc)
		switch sub {
		case regs.CPUViewIPISet, regs.CPUViewIPIClr:
			return m.cpus[tc].ipiPending
		case regs.CPUViewIPIMaskSet, regs.CPUViewIPIMaskClr:
			return m.cpus[tc].ipiMasked
		}
	}
	panic(fmt.Sprintf("sim: read of unknown register %#x", off))
}

// Write32 implements regs.IO.
func (m *Machine) Write32(cpu int, off uint32, v uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkCPU(cpu)
	switch {
	case off == regs.Config:
		m.config = v
	case off == regs.IPISend:
		m.sendIPI(cpu, v)
	case off == regs.IPIAck:
		m.cpus[cpu].ipiPending &^= v
	case off == regs.IPIMaskSet:
		m.cpus[cpu].ipiMasked |= v
	case off == regs.IPIMaskClr:
		m.cpus[cpu].ipiMasked &^= v
	case off >= regs.TargetCPU && off < regs.TargetCPU+4*m.nrHW:
		m.target[(off-regs.TargetCPU)/4] = v
	case off >= regs.SWSet && off < regs.SWSet+4*m.words():
		m.pending[(off-regs.SWSet)/4] |= v
	case off >= regs.SWClr && off < regs.SWClr+4*m.words():
		m.pending[(off-regs.SWClr)/4] &^= v
	case off >= regs.MaskSet && off < regs.MaskSet+4*m.words():
		m.masked[(off-regs.MaskSet)/4] |= v
	case off >= regs.MaskClr && off < regs.MaskClr+4*m.words():
		m.masked[(off-regs.MaskClr)/4] &^= v
	default:
		if tc, sub, ok := regs.CPUView(off); ok {
			m.checkCPU(tc)
			switch sub {
			case regs.CPUViewIPISet:
				m.cpus[tc].ipiPending |= v
				return
			case regs.CPUViewIPIClr:
				m.cpus[tc].ipiPending &^= v
				return
			case regs.CPUViewIPIMaskSet:
				m.cpus[tc].ipiMasked |= v
				return
			case regs.CPUViewIPIMaskClr:
				m.cpus[tc].ipiMasked &^= v
				return
			}
		}
		panic(fmt.Sprintf("sim: write of %#x to unknown register %#x", v, off))
	}
}

// sendIPI applies a send-register write from cpu: bit 31 raises the
// self IPI on the writer, every other set bit raises the cross-CPU IPI
// on that core.
func (m *Machine) sendIPI(cpu int, v uint32) {
	if v&regs.IPISelf != 0 {
		m.cpus[cpu].ipiPending |= regs.IPISelf
	}
	for w := v &^ regs.IPISelf; w != 0; w &= w - 1 {
		if t := bits.TrailingZeros32(w); t < m.ncpu {
			m.cpus[t].ipiPending |= regs.IPIOther
		}
	}
}

// scanEvent finds the highest-priority deliverable event for cpu:
// hardware lines in ascending order, then the cross-CPU IPI, then the
// self IPI. With pop set it applies the read side effects, unlatching
// and masking a hardware line but only masking an IPI, whose latch
// clears through an explicit ack.
func (m *Machine) scanEvent(cpu int, pop bool) uint32 {
	for w := range m.pending {
		avail := m.pending[w] &^ m.masked[w]
		for avail != 0 {
			b := uint(bits.TrailingZeros32(avail))
			avail &^= 1 << b
			line := uint32(w)*32 + uint32(b)
			if line >= m.nrHW {
				break
			}
			if m.target[line]&(uint32(1)<<uint(cpu)) == 0 {
				continue
			}
			if pop {
				m.pending[w] &^= 1 << b
				m.masked[w] |= 1 << b
			}
			return regs.EventTypeHW<<16 | line
		}
	}

	cs := m.cpus[cpu]
	if cs.ipiPending&regs.IPIOther != 0 && cs.ipiMasked&regs.IPIOther == 0 {
		if pop {
			cs.ipiMasked |= regs.IPIOther
		}
		return regs.EventTypeIPI<<16 | regs.EventIPIOther
	}
	if cs.ipiPending&regs.IPISelf != 0 && cs.ipiMasked&regs.IPISelf == 0 {
		if pop {
			cs.ipiMasked |= regs.IPISelf
		}
		return regs.EventTypeIPI<<16 | regs.EventIPISelf
	}
	return 0
}

package sim

import (
	"github.com/tinyrange/aic/internal/regs"
	"github.com/tinyrange/aic/internal/sysreg"
)

// CPU returns cpu's system register file. Machine is a sysreg.Bank.
func (m *Machine) CPU(cpu int) sysreg.File {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkCPU(cpu)
	return sysFile{m, cpu}
}

var _ sysreg.Bank = (*Machine)(nil)
var _ regs.IO = (*Machine)(nil)

type sysFile struct {
	m   *Machine
	cpu int
}

func (f sysFile) Read(r sysreg.Reg) uint64 {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if r == sysreg.ISR {
		return f.m.isr(f.cpu)
	}
	return f.m.cpus[f.cpu].sys[r]
}

// Write applies architectural write semantics: the interrupt status
// register is read-only and the fast IPI status register clears on
// writing one.
func (f sysFile) Write(r sysreg.Reg, v uint64) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	s := &f.m.cpus[f.cpu].sys
	switch r {
	case sysreg.ISR:
	case sysreg.IPISR:
		s[r] &^= v & sysreg.IPISRPending
	default:
		s[r] = v
	}
}

// isr composes the interrupt status register from everything asserted
// for cpu. Callers hold m.mu.
func (m *Machine) isr(cpu int) uint64 {
	var v uint64
	if m.fiqAsserted(cpu) {
		v |= sysreg.ISRFIQ
	}
	if m.irqAsserted(cpu) {
		v |= sysreg.ISRIRQ
	}
	return v
}

// fiqAsserted reports whether any FIQ source on cpu is delivering. The
// guest timers deliver only while their bit in the timer FIQ enable
// register is set; the rest gate themselves.
func (m *Machine) fiqAsserted(cpu int) bool {
	s := &m.cpus[cpu].sys
	if s[sysreg.IPISR]&sysreg.IPISRPending != 0 {
		return true
	}
	for i := 0; i < regs.NumFIQ; i++ {
		if !sysreg.TimerFiring(s[sysreg.TimerCtl(i)]) {
			continue
		}
		switch i {
		case sysreg.TimerGuestPhys:
			if s[sysreg.VMTimerMask]&sysreg.VMTimerMaskPhys != 0 {
				return true
			}
		case sysreg.TimerGuestVirt:
			if s[sysreg.VMTimerMask]&sysreg.VMTimerMaskVirt != 0 {
				return true
			}
		default:
			return true
		}
	}
	pmc := s[sysreg.PMCR0]
	if pmc&(sysreg.PMCR0IModeMask|sysreg.PMCR0IAct) == sysreg.PMCR0IModeFIQ|sysreg.PMCR0IAct {
		return true
	}
	if s[sysreg.UPMCR0]&sysreg.UPMCR0IModeMask == sysreg.UPMCR0IModeFIQ &&
		s[sysreg.UPMSR]&sysreg.UPMSRIAct != 0 {
		return true
	}
	return false
}

// irqAsserted reports whether an IRQ exception is due on cpu: a
// deliverable event, or a virtual GIC maintenance condition with the
// interface enabled. Callers hold m.mu.
func (m *Machine) irqAsserted(cpu int) bool {
	if m.scanEvent(cpu, false) != 0 {
		return true
	}
	s := &m.cpus[cpu].sys
	return s[sysreg.ICHHCR]&sysreg.ICHHCREnable != 0 && s[sysreg.ICHMISR] != 0
}

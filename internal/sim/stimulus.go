package sim

import (
	"fmt"

	"github.com/tinyrange/aic/internal/regs"
	"github.com/tinyrange/aic/internal/sysreg"
)

// The methods below play the role of the wires: they assert and retract
// interrupt conditions the way devices, timers and counters would.

func (m *Machine) checkLine(line uint32) {
	if line >= m.nrHW {
		panic(fmt.Sprintf("sim: line %d of %d", line, m.nrHW))
	}
}

// RaiseHW latches hardware line, as if its wired source pulsed it.
func (m *Machine) RaiseHW(line uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkLine(line)
	m.pending[line>>5] |= regs.MaskBit(line)
}

// LowerHW retracts a latched line that has not been delivered yet.
func (m *Machine) LowerHW(line uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkLine(line)
	m.pending[line>>5] &^= regs.MaskBit(line)
}

// LinePending reports whether line is latched.
func (m *Machine) LinePending(line uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkLine(line)
	return m.pending[line>>5]&regs.MaskBit(line) != 0
}

// LineMasked reports whether line is masked.
func (m *Machine) LineMasked(line uint32) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkLine(line)
	return m.masked[line>>5]&regs.MaskBit(line) != 0
}

// LineTarget returns line's routing word, one bit per allowed CPU.
func (m *Machine) LineTarget(line uint32) uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkLine(line)
	return m.target[line]
}

// ArmTimer programs timer idx on cpu the way its consumer would:
// enabled, with the interrupt output unmasked. The per-CPU startup masks
// every timer, so a timer delivers nothing until someone arms it.
func (m *Machine) ArmTimer(cpu, idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkCPU(cpu)
	m.cpus[cpu].sys[sysreg.TimerCtl(idx)] = sysreg.TimerEnable
}

// FireTimer asserts timer idx's interrupt condition on cpu by setting
// the status bit in its control register. Whether that delivers depends
// on how the timer and, for the guest timers, the FIQ enable register
// are programmed.
func (m *Machine) FireTimer(cpu, idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkCPU(cpu)
	m.cpus[cpu].sys[sysreg.TimerCtl(idx)] |= sysreg.TimerIStat
}

// ClearTimer drops timer idx's interrupt condition on cpu.
func (m *Machine) ClearTimer(cpu, idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkCPU(cpu)
	m.cpus[cpu].sys[sysreg.TimerCtl(idx)] &^= sysreg.TimerIStat
}

// SetFastIPIPending latches a fast IPI on cpu.
func (m *Machine) SetFastIPIPending(cpu int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkCPU(cpu)
	m.cpus[cpu].sys[sysreg.IPISR] |= sysreg.IPISRPending
}

// SetPMCActive drives cpu's core performance counters into an overflow
// state with FIQ delivery selected.
func (m *Machine) SetPMCActive(cpu int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkCPU(cpu)
	s := &m.cpus[cpu].sys
	s[sysreg.PMCR0] = (s[sysreg.PMCR0] &^ sysreg.PMCR0IModeMask) | sysreg.PMCR0IModeFIQ | sysreg.PMCR0IAct
}

// SetUncorePMCActive does the same for the uncore counters.
func (m *Machine) SetUncorePMCActive(cpu int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkCPU(cpu)
	s := &m.cpus[cpu].sys
	s[sysreg.UPMCR0] = (s[sysreg.UPMCR0] &^ sysreg.UPMCR0IModeMask) | sysreg.UPMCR0IModeFIQ
	s[sysreg.UPMSR] |= sysreg.UPMSRIAct
}

// SetVGICMaintenance sets cpu's virtual GIC maintenance status
// register. A nonzero value asserts the maintenance interrupt while the
// interface is enabled.
func (m *Machine) SetVGICMaintenance(cpu int, misr uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkCPU(cpu)
	m.cpus[cpu].sys[sysreg.ICHMISR] = misr
}

// PendingIRQ reports whether an IRQ exception is due on cpu.
func (m *Machine) PendingIRQ(cpu int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkCPU(cpu)
	return m.irqAsserted(cpu)
}

// PendingFIQ reports whether a FIQ exception is due on cpu.
func (m *Machine) PendingFIQ(cpu int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkCPU(cpu)
	return m.fiqAsserted(cpu)
}

// Package sysreg models the per-CPU system registers the FIQ paths touch.
// Unlike the memory-mapped block, these registers are private to each core
// and are plain state words, so read-modify-write on them is safe.
package sysreg

// Reg names one of the system registers the controller cares about.
type Reg int

// The four timer control registers come first and in the same order as the
// controller's FIQ source numbering, so TimerCtl can index them directly.
const (
	TimerCtlHVPhys Reg = iota // CNTP_CTL_EL0
	TimerCtlHVVirt            // CNTV_CTL_EL0
	TimerCtlGuestPhys         // CNTP_CTL_EL02
	TimerCtlGuestVirt         // CNTV_CTL_EL02
	PMCR0                     // core performance counter control
	UPMCR0                    // uncore performance counter control
	UPMSR                     // uncore performance counter status
	IPISR                     // fast IPI status, pending bit is write-1-to-clear
	VMTimerMask               // guest timer FIQ enables
	ICHHCR                    // virtual GIC interface control
	ICHMISR                   // virtual GIC maintenance status
	ISR                       // top-level exception status

	NumRegs = int(ISR) + 1
)

var regNames = [NumRegs]string{
	"CNTP_CTL_EL0", "CNTV_CTL_EL0", "CNTP_CTL_EL02", "CNTV_CTL_EL02",
	"PMCR0", "UPMCR0", "UPMSR", "IPI_SR", "VM_TMR_MASK",
	"ICH_HCR_EL2", "ICH_MISR_EL2", "ISR_EL1",
}

func (r Reg) String() string {
	if r < 0 || int(r) >= NumRegs {
		return "Reg(?)"
	}
	return regNames[r]
}

// Timer source indexes, usable both as TimerCtl arguments and as FIQ
// source numbers.
const (
	TimerHVPhys = iota
	TimerHVVirt
	TimerGuestPhys
	TimerGuestVirt
)

// TimerCtl returns the control register for FIQ timer source idx.
func TimerCtl(idx int) Reg { return TimerCtlHVPhys + Reg(idx) }

// Timer control bits, shared by all four timers.
const (
	TimerEnable uint64 = 1 << 0
	TimerIMask  uint64 = 1 << 1 // set masks the interrupt output
	TimerIStat  uint64 = 1 << 2 // condition met
)

// TimerFiring reports whether a timer control value shows a deliverable
// interrupt: enabled, not masked, and asserting its status.
func TimerFiring(ctl uint64) bool {
	return ctl&(TimerEnable|TimerIMask|TimerIStat) == TimerEnable|TimerIStat
}

// Core PMC control fields.
const (
	PMCR0IModeMask uint64 = 0x7 << 8
	PMCR0IModeOff  uint64 = 0 << 8
	PMCR0IModeFIQ  uint64 = 4 << 8
	PMCR0IAct      uint64 = 1 << 11
)

// Uncore PMC control and status fields.
const (
	UPMCR0IModeMask uint64 = 0x7 << 16
	UPMCR0IModeOff  uint64 = 0 << 16
	UPMCR0IModeFIQ  uint64 = 4 << 16
	UPMSRIAct       uint64 = 1 << 0
)

// Fast IPI status.
const IPISRPending uint64 = 1 << 0

// Guest timer FIQ enables. A set bit lets the FIQ through; masking a guest
// timer means clearing its bit.
const (
	VMTimerMaskVirt uint64 = 1 << 0
	VMTimerMaskPhys uint64 = 1 << 1
)

// Virtual GIC interface control.
const ICHHCREnable uint64 = 1 << 0

// Top-level exception status bits.
const (
	ISRFIQ uint64 = 1 << 6
	ISRIRQ uint64 = 1 << 7
)

// File is one core's view of the system registers.
type File interface {
	Read(r Reg) uint64
	Write(r Reg, v uint64)
}

// Bank hands out the per-core register files of a machine.
type Bank interface {
	CPU(cpu int) File
}

// BankFunc adapts a function to a Bank.
type BankFunc func(cpu int) File

func (f BankFunc) CPU(cpu int) File { return f(cpu) }

// ClearSet clears then sets bits in a register.
func ClearSet(f File, r Reg, clear, set uint64) {
	v := f.Read(r)
	f.Write(r, v&^clear|set)
}

package driver

import (
	"github.com/tinyrange/aic/internal/irq"
	"github.com/tinyrange/aic/internal/sysreg"
)

// fiqChip operates the FIQ sources, numbered sysreg.TimerHVPhys through
// sysreg.TimerGuestVirt and appended after the wired lines in the main
// domain. Only the guest timers have real mask bits; the hypervisor
// timers are quieted through their own control registers by whoever
// owns them, so mask and unmask are no-ops there.
type fiqChip struct {
	c *Controller
}

func (ch fiqChip) Name() string { return "AIC-FIQ" }

func (ch fiqChip) Mask(cpu int, d *irq.Desc) {
	sys := ch.c.sys.CPU(cpu)
	switch int(d.Hwirq() - ch.c.nrHW) {
	case sysreg.TimerGuestPhys:
		sysreg.ClearSet(sys, sysreg.VMTimerMask, sysreg.VMTimerMaskPhys, 0)
	case sysreg.TimerGuestVirt:
		sysreg.ClearSet(sys, sysreg.VMTimerMask, sysreg.VMTimerMaskVirt, 0)
	}
}

func (ch fiqChip) Unmask(cpu int, d *irq.Desc) {
	sys := ch.c.sys.CPU(cpu)
	switch int(d.Hwirq() - ch.c.nrHW) {
	case sysreg.TimerGuestPhys:
		sysreg.ClearSet(sys, sysreg.VMTimerMask, 0, sysreg.VMTimerMaskPhys)
	case sysreg.TimerGuestVirt:
		sysreg.ClearSet(sys, sysreg.VMTimerMask, 0, sysreg.VMTimerMaskVirt)
	}
}

// Ack masks where a mask bit exists; the sources themselves stay
// asserted until their consumer reprograms them.
func (ch fiqChip) Ack(cpu int, d *irq.Desc) {
	ch.Mask(cpu, d)
}

func (ch fiqChip) EOI(cpu int, d *irq.Desc) {
	if !d.Disabled(cpu) && !d.Masked(cpu) {
		ch.Unmask(cpu, d)
	}
}

var (
	_ irq.Chip      = fiqChip{}
	_ irq.Acker     = fiqChip{}
	_ irq.Completer = fiqChip{}
)

// fiqCheck tests and services one possible FIQ source.
type fiqCheck func(c *Controller, cpu int, sys sysreg.File)

// The hardware has no register reporting which FIQ source fired, so
// delivery tests every source in a fixed order. Skipping one risks a
// FIQ storm, which is why the sources nothing consumes yet are still
// checked and quieted.
var fiqChecks = []fiqCheck{
	checkFastIPI,
	timerCheck(sysreg.TimerHVPhys),
	timerCheck(sysreg.TimerHVVirt),
	timerCheck(sysreg.TimerGuestPhys),
	timerCheck(sysreg.TimerGuestVirt),
	checkCorePMC,
	checkUncorePMC,
}

func (c *Controller) handleFIQ(cpu int) {
	c.stats.fiqPolls.Add(1)
	sys := c.sys.CPU(cpu)
	for _, check := range fiqChecks {
		check(c, cpu, sys)
	}
}

// checkFastIPI acks a pending fast IPI. Nothing routes these yet, so
// delivery degrades to an ack and a warning instead of a storm.
func checkFastIPI(c *Controller, cpu int, sys sysreg.File) {
	if sys.Read(sysreg.IPISR)&sysreg.IPISRPending != 0 {
		c.log.Warn("aic: fast IPI fired, acking", "cpu", cpu)
		sys.Write(sysreg.IPISR, sysreg.IPISRPending)
		c.stats.fastIPIAcks.Add(1)
	}
}

// timerCheck dispatches timer source idx when its control register
// shows an enabled, unmasked, asserted condition.
func timerCheck(idx int) fiqCheck {
	return func(c *Controller, cpu int, sys sysreg.File) {
		if !sysreg.TimerFiring(sys.Read(sysreg.TimerCtl(idx))) {
			return
		}
		c.stats.timerFIQs.Add(1)
		if !c.hwDomain.Dispatch(cpu, c.nrHW+uint32(idx)) {
			c.stats.spurious.Add(1)
			c.log.Error("aic: timer FIQ with no mapping", "timer", idx, "cpu", cpu)
		}
	}
}

// checkCorePMC masks a performance counter FIQ at the source; the
// counters have no consumer.
func checkCorePMC(c *Controller, cpu int, sys sysreg.File) {
	v := sys.Read(sysreg.PMCR0)
	if v&(sysreg.PMCR0IModeMask|sysreg.PMCR0IAct) == sysreg.PMCR0IModeFIQ|sysreg.PMCR0IAct {
		c.log.Warn("aic: PMC FIQ fired, masking", "cpu", cpu)
		sysreg.ClearSet(sys, sysreg.PMCR0, sysreg.PMCR0IModeMask|sysreg.PMCR0IAct, sysreg.PMCR0IModeOff)
		c.stats.pmcMasks.Add(1)
	}
}

func checkUncorePMC(c *Controller, cpu int, sys sysreg.File) {
	if sys.Read(sysreg.UPMCR0)&sysreg.UPMCR0IModeMask != sysreg.UPMCR0IModeFIQ {
		return
	}
	if sys.Read(sysreg.UPMSR)&sysreg.UPMSRIAct != 0 {
		c.log.Warn("aic: uncore PMC FIQ fired, masking", "cpu", cpu)
		sysreg.ClearSet(sys, sysreg.UPMCR0, sysreg.UPMCR0IModeMask, sysreg.UPMCR0IModeOff)
		c.stats.pmcMasks.Add(1)
	}
}

package driver

import (
	"github.com/tinyrange/aic/internal/regs"
	"github.com/tinyrange/aic/internal/sysreg"
)

// HandleExceptions is the exception entry for cpu. FIQ sources are
// polled first, matching the interrupt status register's priority, then
// the event register is drained.
func (c *Controller) HandleExceptions(cpu int) {
	isr := c.sys.CPU(cpu).Read(sysreg.ISR)
	if isr&sysreg.ISRFIQ != 0 {
		c.handleFIQ(cpu)
	}
	if isr&sysreg.ISRIRQ != 0 {
		c.handleIRQ(cpu)
	}
}

// handleIRQ drains the event register until it reads zero. Each read
// acknowledges and masks the line it reports, and is ordered before any
// handler touches the line's device.
func (c *Controller) handleIRQ(cpu int) {
	for {
		event := c.io.ReadEvent32(cpu, regs.Event)
		if event == 0 {
			break
		}
		c.stats.events.Add(1)

		typ, num := regs.EventType(event), regs.EventNum(event)
		switch {
		case typ == regs.EventTypeHW:
			if c.hwDomain.Dispatch(cpu, num) {
				c.stats.hw.Add(1)
			} else {
				c.stats.spurious.Add(1)
				c.log.Error("aic: event for unmapped line", "line", num, "cpu", cpu)
			}
		case typ == regs.EventTypeIPI && num == regs.EventIPIOther:
			c.handleIPI(cpu)
		default:
			c.stats.spurious.Add(1)
			c.log.Error("aic: unknown event", "type", typ, "num", num, "cpu", cpu)
		}
	}

	// A maintenance interrupt from the vGIC interface arrives with no
	// event of its own. Report it and switch the interface off so it
	// cannot wedge the CPU.
	sys := c.sys.CPU(cpu)
	if sys.Read(sysreg.ICHHCR)&sysreg.ICHHCREnable != 0 && sys.Read(sysreg.ICHMISR) != 0 {
		c.log.Error("aic: vGIC maintenance interrupt fired, disabling", "cpu", cpu)
		sysreg.ClearSet(sys, sysreg.ICHHCR, sysreg.ICHHCREnable, 0)
		c.stats.vgicOffs.Add(1)
	}
}

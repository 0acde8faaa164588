package driver

import (
	"fmt"

	"github.com/tinyrange/aic/internal/irq"
	"github.com/tinyrange/aic/internal/regs"
)

// hwChip operates the mask and routing registers of the wired interrupt
// lines.
type hwChip struct {
	c *Controller
}

func (ch hwChip) Name() string { return "AIC" }

func (ch hwChip) Mask(cpu int, d *irq.Desc) {
	ch.c.masks.SetBit(cpu, d.Hwirq())
}

func (ch hwChip) Unmask(cpu int, d *irq.Desc) {
	ch.c.masks.ClearBit(cpu, d.Hwirq())
}

// EOI re-arms the line after a dispatch. The event read already acked
// and masked it, so completion is just an unmask, skipped when the line
// got masked or disabled in the meantime.
func (ch hwChip) EOI(cpu int, d *irq.Desc) {
	if !d.Disabled(cpu) && !d.Masked(cpu) {
		ch.Unmask(cpu, d)
	}
}

// SetAffinity routes the line to a single CPU out of mask. Without
// force the choice is restricted to online CPUs.
func (ch hwChip) SetAffinity(d *irq.Desc, mask irq.CPUMask, force bool) error {
	hwirq := d.Hwirq()
	if hwirq >= ch.c.nrHW {
		return fmt.Errorf("aic: line %d cannot be routed", hwirq)
	}

	var cpu int
	if force {
		cpu = mask.First()
	} else {
		cpu = mask.And(ch.c.hp.Online()).First()
	}
	if cpu < 0 || cpu >= ch.c.ncpu {
		return fmt.Errorf("aic: no usable CPU in %v for line %d", mask, hwirq)
	}

	ch.c.io.Write32(regs.AnyCPU, regs.TargetCPU+4*hwirq, uint32(1)<<uint(cpu))
	d.SetEffectiveAffinity(irq.MaskOf(cpu))
	return nil
}

var (
	_ irq.Chip         = hwChip{}
	_ irq.Completer    = hwChip{}
	_ irq.AffinityChip = hwChip{}
)

package driver

import (
	"math/bits"

	"gvisor.dev/gvisor/pkg/atomicbitops"

	"github.com/tinyrange/aic/internal/irq"
	"github.com/tinyrange/aic/internal/regs"
)

// ipiChip multiplexes 32 logical IPI channels over the single physical
// cross-CPU interrupt, using the pair of atomic words each CPU carries
// in Controller.vipi. Senders OR a flag bit into the target's word and
// fire the physical IPI; the receiver exchanges its word for zero and
// dispatches every bit it got.
type ipiChip struct {
	c *Controller
}

func (ch ipiChip) Name() string { return "AIC-IPI" }

// Mask withdraws the channel on cpu. The physical interrupt is masked
// only once no channel remains wanted, so the other channels keep
// flowing.
func (ch ipiChip) Mask(cpu int, d *irq.Desc) {
	bit := uint32(1) << d.Hwirq()
	atomicbitops.AndUint32(&ch.c.vipi[cpu].mask, ^bit)
	if ch.c.vipi[cpu].mask.Load() == 0 {
		ch.c.ipiMask.Set(cpu, regs.IPIOther)
	}
}

// Unmask offers the channel on cpu. The physical unmask is
// unconditional: the event read masks the physical interrupt on every
// delivery, so a software unmask must always re-arm it.
func (ch ipiChip) Unmask(cpu int, d *irq.Desc) {
	bit := uint32(1) << d.Hwirq()
	atomicbitops.OrUint32(&ch.c.vipi[cpu].mask, bit)
	ch.c.ipiMask.Clear(cpu, regs.IPIOther)
}

// SendMask posts the channel to every target that currently accepts it
// and fires one physical IPI covering all of them. The flag bit is
// published before the send-register write, and the OR is a full
// barrier, so everything the sender stored beforehand is visible to a
// receiver that observes the flag.
func (ch ipiChip) SendMask(cpu int, d *irq.Desc, targets irq.CPUMask) {
	bit := uint32(1) << d.Hwirq()
	var send uint32

	targets.ForEach(func(t int) {
		if t >= ch.c.ncpu {
			return
		}
		if ch.c.vipi[t].mask.Load()&bit != 0 {
			atomicbitops.OrUint32(&ch.c.vipi[t].flag, bit)
			send |= regs.SendCPU(t)
		}
	})

	if send != 0 {
		ch.c.io.Write32(cpu, regs.IPISend, send)
		ch.c.stats.ipiSent.Add(1)
	}
}

var (
	_ irq.Chip    = ipiChip{}
	_ irq.IPIChip = ipiChip{}
)

// handleIPI drains this CPU's posted channels after a physical IPI
// event. The event read already masked the physical interrupt; it is
// acked here, the flag word exchanged for zero, and the physical mask
// cleared only after every posted channel ran, so a channel posted
// mid-drain raises a fresh interrupt instead of getting lost.
func (c *Controller) handleIPI(cpu int) {
	c.io.Write32(cpu, regs.IPIAck, regs.IPIOther)

	// Swap is a full barrier: it cannot observe flag bits from before
	// the ack, and the dispatches below cannot start before the
	// exchange.
	firing := c.vipi[cpu].flag.Swap(0)

	for w := firing; w != 0; w &= w - 1 {
		ch := uint32(bits.TrailingZeros32(w))
		if c.ipiDomain.Dispatch(cpu, ch) {
			c.stats.ipiRecv.Add(1)
		} else {
			c.stats.spurious.Add(1)
			c.log.Error("aic: IPI for unmapped channel", "channel", ch, "cpu", cpu)
		}
	}

	c.ipiMask.Clear(cpu, regs.IPIOther)
}

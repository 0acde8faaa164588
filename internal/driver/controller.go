// Package driver implements the interrupt-controller core: per-line
// masking and routing for the wired interrupts, the polled FIQ sources,
// and the virtual IPI multiplexer, all hanging off one Controller
// instance per register block.
package driver

import (
	"fmt"
	"log/slog"

	"gvisor.dev/gvisor/pkg/atomicbitops"

	"github.com/tinyrange/aic/internal/irq"
	"github.com/tinyrange/aic/internal/regs"
	"github.com/tinyrange/aic/internal/sysreg"
)

// Interrupt specifier classes (first cell).
const (
	SpecIRQ uint32 = 0
	SpecFIQ uint32 = 1
	SpecIPI uint32 = 2
)

// Config carries everything a Controller needs from its platform.
type Config struct {
	// IO is the controller register block.
	IO regs.IO
	// Sys provides each CPU's system register file.
	Sys sysreg.Bank
	// CPUs is the number of logical CPUs the machine carries.
	CPUs int
	// Hotplug is the CPU lifecycle registrar. When nil the controller
	// creates its own, reachable through Hotplug().
	Hotplug *irq.Hotplug
	// Log is the diagnostics sink; slog.Default() when nil.
	Log *slog.Logger
}

// vipiWords is one CPU's share of the virtual IPI multiplexer: mask
// carries the channels the CPU accepts, flag the channels posted to it.
type vipiWords struct {
	flag atomicbitops.Uint32
	mask atomicbitops.Uint32
}

type stats struct {
	events      atomicbitops.Uint64
	hw          atomicbitops.Uint64
	spurious    atomicbitops.Uint64
	ipiSent     atomicbitops.Uint64
	ipiRecv     atomicbitops.Uint64
	fiqPolls    atomicbitops.Uint64
	timerFIQs   atomicbitops.Uint64
	fastIPIAcks atomicbitops.Uint64
	pmcMasks    atomicbitops.Uint64
	vgicOffs    atomicbitops.Uint64
}

// Stats is a point-in-time snapshot of controller activity.
type Stats struct {
	Events       uint64 // events drained from the event register
	HW           uint64 // hardware line dispatches
	Spurious     uint64 // events nothing claimed
	IPISent      uint64 // physical IPI send-register writes
	IPIReceived  uint64 // IPI channels dispatched
	FIQPolls     uint64 // full FIQ source sweeps
	TimerFIQs    uint64 // timer sources found firing
	FastIPIAcks  uint64 // fast IPIs acked without a consumer
	PMCMasks     uint64 // performance counter FIQs masked at the source
	VGICDisables uint64 // vGIC interfaces switched off
}

// Controller drives one interrupt controller instance. All entry points
// are methods; nothing is process-global, so multiple controllers can
// coexist, one per machine.
type Controller struct {
	io   regs.IO
	sys  sysreg.Bank
	log  *slog.Logger
	hp   *irq.Hotplug
	ncpu int
	nrHW uint32

	hwDomain  *irq.Domain
	ipiDomain *irq.Domain

	masks   regs.SetClearArray
	sw      regs.SetClearArray
	ipiMask regs.SetClearReg

	vipi [regs.MaxCPUs]vipiWords

	stats stats
}

// New probes the controller behind cfg.IO and returns a ready instance:
// line count read from the info register, domains built, every line
// masked and routed to CPU 0, and the per-CPU startup callback
// registered. On error nothing is left half-activated.
func New(cfg Config) (*Controller, error) {
	if cfg.IO == nil {
		return nil, fmt.Errorf("aic: config needs a register block")
	}
	if cfg.Sys == nil {
		return nil, fmt.Errorf("aic: config needs system register files")
	}
	if cfg.CPUs < 1 || cfg.CPUs > regs.MaxCPUs {
		return nil, fmt.Errorf("aic: %d CPUs out of range (1..%d)", cfg.CPUs, regs.MaxCPUs)
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	hp := cfg.Hotplug
	if hp == nil {
		hp = irq.NewHotplug()
	}

	c := &Controller{
		io:   cfg.IO,
		sys:  cfg.Sys,
		log:  log,
		hp:   hp,
		ncpu: cfg.CPUs,
	}
	c.nrHW = c.io.Read32(regs.AnyCPU, regs.Info) & regs.InfoNRHW
	c.masks = regs.NewSetClearArray(c.io, regs.MaskSet, regs.MaskClr, c.nrHW)
	c.sw = regs.NewSetClearArray(c.io, regs.SWSet, regs.SWClr, c.nrHW)
	c.ipiMask = regs.NewSetClearReg(c.io, regs.IPIMaskSet, regs.IPIMaskClr)

	alloc := irq.NewAllocator(1, nil)
	c.hwDomain = irq.NewLinear("aic", c.nrHW+regs.NumFIQ, alloc, c.mapHW)
	c.ipiDomain = irq.NewLinear("aic-ipi", regs.NumIPI, alloc, c.mapIPI)

	// Start quiet: everything masked, no stale software triggers, and
	// every line routed to CPU 0.
	c.masks.SetAll(regs.AnyCPU)
	c.sw.ClearAll(regs.AnyCPU)
	for i := uint32(0); i < c.nrHW; i++ {
		c.io.Write32(regs.AnyCPU, regs.TargetCPU+4*i, 1)
	}

	if err := hp.RegisterStarting("aic", c.initCPU); err != nil {
		return nil, err
	}

	c.log.Info("aic: initialized", "irqs", c.nrHW, "fiqs", regs.NumFIQ, "vipis", regs.NumIPI)
	return c, nil
}

func (c *Controller) mapHW(hwirq uint32) irq.MapInfo {
	if hwirq < c.nrHW {
		return irq.MapInfo{Chip: hwChip{c}, Flow: irq.HandleFastEOI, Level: true}
	}
	return irq.MapInfo{Chip: fiqChip{c}, Flow: irq.HandlePercpu, Percpu: true, Level: true}
}

func (c *Controller) mapIPI(hwirq uint32) irq.MapInfo {
	return irq.MapInfo{Chip: ipiChip{c}, Flow: irq.HandlePercpu, Percpu: true}
}

// NumHW returns the number of wired interrupt lines the hardware reports.
func (c *Controller) NumHW() uint32 { return c.nrHW }

// CPUs returns the number of logical CPUs the controller serves.
func (c *Controller) CPUs() int { return c.ncpu }

// HWDomain returns the domain covering wired lines and FIQ sources.
func (c *Controller) HWDomain() *irq.Domain { return c.hwDomain }

// IPIDomain returns the domain covering the 32 IPI channels.
func (c *Controller) IPIDomain() *irq.Domain { return c.ipiDomain }

// Hotplug returns the CPU lifecycle registrar the controller is wired to.
func (c *Controller) Hotplug() *irq.Hotplug { return c.hp }

func (c *Controller) String() string {
	return fmt.Sprintf("AIC(%d IRQs, %d CPUs)", c.nrHW, c.ncpu)
}

// TranslateSpec resolves a 3-cell interrupt specifier (class, number,
// sense) to its domain, hwirq and trigger sense.
func (c *Controller) TranslateSpec(class, num, sense uint32) (*irq.Domain, uint32, uint32, error) {
	switch {
	case class == SpecIRQ && num < c.nrHW:
		return c.hwDomain, num, sense & irq.SenseMask, nil
	case class == SpecFIQ && num < regs.NumFIQ:
		return c.hwDomain, c.nrHW + num, sense & irq.SenseMask, nil
	case class == SpecIPI && num < regs.NumIPI:
		return c.ipiDomain, num, sense & irq.SenseMask, nil
	}
	return nil, 0, 0, fmt.Errorf("aic: bad interrupt specifier %d,%d,%d", class, num, sense)
}

// MapSpec translates a specifier and maps it in one step.
func (c *Controller) MapSpec(class, num, sense uint32) (*irq.Desc, error) {
	dom, hwirq, _, err := c.TranslateSpec(class, num, sense)
	if err != nil {
		return nil, err
	}
	return dom.Map(hwirq)
}

// SendIPI raises channel ch on every CPU in targets. cpu is the sending
// core.
func (c *Controller) SendIPI(cpu int, ch uint32, targets irq.CPUMask) error {
	d := c.ipiDomain.Lookup(ch)
	if d == nil {
		return fmt.Errorf("aic: IPI channel %d is not mapped", ch)
	}
	return d.Send(cpu, targets)
}

// SWTrigger raises line through the software set register, as if the
// wired source had asserted it. SWClear drops a raise that has not been
// delivered yet.
func (c *Controller) SWTrigger(line uint32) error {
	if line >= c.nrHW {
		return fmt.Errorf("aic: line %d out of range for software trigger", line)
	}
	c.sw.SetBit(regs.AnyCPU, line)
	return nil
}

// SWClear retracts a software trigger on line.
func (c *Controller) SWClear(line uint32) error {
	if line >= c.nrHW {
		return fmt.Errorf("aic: line %d out of range for software trigger", line)
	}
	c.sw.ClearBit(regs.AnyCPU, line)
	return nil
}

// Stats returns a snapshot of controller activity.
func (c *Controller) Stats() Stats {
	return Stats{
		Events:       c.stats.events.Load(),
		HW:           c.stats.hw.Load(),
		Spurious:     c.stats.spurious.Load(),
		IPISent:      c.stats.ipiSent.Load(),
		IPIReceived:  c.stats.ipiRecv.Load(),
		FIQPolls:     c.stats.fiqPolls.Load(),
		TimerFIQs:    c.stats.timerFIQs.Load(),
		FastIPIAcks:  c.stats.fastIPIAcks.Load(),
		PMCMasks:     c.stats.pmcMasks.Load(),
		VGICDisables: c.stats.vgicOffs.Load(),
	}
}

// initCPU masks every hard-wired per-CPU interrupt source and checks that
// the register block agrees about this core's identity. It runs as each
// CPU comes online.
func (c *Controller) initCPU(cpu int) error {
	sys := c.sys.CPU(cpu)

	// vGIC maintenance interrupts off.
	sysreg.ClearSet(sys, sysreg.ICHHCR, sysreg.ICHHCREnable, 0)

	// Drop any pending fast IPI.
	sys.Write(sysreg.IPISR, sysreg.IPISRPending)

	// Mask all four timers.
	for i := 0; i < regs.NumFIQ; i++ {
		sysreg.ClearSet(sys, sysreg.TimerCtl(i), 0, sysreg.TimerIMask)
	}

	// Performance counter FIQs off.
	sysreg.ClearSet(sys, sysreg.PMCR0, sysreg.PMCR0IModeMask|sysreg.PMCR0IAct, sysreg.PMCR0IModeOff)
	sysreg.ClearSet(sys, sysreg.UPMCR0, sysreg.UPMCR0IModeMask, sysreg.UPMCR0IModeOff)

	// The logical CPU numbering and the controller's must agree, or
	// every banked access on this core touches someone else's state.
	if who := c.io.Read32(cpu, regs.Whoami); who != uint32(cpu) {
		panic(fmt.Sprintf("aic: register block reports CPU %d, logical CPU is %d", who, cpu))
	}
	return nil
}

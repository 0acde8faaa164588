//go:build ignore

// This file demonstrates every public API in the aic package.
// It is excluded from the build and serves as a reference and compile-time check.

package main

import (
	"fmt"
	"log/slog"
	"os"

	aic "github.com/tinyrange/aic"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// =========================================================================
	// NewMachine - register-accurate simulated controller
	// =========================================================================
	m, err := aic.NewMachine(aic.MachineConfig{
		CPUs: 4,
		NRHW: 0, // 0 = aic.DefaultNRHW wired lines
	})
	if err != nil {
		return fmt.Errorf("new machine: %w", err)
	}

	_ = m.CPUs()  // simulated core count
	_ = m.NumHW() // wired line count
	_ = m.String()

	// Machine implements aic.IO: raw register access, tagged with the
	// accessing CPU. Read32 on the event register is a side-effect-free
	// peek; only ReadEvent32 pops (acks and masks) the event.
	_ = m.Read32(0, 0x0004)      // info register
	_ = m.ReadEvent32(0, 0x2004) // event register, destructive
	m.Write32(0, 0x4100, 0)      // mask-set word 0

	// Machine implements aic.SysBank: per-core system register files.
	sys := m.CPU(0)
	_ = sys.Read(aic.SysReg(0)) // CNTP_CTL_EL0
	sys.Write(aic.SysReg(0), 0)

	// =========================================================================
	// Hotplug - CPU lifecycle registrar
	// =========================================================================
	hp := aic.NewHotplug()

	// Per-CPU setup callbacks run on CPUStarting, and replay immediately
	// for CPUs that were already online when registered.
	_ = hp.RegisterStarting("demo", func(cpu int) error { return nil })

	_ = hp.CPUStarting(0) // bring CPU 0 online
	_ = hp.CPUStarting(1)
	hp.CPUDying(1)  // take CPU 1 offline
	_ = hp.Online() // CPUMask of online CPUs

	// =========================================================================
	// New - probe a controller over an IO block and a SysBank
	// =========================================================================
	// IO is the register block, real or simulated; Sys the per-CPU system
	// registers. Hotplug and Log are optional, New defaults them.
	c, err := aic.New(aic.Config{
		IO:      m,
		Sys:     m,
		CPUs:    m.CPUs(),
		Hotplug: hp,
		Log:     slog.New(slog.NewTextHandler(os.Stderr, nil)),
	})
	if err != nil {
		return fmt.Errorf("new controller: %w", err)
	}

	// Controller accessors
	_ = c.NumHW()     // wired lines the hardware reports
	_ = c.CPUs()      // logical CPUs served
	_ = c.HWDomain()  // domain of wired lines + FIQ sources
	_ = c.IPIDomain() // domain of the 32 IPI channels
	_ = c.Hotplug()   // the registrar the controller wired itself to
	_ = c.String()

	// =========================================================================
	// Interrupt specifiers - the 3-cell (class, number, sense) form
	// =========================================================================

	// Specifier classes
	_ = aic.SpecIRQ // wired line
	_ = aic.SpecFIQ // per-CPU FIQ source
	_ = aic.SpecIPI // virtual IPI channel

	// Trigger senses
	_ = aic.SenseEdgeRising
	_ = aic.SenseEdgeFalling
	_ = aic.SenseLevelHigh
	_ = aic.SenseLevelLow

	// FIQ source numbers (second cell of a SpecFIQ specifier)
	_ = aic.TimerHVPhys
	_ = aic.TimerHVVirt
	_ = aic.TimerGuestPhys
	_ = aic.TimerGuestVirt

	// TranslateSpec - resolve a specifier without mapping it
	dom, hwirq, sense, err := c.TranslateSpec(aic.SpecIRQ, 42, aic.SenseLevelHigh)
	if err != nil {
		return fmt.Errorf("translate: %w", err)
	}
	_, _, _ = dom, hwirq, sense

	// MapSpec - translate and map in one step
	d, err := c.MapSpec(aic.SpecIRQ, 42, aic.SenseLevelHigh)
	if err != nil {
		return fmt.Errorf("map: %w", err)
	}

	// =========================================================================
	// Desc - one interrupt's dispatch state
	// =========================================================================

	// Handler registration
	d.SetHandler(func(cpu int, d *aic.Desc) {
		// runs at dispatch time, on the delivering CPU
	})
	_ = d.Handler()

	// Identity
	_ = d.Virq()   // virtual number, unique across the controller
	_ = d.Hwirq()  // hardware number within the domain
	_ = d.Domain() // owning domain
	_ = d.Chip()   // the chip operations behind this interrupt
	_ = d.Percpu() // banked per CPU?
	_ = d.Level()  // level-triggered?
	_ = d.String()

	// Lifecycle. cpu selects whose banked state to touch for per-CPU
	// interrupts; wired lines ignore it.
	d.Enable(0)
	_ = d.Disabled(0)
	d.Mask(0)
	_ = d.Masked(0)
	d.Unmask(0)
	d.Disable(0)
	d.Enable(0)

	_ = d.Count() // deliveries so far

	// Affinity (wired lines only). force skips the online filter.
	if err := d.SetAffinity(aic.MaskOf(1, 2), false); err != nil {
		return fmt.Errorf("affinity: %w", err)
	}
	_ = d.EffectiveAffinity() // the single CPU actually chosen

	// =========================================================================
	// Delivery - stimulus in, HandleExceptions out
	// =========================================================================

	// Wired line: latch it, then run the delivering CPU's exception path.
	m.RaiseHW(42)
	target := d.EffectiveAffinity().First()
	for m.PendingIRQ(target) || m.PendingFIQ(target) {
		c.HandleExceptions(target)
	}
	m.LowerHW(42) // drop the level source

	// Simulator inspection helpers
	_ = m.LinePending(42)
	_ = m.LineMasked(42)
	_ = m.LineTarget(42) // routing word, BIT(cpu)

	// Software trigger: raise a wired line from software.
	_ = c.SWTrigger(42)
	_ = c.SWClear(42) // retract before delivery

	// Timer FIQ: map the source, arm the simulated timer, deliver.
	td, _ := c.MapSpec(aic.SpecFIQ, aic.TimerGuestVirt, aic.SenseLevelHigh)
	td.SetHandler(func(cpu int, d *aic.Desc) {})
	td.Enable(2)
	m.ArmTimer(2, aic.TimerGuestVirt)
	m.FireTimer(2, aic.TimerGuestVirt)
	c.HandleExceptions(2)
	m.ClearTimer(2, aic.TimerGuestVirt)

	// Other FIQ stimulus
	m.SetFastIPIPending(0)     // stray fast IPI, acked and counted
	m.SetPMCActive(0)          // core PMC FIQ, masked at the source
	m.SetUncorePMCActive(0)    // uncore PMC FIQ, masked at the source
	m.SetVGICMaintenance(0, 1) // vGIC maintenance, interface disabled
	c.HandleExceptions(0)

	// =========================================================================
	// IPI channels - 32 virtual channels over one hardware IPI
	// =========================================================================
	ipi, err := c.MapSpec(aic.SpecIPI, 3, 0)
	if err != nil {
		return fmt.Errorf("map ipi: %w", err)
	}
	ipi.SetHandler(func(cpu int, d *aic.Desc) {})
	ipi.Enable(0)
	ipi.Enable(1)

	// Send from CPU 0 to CPU 1 and to itself in one call.
	if err := c.SendIPI(0, 3, aic.MaskOf(0, 1)); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	c.HandleExceptions(0)
	c.HandleExceptions(1)

	// Desc.Send is the domain-level equivalent of Controller.SendIPI.
	_ = ipi.Send(0, aic.MaskOf(1))
	c.HandleExceptions(1)

	// =========================================================================
	// Domain - hwirq to Desc resolution
	// =========================================================================
	hw := c.HWDomain()
	_ = hw.Name()
	_ = hw.Size()          // wired lines + FIQ sources
	_ = hw.Lookup(42)      // nil when unmapped
	_, _ = hw.Map(43)      // idempotent: second Map returns the same Desc
	_ = hw.Dispatch(0, 42) // false when unmapped or unhandled
	_ = hw.Unhandled()     // deliveries that found no handler

	// =========================================================================
	// CPUMask
	// =========================================================================
	mask := aic.MaskOf(0, 2, 3)
	_ = mask.Has(2)
	_ = mask.Empty()
	_ = mask.Count()
	_ = mask.And(aic.MaskOf(2))
	_ = mask.First() // lowest set CPU, -1 when empty
	mask.ForEach(func(cpu int) {})
	_ = mask.String()

	// =========================================================================
	// Stats - dispatch counters
	// =========================================================================
	st := c.Stats()
	_ = st.Events       // events drained from the event register
	_ = st.HW           // wired-line dispatches
	_ = st.Spurious     // events nobody claimed
	_ = st.IPISent      // hardware IPI sends
	_ = st.IPIReceived  // hardware IPI receptions
	_ = st.FIQPolls     // FIQ exception entries
	_ = st.TimerFIQs    // timer sources seen firing
	_ = st.FastIPIAcks  // stray fast IPIs acked
	_ = st.PMCMasks     // PMC sources masked at the source
	_ = st.VGICDisables // vGIC maintenance shutoffs

	// =========================================================================
	// Device tree - describe the controller to a kernel
	// =========================================================================
	node := m.DeviceTree(0x23b100000)
	dtb, err := aic.BuildFDT(aic.FDTNode{
		Name:     "", // root node
		Children: []aic.FDTNode{node},
	})
	if err != nil {
		return fmt.Errorf("build fdt: %w", err)
	}
	_ = dtb

	// =========================================================================
	// Geometry constants
	// =========================================================================
	_ = aic.NumFIQ      // per-CPU FIQ sources
	_ = aic.NumIPI      // virtual IPI channels
	_ = aic.MaxCPUs     // cores the register layout can address
	_ = aic.DefaultNRHW // simulated wired lines by default
	_ = aic.AnyCPU      // IO tag for registers that are not banked

	// =========================================================================
	// Real hardware (Linux) - map the register block through /dev/mem
	// =========================================================================
	// blk, err := aic.MapRegisters(0x23b100000, 0x8000)
	// if err != nil { ... }
	// defer blk.Close()
	// c, err := aic.New(aic.Config{IO: blk, Sys: hwSysregs{}, CPUs: ncpu})

	// =========================================================================
	// Type aliases (for reference)
	// =========================================================================
	var (
		_ *aic.Controller   // probed controller
		_ aic.Config        // controller resources
		_ aic.Stats         // counter snapshot
		_ aic.IO            // 32-bit register access
		_ aic.SysReg        // system register name
		_ aic.SysFile       // one core's system registers
		_ aic.SysBank       // per-core register files
		_ aic.SysBankFunc   // func adapter for SysBank
		_ *aic.Domain       // hwirq to Desc mapping
		_ *aic.Desc         // one interrupt's state
		_ aic.Handler       // dispatch callback
		_ aic.Chip          // mask/unmask operations
		_ aic.Virq          // virtual interrupt number
		_ aic.CPUMask       // set of CPUs
		_ *aic.Hotplug      // CPU lifecycle registrar
		_ *aic.Machine      // simulated controller
		_ aic.MachineConfig // machine sizing
		_ aic.FDTNode       // device tree node
		_ aic.FDTProperty   // device tree property
	)

	return nil
}

// Compile-time interface checks
var (
	_ aic.IO      = (*aic.Machine)(nil)
	_ aic.SysBank = (*aic.Machine)(nil)
	_ aic.SysBank = (aic.SysBankFunc)(nil)
)

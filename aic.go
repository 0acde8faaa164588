// Package aic drives the two-level interrupt controller found in Apple
// silicon machines. A Controller owns the memory-mapped distributor and the
// per-CPU FIQ sources layered over system registers, routes wired lines and
// virtual IPI channels through interrupt domains to registered handlers, and
// runs the exception-time dispatch loop. A register-accurate simulated
// Machine stands in for hardware during tests and bringup.
package aic

import (
	"github.com/tinyrange/aic/internal/driver"
	"github.com/tinyrange/aic/internal/fdt"
	"github.com/tinyrange/aic/internal/irq"
	"github.com/tinyrange/aic/internal/regs"
	"github.com/tinyrange/aic/internal/sim"
	"github.com/tinyrange/aic/internal/sysreg"
)

// -----------------------------------------------------------------------------
// Type Aliases - These re-export types from the internal packages
// -----------------------------------------------------------------------------

// Controller is one probed interrupt controller.
type Controller = driver.Controller

// Config carries the resources a Controller is built over.
type Config = driver.Config

// Stats is a snapshot of a Controller's dispatch counters.
type Stats = driver.Stats

// IO is 32-bit access to the controller's register block, tagged with the
// accessing CPU so banked registers read correctly.
type IO = regs.IO

// SysReg names one of the per-CPU system registers the FIQ paths touch.
type SysReg = sysreg.Reg

// SysFile is one core's view of its system registers.
type SysFile = sysreg.File

// SysBank hands out the per-core system register files of a machine.
type SysBank = sysreg.Bank

// SysBankFunc adapts a function to a SysBank.
type SysBankFunc = sysreg.BankFunc

// Domain maps a range of hardware interrupt numbers onto descriptors.
type Domain = irq.Domain

// Desc is the dispatch state of one interrupt.
type Desc = irq.Desc

// Handler consumes one delivered interrupt.
type Handler = irq.Handler

// Chip is the controller-facing side of a Desc: mask, unmask, and the
// optional ack/eoi/affinity/send extensions discovered by type assertion.
type Chip = irq.Chip

// Virq is a virtual interrupt number, unique across a Controller's domains.
type Virq = irq.Virq

// CPUMask is a set of CPU numbers.
type CPUMask = irq.CPUMask

// Hotplug tracks which CPUs are online and replays per-CPU setup onto
// cores that come up later.
type Hotplug = irq.Hotplug

// Machine is a simulated controller plus per-core system registers. It
// satisfies both IO and SysBank, so it can back a Controller directly.
type Machine = sim.Machine

// MachineConfig sizes a simulated Machine.
type MachineConfig = sim.Config

// FDTNode is a device tree node.
type FDTNode = fdt.Node

// FDTProperty is a device tree property.
type FDTProperty = fdt.Property

// Interrupt specifier classes, the first cell of a three-cell specifier.
const (
	SpecIRQ = driver.SpecIRQ
	SpecFIQ = driver.SpecFIQ
	SpecIPI = driver.SpecIPI
)

// Trigger senses, the last cell of a three-cell specifier.
const (
	SenseEdgeRising  = irq.SenseEdgeRising
	SenseEdgeFalling = irq.SenseEdgeFalling
	SenseLevelHigh   = irq.SenseLevelHigh
	SenseLevelLow    = irq.SenseLevelLow
)

// FIQ source numbers for the four generic timers, valid as the second cell
// of a SpecFIQ specifier.
const (
	TimerHVPhys    = sysreg.TimerHVPhys
	TimerHVVirt    = sysreg.TimerHVVirt
	TimerGuestPhys = sysreg.TimerGuestPhys
	TimerGuestVirt = sysreg.TimerGuestVirt
)

// Geometry fixed by the register layout.
const (
	NumFIQ  = regs.NumFIQ
	NumIPI  = regs.NumIPI
	MaxCPUs = regs.MaxCPUs
)

// AnyCPU names the accessing core for IO operations on registers that are
// not banked per CPU.
const AnyCPU = regs.AnyCPU

// DefaultNRHW is the wired line count of a simulated Machine unless its
// config overrides it, matching the t8103 controller.
const DefaultNRHW = sim.DefaultNRHW

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

// New probes the controller behind cfg.IO and returns a Controller with
// every wired line masked and routed to CPU 0 and every IPI channel closed.
//
// New registers the per-CPU bringup sequence with cfg.Hotplug; CPUs that
// were online before New ran get it replayed immediately. The caller owns
// delivering exceptions: call Controller.HandleExceptions from each CPU's
// IRQ/FIQ entry point.
func New(cfg Config) (*Controller, error) {
	return driver.New(cfg)
}

// NewMachine builds a quiesced simulated machine.
//
// Example:
//
//	m, _ := aic.NewMachine(aic.MachineConfig{CPUs: 4})
//	c, _ := aic.New(aic.Config{IO: m, Sys: m, CPUs: m.CPUs()})
func NewMachine(cfg MachineConfig) (*Machine, error) {
	return sim.New(cfg)
}

// NewHotplug returns an empty CPU hotplug registrar.
func NewHotplug() *Hotplug {
	return irq.NewHotplug()
}

// MaskOf builds a CPUMask holding the given CPUs.
func MaskOf(cpus ...int) CPUMask {
	return irq.MaskOf(cpus...)
}

// BuildFDT flattens a device tree, such as the one Machine.DeviceTree
// describes itself with, into the binary blob format.
func BuildFDT(root FDTNode) ([]byte, error) {
	return fdt.Build(root)
}

package main

import (
	"fmt"
	"log/slog"
	"time"

	aic "github.com/tinyrange/aic"
	"github.com/tinyrange/aic/internal/fdt"
	"github.com/tinyrange/aic/internal/trace"
)

// Latency kinds recorded when -trace is set.
var (
	kindWired = trace.RegisterKind("wired")
	kindIPI   = trace.RegisterKind("ipi")
	kindTimer = trace.RegisterKind("timer")
)

// device is one wired line with a counting handler attached.
type device struct {
	name     string
	line     uint32
	cpu      int
	desc     *aic.Desc
	raisedAt time.Time
	count    int
}

func (dev *device) handle(m *aic.Machine) aic.Handler {
	return func(cpu int, d *aic.Desc) {
		trace.Record(kindWired, cpu, time.Since(dev.raisedAt))
		dev.count++
		m.LowerHW(dev.line)
	}
}

// board is a simulated machine with a controller brought up on it, the
// configured devices mapped, IPI channel 0 open everywhere, and the guest
// virtual timer wired on every CPU.
type board struct {
	cfg     machineConfig
	m       *aic.Machine
	c       *aic.Controller
	devices []*device

	ipiDesc  *aic.Desc
	ipiSent  time.Time
	ipiCount int

	timerDesc  *aic.Desc
	timerArmed time.Time
	timerCount int
}

func boot(cfg machineConfig, log *slog.Logger) (*board, error) {
	m, err := aic.NewMachine(aic.MachineConfig{CPUs: cfg.CPUs, NRHW: cfg.NRHW})
	if err != nil {
		return nil, err
	}
	c, err := aic.New(aic.Config{IO: m, Sys: m, CPUs: cfg.CPUs, Log: log})
	if err != nil {
		return nil, err
	}
	for cpu := 0; cpu < cfg.CPUs; cpu++ {
		if err := c.Hotplug().CPUStarting(cpu); err != nil {
			return nil, fmt.Errorf("bring CPU %d online: %w", cpu, err)
		}
	}

	b := &board{cfg: cfg, m: m, c: c}
	for _, dc := range cfg.Devices {
		dev := &device{name: dc.Name, line: dc.IRQ, cpu: dc.CPU}
		d, err := c.MapSpec(aic.SpecIRQ, dc.IRQ, aic.SenseLevelHigh)
		if err != nil {
			return nil, fmt.Errorf("map %s: %w", dc.Name, err)
		}
		d.SetHandler(dev.handle(m))
		if err := d.SetAffinity(aic.MaskOf(dc.CPU), false); err != nil {
			return nil, fmt.Errorf("route %s to CPU %d: %w", dc.Name, dc.CPU, err)
		}
		d.Enable(0)
		dev.desc = d
		b.devices = append(b.devices, dev)
	}

	ipi, err := c.MapSpec(aic.SpecIPI, 0, 0)
	if err != nil {
		return nil, err
	}
	ipi.SetHandler(b.handleIPI)
	for cpu := 0; cpu < cfg.CPUs; cpu++ {
		ipi.Enable(cpu)
	}
	b.ipiDesc = ipi

	timer, err := c.MapSpec(aic.SpecFIQ, aic.TimerGuestVirt, aic.SenseLevelHigh)
	if err != nil {
		return nil, err
	}
	timer.SetHandler(b.handleTimer)
	for cpu := 0; cpu < cfg.CPUs; cpu++ {
		timer.Enable(cpu)
		m.ArmTimer(cpu, aic.TimerGuestVirt)
	}
	b.timerDesc = timer

	return b, nil
}

func (b *board) handleIPI(cpu int, d *aic.Desc) {
	trace.Record(kindIPI, cpu, time.Since(b.ipiSent))
	b.ipiCount++
}

func (b *board) handleTimer(cpu int, d *aic.Desc) {
	trace.Record(kindTimer, cpu, time.Since(b.timerArmed))
	b.timerCount++
	b.m.ClearTimer(cpu, aic.TimerGuestVirt)
}

// settle services exceptions until every CPU is idle.
func (b *board) settle() {
	for cpu := 0; cpu < b.cfg.CPUs; cpu++ {
		for b.m.PendingIRQ(cpu) || b.m.PendingFIQ(cpu) {
			b.c.HandleExceptions(cpu)
		}
	}
}

// raise asserts a device's line and delivers it.
func (b *board) raise(dev *device) {
	dev.raisedAt = time.Now()
	b.m.RaiseHW(dev.line)
	b.settle()
}

// trigger raises a device's line through the software set register
// instead of the wire, and delivers it.
func (b *board) trigger(dev *device) error {
	dev.raisedAt = time.Now()
	if err := b.c.SWTrigger(dev.line); err != nil {
		return err
	}
	b.settle()
	return nil
}

// broadcast sends IPI channel 0 from one CPU to all the others and
// delivers it everywhere.
func (b *board) broadcast(from int) error {
	var others []int
	for cpu := 0; cpu < b.cfg.CPUs; cpu++ {
		if cpu != from {
			others = append(others, cpu)
		}
	}
	b.ipiSent = time.Now()
	if err := b.c.SendIPI(from, 0, aic.MaskOf(others...)); err != nil {
		return fmt.Errorf("IPI from CPU %d: %w", from, err)
	}
	b.settle()
	return nil
}

// fireTimer trips the guest virtual timer on one CPU and delivers it.
func (b *board) fireTimer(cpu int) {
	b.timerArmed = time.Now()
	b.m.FireTimer(cpu, aic.TimerGuestVirt)
	b.settle()
}

// deviceTree renders the whole board: the controller node plus one node
// per configured device pointing back at it.
func (b *board) deviceTree() aic.FDTNode {
	ctrl := b.m.DeviceTree(b.cfg.Base)
	ctrl.Properties["phandle"] = fdt.PropU32(1)

	root := aic.FDTNode{
		Properties: map[string]fdt.Property{
			"#address-cells": fdt.PropU32(2),
			"#size-cells":    fdt.PropU32(2),
			"compatible":     fdt.PropStrings("apple,t8103"),
			"model":          fdt.PropStrings("aic-bringup"),
		},
		Children: []aic.FDTNode{ctrl},
	}
	for _, dev := range b.devices {
		root.Children = append(root.Children, aic.FDTNode{
			Name: dev.name,
			Properties: map[string]fdt.Property{
				"interrupt-parent": fdt.PropU32(1),
				"interrupts":       fdt.PropU32(aic.SpecIRQ, dev.line, aic.SenseLevelHigh),
			},
		})
	}
	return root
}

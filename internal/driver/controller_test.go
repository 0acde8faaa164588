package driver

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/tinyrange/aic/internal/irq"
	"github.com/tinyrange/aic/internal/regs"
	"github.com/tinyrange/aic/internal/sim"
	"github.com/tinyrange/aic/internal/sysreg"
)

// rig is a controller wired to a simulated machine with every CPU
// brought online.
type rig struct {
	m *sim.Machine
	c *Controller
}

func newRig(t *testing.T, cpus int) *rig {
	t.Helper()
	m, err := sim.New(sim.Config{CPUs: cpus})
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(Config{IO: m, Sys: m, CPUs: cpus, Log: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatal(err)
	}
	for cpu := 0; cpu < cpus; cpu++ {
		if err := c.Hotplug().CPUStarting(cpu); err != nil {
			t.Fatal(err)
		}
	}
	return &rig{m: m, c: c}
}

// settle services exceptions on cpu until the machine goes idle there.
func (r *rig) settle(cpu int) {
	for r.m.PendingIRQ(cpu) || r.m.PendingFIQ(cpu) {
		r.c.HandleExceptions(cpu)
	}
}

// mapLine maps a wired line and attaches a counting handler.
func mapLine(t *testing.T, c *Controller, line uint32) (*irq.Desc, *counter) {
	t.Helper()
	d, err := c.MapSpec(SpecIRQ, line, irq.SenseLevelHigh)
	if err != nil {
		t.Fatal(err)
	}
	n := &counter{}
	d.SetHandler(n.handle)
	return d, n
}

// counter records handler invocations per CPU.
type counter struct {
	mu   sync.Mutex
	byCP map[int]int
}

func (n *counter) handle(cpu int, d *irq.Desc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.byCP == nil {
		n.byCP = make(map[int]int)
	}
	n.byCP[cpu]++
}

func (n *counter) total() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	var t int
	for _, v := range n.byCP {
		t += v
	}
	return t
}

func (n *counter) on(cpu int) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.byCP[cpu]
}

func TestProbe(t *testing.T) {
	r := newRig(t, 4)

	if got := r.c.NumHW(); got != sim.DefaultNRHW {
		t.Errorf("line count: got %d, want %d", got, sim.DefaultNRHW)
	}
	for _, line := range []uint32{0, 13, sim.DefaultNRHW - 1} {
		if !r.m.LineMasked(line) {
			t.Errorf("line %d not masked after probe", line)
		}
		if got := r.m.LineTarget(line); got != 1 {
			t.Errorf("line %d target: got %#x, want 1", line, got)
		}
	}
	if s := r.c.Stats(); s.Events != 0 || s.Spurious != 0 {
		t.Errorf("activity before any interrupt: %+v", s)
	}
}

func TestProbeRejectsBadConfig(t *testing.T) {
	m, err := sim.New(sim.Config{CPUs: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(Config{Sys: m, CPUs: 2}); err == nil {
		t.Error("nil register block accepted")
	}
	if _, err := New(Config{IO: m, CPUs: 2}); err == nil {
		t.Error("nil system registers accepted")
	}
	if _, err := New(Config{IO: m, Sys: m, CPUs: 0}); err == nil {
		t.Error("zero CPUs accepted")
	}
	if _, err := New(Config{IO: m, Sys: m, CPUs: regs.MaxCPUs + 1}); err == nil {
		t.Error("oversized CPU count accepted")
	}
}

func TestTranslateSpec(t *testing.T) {
	r := newRig(t, 2)

	dom, hwirq, sense, err := r.c.TranslateSpec(SpecIRQ, 42, irq.SenseLevelHigh)
	if err != nil || dom != r.c.HWDomain() || hwirq != 42 || sense != irq.SenseLevelHigh {
		t.Errorf("wired translate: got %v %d %d %v", dom, hwirq, sense, err)
	}
	dom, hwirq, _, err = r.c.TranslateSpec(SpecFIQ, sysreg.TimerGuestVirt, irq.SenseLevelHigh)
	if err != nil || dom != r.c.HWDomain() || hwirq != sim.DefaultNRHW+sysreg.TimerGuestVirt {
		t.Errorf("FIQ translate: got %v %d %v", dom, hwirq, err)
	}
	dom, hwirq, _, err = r.c.TranslateSpec(SpecIPI, 7, 0)
	if err != nil || dom != r.c.IPIDomain() || hwirq != 7 {
		t.Errorf("IPI translate: got %v %d %v", dom, hwirq, err)
	}

	bad := [][3]uint32{
		{SpecIRQ, sim.DefaultNRHW, 0},
		{SpecFIQ, regs.NumFIQ, 0},
		{SpecIPI, regs.NumIPI, 0},
		{3, 0, 0},
	}
	for _, b := range bad {
		if _, _, _, err := r.c.TranslateSpec(b[0], b[1], b[2]); err == nil {
			t.Errorf("specifier %v accepted", b)
		}
	}
}

func TestWiredDelivery(t *testing.T) {
	r := newRig(t, 2)
	d, n := mapLine(t, r.c, 5)
	d.Enable(regs.AnyCPU)

	if r.m.LineMasked(5) {
		t.Fatal("enable left the line masked")
	}

	r.m.RaiseHW(5)
	if !r.m.PendingIRQ(0) {
		t.Fatal("raised line not pending")
	}
	r.settle(0)

	if got := n.on(0); got != 1 {
		t.Errorf("handler runs on cpu 0: got %d, want 1", got)
	}
	if d.Count() != 1 {
		t.Errorf("descriptor count: got %d, want 1", d.Count())
	}
	if r.m.LineMasked(5) {
		t.Error("completion did not re-arm the line")
	}
	if s := r.c.Stats(); s.Events != 1 || s.HW != 1 || s.Spurious != 0 {
		t.Errorf("stats: %+v", s)
	}
}

func TestMaskSuppressesDelivery(t *testing.T) {
	r := newRig(t, 1)
	d, n := mapLine(t, r.c, 9)
	d.Enable(regs.AnyCPU)

	d.Mask(regs.AnyCPU)
	r.m.RaiseHW(9)
	if r.m.PendingIRQ(0) {
		t.Fatal("masked line is pending")
	}

	// The latch survives the mask; unmasking delivers it.
	d.Unmask(regs.AnyCPU)
	if !r.m.PendingIRQ(0) {
		t.Fatal("unmasked latched line is not pending")
	}
	r.settle(0)
	if n.total() != 1 {
		t.Errorf("handler runs: got %d, want 1", n.total())
	}
}

func TestMaskIdempotent(t *testing.T) {
	r := newRig(t, 1)
	d, _ := mapLine(t, r.c, 11)
	d.Enable(regs.AnyCPU)

	d.Mask(regs.AnyCPU)
	d.Mask(regs.AnyCPU)
	if !r.m.LineMasked(11) {
		t.Fatal("line not masked")
	}
	d.Unmask(regs.AnyCPU)
	if r.m.LineMasked(11) {
		t.Fatal("double mask needed a second unmask")
	}
}

func TestDisableStopsCompletionUnmask(t *testing.T) {
	r := newRig(t, 1)
	d, _ := mapLine(t, r.c, 21)
	d.SetHandler(func(cpu int, dd *irq.Desc) {
		dd.Disable(regs.AnyCPU)
	})
	d.Enable(regs.AnyCPU)

	r.m.RaiseHW(21)
	r.settle(0)

	if !r.m.LineMasked(21) {
		t.Error("line re-armed although its handler disabled it")
	}
}

func TestUnhandledLineIsMasked(t *testing.T) {
	r := newRig(t, 1)
	d, err := r.c.MapSpec(SpecIRQ, 30, irq.SenseLevelHigh)
	if err != nil {
		t.Fatal(err)
	}
	// No handler attached.
	d.Unmask(regs.AnyCPU)

	r.m.RaiseHW(30)
	r.settle(0)

	if !r.m.LineMasked(30) {
		t.Error("unclaimed line was not masked off")
	}
	if got := r.c.HWDomain().Unhandled(); got != 1 {
		t.Errorf("unhandled count: got %d, want 1", got)
	}
}

func TestAffinityRouting(t *testing.T) {
	r := newRig(t, 4)
	d, n := mapLine(t, r.c, 50)
	d.Enable(regs.AnyCPU)

	if err := d.SetAffinity(irq.MaskOf(2), false); err != nil {
		t.Fatal(err)
	}
	if got := r.m.LineTarget(50); got != 1<<2 {
		t.Errorf("target word: got %#x, want %#x", got, 1<<2)
	}
	if got := d.EffectiveAffinity(); !got.Has(2) || got.Count() != 1 {
		t.Errorf("effective affinity: got %v", got)
	}

	r.m.RaiseHW(50)
	if r.m.PendingIRQ(0) {
		t.Error("line pending on a CPU it is not routed to")
	}
	r.settle(2)
	if n.on(2) != 1 || n.total() != 1 {
		t.Errorf("handler runs: cpu2=%d total=%d", n.on(2), n.total())
	}
}

func TestAffinityPicksLowestOnline(t *testing.T) {
	r := newRig(t, 4)
	d, _ := mapLine(t, r.c, 51)

	if err := d.SetAffinity(irq.MaskOf(3, 1), false); err != nil {
		t.Fatal(err)
	}
	if got := r.m.LineTarget(51); got != 1<<1 {
		t.Errorf("target word: got %#x, want %#x", got, 1<<1)
	}
}

func TestAffinityOfflineCPU(t *testing.T) {
	r := newRig(t, 4)
	d, _ := mapLine(t, r.c, 52)
	r.c.Hotplug().CPUDying(3)

	if err := d.SetAffinity(irq.MaskOf(3), false); err == nil {
		t.Error("offline CPU accepted without force")
	}
	if err := d.SetAffinity(irq.MaskOf(3), true); err != nil {
		t.Errorf("forced offline CPU rejected: %v", err)
	}
	if got := r.m.LineTarget(52); got != 1<<3 {
		t.Errorf("target word: got %#x, want %#x", got, 1<<3)
	}

	// Forcing cannot invent CPUs the machine does not have.
	if err := d.SetAffinity(irq.MaskOf(9), true); err == nil {
		t.Error("nonexistent CPU accepted")
	}
	if err := d.SetAffinity(irq.CPUMask(0), false); err == nil {
		t.Error("empty mask accepted")
	}
}

func TestSoftwareTrigger(t *testing.T) {
	r := newRig(t, 1)
	d, n := mapLine(t, r.c, 7)
	d.Enable(regs.AnyCPU)

	if err := r.c.SWTrigger(7); err != nil {
		t.Fatal(err)
	}
	r.settle(0)
	if n.total() != 1 {
		t.Errorf("handler runs: got %d, want 1", n.total())
	}

	// A retracted trigger never delivers.
	if err := r.c.SWTrigger(7); err != nil {
		t.Fatal(err)
	}
	if err := r.c.SWClear(7); err != nil {
		t.Fatal(err)
	}
	if r.m.PendingIRQ(0) {
		t.Error("retracted trigger still pending")
	}

	if err := r.c.SWTrigger(sim.DefaultNRHW); err == nil {
		t.Error("out-of-range trigger accepted")
	}
}

func TestDrainServicesEverything(t *testing.T) {
	r := newRig(t, 2)

	lines := []uint32{3, 64, 895}
	counts := make([]*counter, len(lines))
	for i, line := range lines {
		d, n := mapLine(t, r.c, line)
		d.Enable(regs.AnyCPU)
		counts[i] = n
	}

	ipi, err := r.c.MapSpec(SpecIPI, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	in := &counter{}
	ipi.SetHandler(in.handle)
	ipi.Enable(0)

	for _, line := range lines {
		r.m.RaiseHW(line)
	}
	if err := r.c.SendIPI(1, 0, irq.MaskOf(0)); err != nil {
		t.Fatal(err)
	}

	// One entry drains all of it.
	r.c.HandleExceptions(0)

	if r.m.PendingIRQ(0) {
		t.Error("machine still pending after one entry")
	}
	for i, n := range counts {
		if n.total() != 1 {
			t.Errorf("line %d handler runs: got %d, want 1", lines[i], n.total())
		}
	}
	if in.total() != 1 {
		t.Errorf("IPI handler runs: got %d, want 1", in.total())
	}
	if s := r.c.Stats(); s.Events != 4 || s.HW != 3 || s.IPIReceived != 1 {
		t.Errorf("stats: %+v", s)
	}
}

func TestHotplugReplaySetsUpEarlyCPU(t *testing.T) {
	m, err := sim.New(sim.Config{CPUs: 2})
	if err != nil {
		t.Fatal(err)
	}
	hp := irq.NewHotplug()
	if err := hp.CPUStarting(0); err != nil {
		t.Fatal(err)
	}

	// CPU 0 was online before the controller existed; registration
	// replays its startup, which masks the timers.
	if _, err := New(Config{IO: m, Sys: m, CPUs: 2, Hotplug: hp, Log: slog.New(slog.DiscardHandler)}); err != nil {
		t.Fatal(err)
	}
	ctl := m.CPU(0).Read(sysreg.TimerCtl(sysreg.TimerHVPhys))
	if ctl&sysreg.TimerIMask == 0 {
		t.Error("early CPU's timers not masked")
	}
}

// shimIO overlays selected register reads on a backing block.
type shimIO struct {
	regs.IO
	read      func(cpu int, off uint32) (uint32, bool)
	readEvent func(cpu int, off uint32) (uint32, bool)
}

func (s *shimIO) Read32(cpu int, off uint32) uint32 {
	if s.read != nil {
		if v, ok := s.read(cpu, off); ok {
			return v
		}
	}
	return s.IO.Read32(cpu, off)
}

func (s *shimIO) ReadEvent32(cpu int, off uint32) uint32 {
	if s.readEvent != nil {
		if v, ok := s.readEvent(cpu, off); ok {
			return v
		}
	}
	return s.IO.ReadEvent32(cpu, off)
}

func TestCPUNumberingMismatchPanics(t *testing.T) {
	m, err := sim.New(sim.Config{CPUs: 2})
	if err != nil {
		t.Fatal(err)
	}
	io := &shimIO{IO: m, read: func(cpu int, off uint32) (uint32, bool) {
		if off == regs.Whoami {
			return 99, true
		}
		return 0, false
	}}
	c, err := New(Config{IO: io, Sys: m, CPUs: 2, Log: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatal(err)
	}

	defer func() {
		if recover() == nil {
			t.Error("mismatched CPU numbering did not panic")
		}
	}()
	c.Hotplug().CPUStarting(0)
}

func TestUnknownEventCountsSpurious(t *testing.T) {
	m, err := sim.New(sim.Config{CPUs: 1})
	if err != nil {
		t.Fatal(err)
	}
	var injected bool
	io := &shimIO{IO: m, readEvent: func(cpu int, off uint32) (uint32, bool) {
		if off == regs.Event && !injected {
			injected = true
			return 9<<16 | 123, true
		}
		return 0, false
	}}
	c, err := New(Config{IO: io, Sys: m, CPUs: 1, Log: slog.New(slog.DiscardHandler)})
	if err != nil {
		t.Fatal(err)
	}

	// The machine itself is idle, so enter the drain loop directly.
	c.handleIRQ(0)
	if s := c.Stats(); s.Spurious != 1 || s.Events != 1 {
		t.Errorf("stats after unknown event: %+v", s)
	}
}

func TestEventForUnmappedLine(t *testing.T) {
	r := newRig(t, 1)

	// Unmask line 80 behind the domain's back; nothing is mapped there.
	r.m.Write32(0, regs.MaskClr+regs.MaskReg(80), regs.MaskBit(80))
	r.m.RaiseHW(80)
	r.c.HandleExceptions(0)

	if s := r.c.Stats(); s.Spurious != 1 {
		t.Errorf("stats after unmapped event: %+v", s)
	}
	// The pop masked it, so it cannot storm.
	if !r.m.LineMasked(80) {
		t.Error("unmapped line not left masked")
	}
}

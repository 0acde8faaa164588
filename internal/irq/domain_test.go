package irq

import (
	"fmt"
	"testing"
)

// fakeChip records the chip operations run against it.
type fakeChip struct {
	name string
	ops  []string

	affinity  CPUMask
	forced    bool
	ipiTarget CPUMask
}

func (c *fakeChip) Name() string { return c.name }
func (c *fakeChip) Mask(cpu int, d *Desc) {
	c.ops = append(c.ops, fmt.Sprintf("mask:%d@%d", d.Hwirq(), cpu))
}
func (c *fakeChip) Unmask(cpu int, d *Desc) {
	c.ops = append(c.ops, fmt.Sprintf("unmask:%d@%d", d.Hwirq(), cpu))
}
func (c *fakeChip) Ack(cpu int, d *Desc) {
	c.ops = append(c.ops, fmt.Sprintf("ack:%d@%d", d.Hwirq(), cpu))
}
func (c *fakeChip) EOI(cpu int, d *Desc) {
	c.ops = append(c.ops, fmt.Sprintf("eoi:%d@%d", d.Hwirq(), cpu))
}
func (c *fakeChip) SetAffinity(d *Desc, mask CPUMask, force bool) error {
	c.affinity = mask
	c.forced = force
	d.SetEffectiveAffinity(MaskOf(mask.First()))
	return nil
}
func (c *fakeChip) SendMask(cpu int, d *Desc, targets CPUMask) {
	c.ipiTarget = targets
}

// bareChip implements only the mandatory chip surface.
type bareChip struct{}

func (bareChip) Name() string         { return "bare" }
func (bareChip) Mask(int, *Desc)      {}
func (bareChip) Unmask(int, *Desc)    {}

func newTestDomain(chip Chip, flow FlowHandler, percpu bool) *Domain {
	return NewLinear("test", 8, NewAllocator(1, nil), func(hwirq uint32) MapInfo {
		return MapInfo{Chip: chip, Flow: flow, Percpu: percpu, Level: true}
	})
}

func TestDomainMap(t *testing.T) {
	chip := &fakeChip{name: "fake"}
	dom := newTestDomain(chip, HandleFastEOI, false)

	d, err := dom.Map(3)
	if err != nil {
		t.Fatalf("Map: %v", err)
	}
	if d.Hwirq() != 3 || d.Virq() != 1 || !d.Level() {
		t.Errorf("desc = %v hwirq=%d virq=%d", d, d.Hwirq(), d.Virq())
	}

	again, err := dom.Map(3)
	if err != nil || again != d {
		t.Errorf("Map not idempotent: %p vs %p (%v)", again, d, err)
	}

	if _, err := dom.Map(8); err == nil {
		t.Errorf("Map(8) should fail for size-8 domain")
	}
	if dom.Lookup(4) != nil {
		t.Errorf("Lookup of unmapped hwirq should be nil")
	}
}

func TestDescStartsDisabled(t *testing.T) {
	dom := newTestDomain(&fakeChip{name: "fake"}, HandleFastEOI, false)
	d, _ := dom.Map(0)

	if !d.Disabled(0) || !d.Masked(0) {
		t.Fatalf("fresh desc should be disabled and masked")
	}
	d.Enable(0)
	if d.Disabled(0) || d.Masked(0) {
		t.Fatalf("enabled desc should be neither disabled nor masked")
	}
	d.Mask(0)
	if d.Disabled(0) || !d.Masked(0) {
		t.Fatalf("masked desc should stay enabled")
	}
	d.Unmask(0)
	d.Disable(0)
	if !d.Disabled(0) || !d.Masked(0) {
		t.Fatalf("disabled desc should read masked too")
	}
}

func TestDispatchFastEOI(t *testing.T) {
	chip := &fakeChip{name: "fake"}
	dom := newTestDomain(chip, HandleFastEOI, false)
	d, _ := dom.Map(2)

	fired := 0
	d.SetHandler(func(cpu int, got *Desc) {
		if got != d || cpu != 1 {
			t.Errorf("handler got desc=%v cpu=%d", got, cpu)
		}
		fired++
	})
	d.Enable(0)
	chip.ops = nil

	if !dom.Dispatch(1, 2) {
		t.Fatalf("Dispatch reported unmapped")
	}
	if fired != 1 || d.Count() != 1 {
		t.Errorf("fired=%d count=%d", fired, d.Count())
	}
	if len(chip.ops) != 1 || chip.ops[0] != "eoi:2@1" {
		t.Errorf("chip ops = %v, want one EOI", chip.ops)
	}
}

func TestDispatchUnhandledMasks(t *testing.T) {
	chip := &fakeChip{name: "fake"}
	dom := newTestDomain(chip, HandleFastEOI, false)
	d, _ := dom.Map(5)
	d.Enable(0)
	chip.ops = nil

	if !dom.Dispatch(0, 5) {
		t.Fatalf("Dispatch reported unmapped")
	}
	if dom.Unhandled() != 1 {
		t.Errorf("Unhandled() = %d, want 1", dom.Unhandled())
	}
	if !d.Masked(0) {
		t.Errorf("unhandled delivery should mask the line")
	}
	if len(chip.ops) != 2 || chip.ops[0] != "mask:5@0" || chip.ops[1] != "eoi:5@0" {
		t.Errorf("chip ops = %v, want mask then eoi", chip.ops)
	}
}

func TestDispatchUnmapped(t *testing.T) {
	dom := newTestDomain(&fakeChip{name: "fake"}, HandleFastEOI, false)
	if dom.Dispatch(0, 7) {
		t.Errorf("Dispatch of unmapped hwirq should report false")
	}
	if dom.Dispatch(0, 100) {
		t.Errorf("Dispatch outside the domain should report false")
	}
}

func TestPercpuFlow(t *testing.T) {
	chip := &fakeChip{name: "fake"}
	dom := newTestDomain(chip, HandlePercpu, true)
	d, _ := dom.Map(1)

	var cpus []int
	d.SetHandler(func(cpu int, _ *Desc) { cpus = append(cpus, cpu) })
	d.Enable(1)
	chip.ops = nil

	dom.Dispatch(1, 1)
	if len(cpus) != 1 || cpus[0] != 1 {
		t.Fatalf("handler ran on %v", cpus)
	}
	if len(chip.ops) != 2 || chip.ops[0] != "ack:1@1" || chip.ops[1] != "eoi:1@1" {
		t.Errorf("chip ops = %v, want ack then eoi", chip.ops)
	}

	// The line was never enabled on cpu 0, so dispatch there goes to the
	// unhandled path even with a handler installed.
	dom.Dispatch(0, 1)
	if len(cpus) != 1 {
		t.Errorf("handler ran on a cpu the line is disabled on")
	}
	if dom.Unhandled() != 1 {
		t.Errorf("Unhandled() = %d, want 1", dom.Unhandled())
	}
	if d.Masked(1) {
		t.Errorf("cpu 1 enablement should be untouched")
	}
}

func TestSetAffinity(t *testing.T) {
	chip := &fakeChip{name: "fake"}
	dom := newTestDomain(chip, HandleFastEOI, false)
	d, _ := dom.Map(0)

	if err := d.SetAffinity(MaskOf(2, 3), true); err != nil {
		t.Fatalf("SetAffinity: %v", err)
	}
	if chip.affinity != MaskOf(2, 3) || !chip.forced {
		t.Errorf("chip saw mask=%v force=%v", chip.affinity, chip.forced)
	}
	if d.EffectiveAffinity() != MaskOf(2) {
		t.Errorf("effective affinity = %v", d.EffectiveAffinity())
	}

	bare := NewLinear("bare", 1, NewAllocator(1, nil), func(uint32) MapInfo {
		return MapInfo{Chip: bareChip{}, Flow: HandleFastEOI}
	})
	bd, _ := bare.Map(0)
	if err := bd.SetAffinity(MaskOf(0), false); err == nil {
		t.Errorf("SetAffinity on a chip without affinity support should fail")
	}
}

func TestSend(t *testing.T) {
	chip := &fakeChip{name: "fake"}
	dom := newTestDomain(chip, HandlePercpu, true)
	d, _ := dom.Map(4)

	if err := d.Send(0, MaskOf(1, 2)); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if chip.ipiTarget != MaskOf(1, 2) {
		t.Errorf("chip saw targets %v", chip.ipiTarget)
	}

	bare := NewLinear("bare", 1, NewAllocator(1, nil), func(uint32) MapInfo {
		return MapInfo{Chip: bareChip{}, Flow: HandlePercpu}
	})
	bd, _ := bare.Map(0)
	if err := bd.Send(0, MaskOf(1)); err == nil {
		t.Errorf("Send on a chip without IPI support should fail")
	}
}

func TestAllocatorReserved(t *testing.T) {
	a := NewAllocator(1, []Virq{2, 3})
	got := []Virq{a.Allocate(), a.Allocate(), a.Allocate()}
	want := []Virq{1, 4, 5}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("allocations = %v, want %v", got, want)
		}
	}
}

package irq

// Handler consumes one delivery of a mapped line. cpu is the core the
// event arrived on.
type Handler func(cpu int, d *Desc)

// FlowHandler drives a descriptor through one delivery, bracketing the
// handler with whatever chip operations the line's flow needs.
type FlowHandler func(cpu int, d *Desc)

// HandleFastEOI runs lines whose acknowledge already happened in hardware:
// handler first, then chip completion. A delivery that finds the line
// disabled or without a handler masks it so it cannot storm.
func HandleFastEOI(cpu int, d *Desc) {
	if h := d.Handler(); h != nil && !d.Disabled(cpu) {
		h(cpu, d)
	} else {
		d.Mask(cpu)
		d.domain.unhandled(cpu, d)
	}
	if c, ok := d.chip.(Completer); ok {
		c.EOI(cpu, d)
	}
}

// HandlePercpu runs per-CPU lines: chip acknowledge, handler, completion.
func HandlePercpu(cpu int, d *Desc) {
	if a, ok := d.chip.(Acker); ok {
		a.Ack(cpu, d)
	}
	if h := d.Handler(); h != nil && !d.Disabled(cpu) {
		h(cpu, d)
	} else {
		d.Mask(cpu)
		d.domain.unhandled(cpu, d)
	}
	if c, ok := d.chip.(Completer); ok {
		c.EOI(cpu, d)
	}
}

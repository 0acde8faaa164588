package irq

// Chip is the operation set a controller implements for the lines of a
// domain. The cpu argument names the core the operation runs on behalf of;
// chips whose registers are not per-core ignore it. Optional capabilities
// are expressed as the additional interfaces below and checked where
// needed.
type Chip interface {
	Name() string
	Mask(cpu int, d *Desc)
	Unmask(cpu int, d *Desc)
}

// Acker is implemented by chips that acknowledge a line when its dispatch
// starts.
type Acker interface {
	Ack(cpu int, d *Desc)
}

// Completer is implemented by chips that must be told when a dispatch is
// done.
type Completer interface {
	EOI(cpu int, d *Desc)
}

// AffinityChip is implemented by chips that can steer lines to CPUs.
type AffinityChip interface {
	// SetAffinity routes d to one CPU out of mask. With force set the
	// chip must honor the first CPU of the mask even if it is offline.
	SetAffinity(d *Desc, mask CPUMask, force bool) error
}

// IPIChip is implemented by chips backing inter-processor interrupt
// domains.
type IPIChip interface {
	// SendMask delivers d to every CPU in targets. cpu is the sending
	// core.
	SendMask(cpu int, d *Desc, targets CPUMask)
}

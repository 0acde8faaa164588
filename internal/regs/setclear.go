package regs

// SetClearReg is a write-one-to-set / write-one-to-clear pair of views of a
// single hardware register. The backing state is never read back; callers
// only ever assert or retract bits through the two write-side registers.
type SetClearReg struct {
	io  IO
	set uint32
	clr uint32
}

func NewSetClearReg(io IO, set, clr uint32) SetClearReg {
	return SetClearReg{io: io, set: set, clr: clr}
}

func (r SetClearReg) Set(cpu int, bits uint32)   { r.io.Write32(cpu, r.set, bits) }
func (r SetClearReg) Clear(cpu int, bits uint32) { r.io.Write32(cpu, r.clr, bits) }

// SetClearArray is a write-one register array pair covering one bit per
// line, 32 lines per word.
type SetClearArray struct {
	io    IO
	set   uint32
	clr   uint32
	lines uint32
}

func NewSetClearArray(io IO, set, clr, lines uint32) SetClearArray {
	return SetClearArray{io: io, set: set, clr: clr, lines: lines}
}

// SetBit asserts line's bit through the set register.
func (a SetClearArray) SetBit(cpu int, line uint32) {
	a.io.Write32(cpu, a.set+MaskReg(line), MaskBit(line))
}

// ClearBit retracts line's bit through the clear register.
func (a SetClearArray) ClearBit(cpu int, line uint32) {
	a.io.Write32(cpu, a.clr+MaskReg(line), MaskBit(line))
}

// Words returns the number of 32-bit words covering the array.
func (a SetClearArray) Words() int { return int((a.lines + 31) / 32) }

// SetAll asserts every line's bit, one full word at a time.
func (a SetClearArray) SetAll(cpu int) {
	for i := 0; i < a.Words(); i++ {
		a.io.Write32(cpu, a.set+uint32(4*i), ^uint32(0))
	}
}

// ClearAll retracts every line's bit.
func (a SetClearArray) ClearAll(cpu int) {
	for i := 0; i < a.Words(); i++ {
		a.io.Write32(cpu, a.clr+uint32(4*i), ^uint32(0))
	}
}

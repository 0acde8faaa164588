// Package regs defines the interrupt controller's register map and the
// access layer the driver reaches it through.
package regs

// Register offsets, byte-addressed from the start of the controller block.
// Registers in the 0x2000 block are banked per CPU: every core sees its own
// event stream and IPI state at the same offsets.
const (
	Info   uint32 = 0x0004
	Config uint32 = 0x0010

	Whoami     uint32 = 0x2000
	Event      uint32 = 0x2004
	IPISend    uint32 = 0x2008
	IPIAck     uint32 = 0x200c
	IPIMaskSet uint32 = 0x2024
	IPIMaskClr uint32 = 0x2028

	TargetCPU uint32 = 0x3000 // one word per hardware line

	SWSet   uint32 = 0x4000 // write 1 to raise a software trigger
	SWClr   uint32 = 0x4080
	MaskSet uint32 = 0x4100 // write 1 to mask
	MaskClr uint32 = 0x4180 // write 1 to unmask
)

// InfoNRHW extracts the hardware line count from the info register.
const InfoNRHW uint32 = 0xffff // bits 15:0

// Event word layout: type in bits 31:16, number in bits 15:0. Reading the
// event register acknowledges and masks the reported interrupt as a side
// effect.
const (
	EventTypeHW  = 1 // hardware line, number is the line index
	EventTypeIPI = 4 // inter-processor interrupt

	EventIPIOther = 1
	EventIPISelf  = 2
)

func EventType(ev uint32) uint32 { return ev >> 16 }
func EventNum(ev uint32) uint32  { return ev & 0xffff }

// IPI mask/ack bits. Bit 0 is the shared "from another core" interrupt,
// bit 31 the self interrupt.
const (
	IPIOther uint32 = 1 << 0
	IPISelf  uint32 = 1 << 31
)

// SendCPU returns the send-register bit addressing cpu.
func SendCPU(cpu int) uint32 { return 1 << uint(cpu) }

// Per-CPU aliases of the IPI set/clear/mask registers, one 0x80 block per
// CPU. The same state is reachable through the banked 0x2000 block; this
// window lets one core poke another core's IPI latches.
const (
	cpuViewBase   uint32 = 0x5000
	cpuViewStride uint32 = 0x80

	CPUViewIPISet     uint32 = 0x08 // raise IPI pending bits on the viewed CPU
	CPUViewIPIClr     uint32 = 0x0c // clear IPI pending bits
	CPUViewIPIMaskSet uint32 = 0x24
	CPUViewIPIMaskClr uint32 = 0x28
)

func CPUIPISet(cpu int) uint32     { return cpuViewBase + CPUViewIPISet + uint32(cpu)*cpuViewStride }
func CPUIPIClr(cpu int) uint32     { return cpuViewBase + CPUViewIPIClr + uint32(cpu)*cpuViewStride }
func CPUIPIMaskSet(cpu int) uint32 { return cpuViewBase + CPUViewIPIMaskSet + uint32(cpu)*cpuViewStride }
func CPUIPIMaskClr(cpu int) uint32 { return cpuViewBase + CPUViewIPIMaskClr + uint32(cpu)*cpuViewStride }

// CPUView decodes an offset inside the per-CPU view window into the
// viewed CPU and the register's sub-offset within its block. ok is
// false when off lies outside the window.
func CPUView(off uint32) (cpu int, sub uint32, ok bool) {
	if off < cpuViewBase || off >= cpuViewBase+MaxCPUs*cpuViewStride {
		return 0, 0, false
	}
	rel := off - cpuViewBase
	return int(rel / cpuViewStride), rel % cpuViewStride, true
}

// MaskReg and MaskBit locate a line's bit inside one of the set/clear
// arrays (SWSet/SWClr/MaskSet/MaskClr), 32 lines per word.
func MaskReg(line uint32) uint32 { return 4 * (line >> 5) }
func MaskBit(line uint32) uint32 { return 1 << (line & 0x1f) }

// Fixed dimensions of the controller.
const (
	NumFIQ  = 4  // FIQ sources appended after the hardware lines
	NumIPI  = 32 // logical IPI channels multiplexed over one physical IPI
	MaxCPUs = 31 // send register has 31 target bits; bit 31 is self
)

// AnyCPU names the accessing core for operations on registers that are not
// banked, where the caller's identity does not matter.
const AnyCPU = 0

// IO is a 32-bit window onto a controller register block. The cpu argument
// identifies the accessing core so banked registers resolve to that core's
// view; implementations backed by real hardware ignore it, since the
// executing core banks accesses by itself.
type IO interface {
	// Read32 reads the register at off with relaxed ordering.
	Read32(cpu int, off uint32) uint32
	// ReadEvent32 reads the register at off with acquire ordering: the
	// read is ordered before every load the caller issues afterwards.
	// Event reads acknowledge the reported interrupt, and that side
	// effect must not overtake device memory accesses belonging to it.
	ReadEvent32(cpu int, off uint32) uint32
	// Write32 writes the register at off with relaxed ordering.
	Write32(cpu int, off uint32, v uint32)
}

package irq

import (
	"fmt"
	"math/bits"
	"strings"
)

// CPUMask is a set of logical CPUs, one bit per CPU. Controllers cap
// machines well below 32 cores, so one word is plenty.
type CPUMask uint32

// MaskOf builds a mask containing the given CPUs.
func MaskOf(cpus ...int) CPUMask {
	var m CPUMask
	for _, cpu := range cpus {
		m |= 1 << uint(cpu)
	}
	return m
}

func (m CPUMask) Has(cpu int) bool      { return m&(1<<uint(cpu)) != 0 }
func (m CPUMask) Empty() bool           { return m == 0 }
func (m CPUMask) Count() int            { return bits.OnesCount32(uint32(m)) }
func (m CPUMask) And(o CPUMask) CPUMask { return m & o }

// First returns the lowest CPU in the mask, or -1 if it is empty.
func (m CPUMask) First() int {
	if m == 0 {
		return -1
	}
	return bits.TrailingZeros32(uint32(m))
}

// ForEach calls fn for every CPU in the mask in ascending order.
func (m CPUMask) ForEach(fn func(cpu int)) {
	for w := uint32(m); w != 0; w &= w - 1 {
		fn(bits.TrailingZeros32(w))
	}
}

func (m CPUMask) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	first := true
	m.ForEach(func(cpu int) {
		if !first {
			sb.WriteByte(',')
		}
		fmt.Fprintf(&sb, "%d", cpu)
		first = false
	})
	sb.WriteByte('}')
	return sb.String()
}

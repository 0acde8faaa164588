//go:build linux

package aic

import (
	"github.com/tinyrange/aic/internal/regs"
)

// RegBlock is a register block mapped from physical memory. It implements IO.
type RegBlock = regs.Block

// MapRegisters maps size bytes of the controller's register block at
// physical address base through /dev/mem. The caller must Close the block.
func MapRegisters(base uint64, size int) (*RegBlock, error) {
	return regs.Map(base, size)
}

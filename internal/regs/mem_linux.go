//go:build linux

package regs

import (
	"fmt"
	"os"
	"sync/atomic"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Block is a controller register block mapped from physical memory through
// /dev/mem. Accesses go through sync/atomic so the acquire ordering of
// event reads holds on weakly-ordered machines.
type Block struct {
	f    *os.File
	mem  []byte
	size int
}

// Map maps size bytes of the register block at physical address base.
func Map(base uint64, size int) (*Block, error) {
	f, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0)
	if err != nil {
		return nil, fmt.Errorf("regs: open /dev/mem: %w", err)
	}
	mem, err := unix.Mmap(int(f.Fd()), int64(base), size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("regs: map 0x%x: %w", base, err)
	}
	return &Block{f: f, mem: mem, size: size}, nil
}

func (b *Block) Close() error {
	if b.mem != nil {
		if err := unix.Munmap(b.mem); err != nil {
			return err
		}
		b.mem = nil
	}
	return b.f.Close()
}

func (b *Block) word(off uint32) *uint32 {
	if off%4 != 0 || int(off)+4 > b.size {
		panic(fmt.Sprintf("regs: access at 0x%x outside mapped block", off))
	}
	return (*uint32)(unsafe.Pointer(&b.mem[off]))
}

// The executing core banks hardware accesses by itself, so the cpu
// argument is ignored here.

func (b *Block) Read32(cpu int, off uint32) uint32      { return atomic.LoadUint32(b.word(off)) }
func (b *Block) ReadEvent32(cpu int, off uint32) uint32 { return atomic.LoadUint32(b.word(off)) }
func (b *Block) Write32(cpu int, off uint32, v uint32)  { atomic.StoreUint32(b.word(off), v) }

var _ IO = (*Block)(nil)

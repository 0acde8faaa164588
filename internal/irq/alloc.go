package irq

import "sync"

// Allocator hands out virtual interrupt numbers, avoiding collisions
// between domains that share one number space.
type Allocator struct {
	mu       sync.Mutex
	next     Virq
	reserved map[Virq]struct{}
}

// NewAllocator returns an allocator starting at start, never handing out
// any of the reserved numbers.
func NewAllocator(start Virq, reserved []Virq) *Allocator {
	r := make(map[Virq]struct{}, len(reserved))
	for _, v := range reserved {
		r[v] = struct{}{}
	}
	return &Allocator{
		next:     start,
		reserved: r,
	}
}

func (a *Allocator) Allocate() Virq {
	a.mu.Lock()
	defer a.mu.Unlock()
	for {
		if _, used := a.reserved[a.next]; !used {
			v := a.next
			a.reserved[v] = struct{}{}
			a.next++
			return v
		}
		a.next++
	}
}

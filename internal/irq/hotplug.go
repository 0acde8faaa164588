package irq

import (
	"fmt"
	"sync"
)

// Hotplug tracks which CPUs have been brought online and runs registered
// startup callbacks as each one arrives.
type Hotplug struct {
	mu       sync.Mutex
	online   CPUMask
	starting []startingCallback
}

type startingCallback struct {
	name string
	fn   func(cpu int) error
}

func NewHotplug() *Hotplug { return &Hotplug{} }

// RegisterStarting adds a callback run on every CPU as it comes online.
// CPUs that are already online run it immediately.
func (h *Hotplug) RegisterStarting(name string, fn func(cpu int) error) error {
	h.mu.Lock()
	online := h.online
	h.starting = append(h.starting, startingCallback{name: name, fn: fn})
	h.mu.Unlock()

	var err error
	online.ForEach(func(cpu int) {
		if e := fn(cpu); e != nil && err == nil {
			err = fmt.Errorf("irq: %s on cpu %d: %w", name, cpu, e)
		}
	})
	return err
}

// CPUStarting marks cpu online and runs the registered callbacks on it.
func (h *Hotplug) CPUStarting(cpu int) error {
	h.mu.Lock()
	h.online |= MaskOf(cpu)
	callbacks := append([]startingCallback{}, h.starting...)
	h.mu.Unlock()

	for _, cb := range callbacks {
		if err := cb.fn(cpu); err != nil {
			return fmt.Errorf("irq: %s on cpu %d: %w", cb.name, cpu, err)
		}
	}
	return nil
}

// CPUDying marks cpu offline.
func (h *Hotplug) CPUDying(cpu int) {
	h.mu.Lock()
	h.online &^= MaskOf(cpu)
	h.mu.Unlock()
}

// Online returns the set of online CPUs.
func (h *Hotplug) Online() CPUMask {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.online
}

package sim

import (
	"fmt"

	"github.com/tinyrange/aic/internal/fdt"
)

// RegBlockSize is the size of the controller's register window,
// covering the per-CPU views at the top of the map.
const RegBlockSize = 0x8000

// DeviceTree describes the machine's interrupt controller as the
// device node consumers discover it by. Interrupt specifiers against
// it carry three cells: class, number, trigger sense.
func (m *Machine) DeviceTree(base uint64) fdt.Node {
	return fdt.Node{
		Name: fmt.Sprintf("interrupt-controller@%x", base),
		Properties: map[string]fdt.Property{
			"compatible":           fdt.PropStrings("apple,t8103-aic", "apple,aic"),
			"reg":                  fdt.PropU64(base, RegBlockSize),
			"interrupt-controller": fdt.PropFlag(),
			"#interrupt-cells":     fdt.PropU32(3),
		},
	}
}

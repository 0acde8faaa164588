package sim

import (
	"testing"

	"github.com/tinyrange/aic/internal/fdt"
)

func TestDeviceTree(t *testing.T) {
	m := newMachine(t, 2)
	node := m.DeviceTree(0x23b100000)

	if node.Name != "interrupt-controller@23b100000" {
		t.Errorf("node name: got %q", node.Name)
	}
	if got := node.Properties["#interrupt-cells"].U32; len(got) != 1 || got[0] != 3 {
		t.Errorf("#interrupt-cells: got %v", got)
	}
	if got := node.Properties["compatible"].Strings; len(got) != 2 || got[1] != "apple,aic" {
		t.Errorf("compatible: got %v", got)
	}
	if got := node.Properties["reg"].U64; len(got) != 2 || got[0] != 0x23b100000 || got[1] != RegBlockSize {
		t.Errorf("reg: got %#x", got)
	}

	// The node must serialize as part of a tree.
	if _, err := fdt.Build(fdt.Node{Children: []fdt.Node{node}}); err != nil {
		t.Fatal(err)
	}
}

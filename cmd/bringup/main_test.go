package main

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	aic "github.com/tinyrange/aic"
	"github.com/tinyrange/aic/internal/trace"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "board.yaml")
	if err := os.WriteFile(path, []byte(text), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("loadConfig(\"\") error = %v", err)
	}
	if cfg.CPUs != 4 {
		t.Errorf("CPUs = %d, want 4", cfg.CPUs)
	}
	if cfg.Base == 0 {
		t.Error("Base not defaulted")
	}
	if len(cfg.Devices) == 0 {
		t.Error("no default devices")
	}
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeConfig(t, `
cpus: 2
nr-hw: 128
devices:
  - name: nic
    irq: 99
    cpu: 1
`)
	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.CPUs != 2 || cfg.NRHW != 128 {
		t.Errorf("sizing = %d CPUs %d lines, want 2/128", cfg.CPUs, cfg.NRHW)
	}
	if cfg.Base == 0 {
		t.Error("Base not defaulted when the file omits it")
	}
	if len(cfg.Devices) != 1 || cfg.Devices[0] != (deviceConfig{Name: "nic", IRQ: 99, CPU: 1}) {
		t.Errorf("devices = %+v", cfg.Devices)
	}
}

func TestLoadConfigRejectsBadDevices(t *testing.T) {
	for _, text := range []string{
		"devices:\n  - irq: 4\n",
		"cpus: 2\ndevices:\n  - name: nic\n    irq: 4\n    cpu: 2\n",
	} {
		if _, err := loadConfig(writeConfig(t, text)); err == nil {
			t.Errorf("config %q accepted", text)
		}
	}
}

func TestDemo(t *testing.T) {
	cfg := machineConfig{
		CPUs:    3,
		NRHW:    128,
		Base:    0x1000,
		Devices: []deviceConfig{{Name: "a", IRQ: 5}, {Name: "b", IRQ: 77, CPU: 2}},
	}
	b, err := boot(cfg, testLogger())
	if err != nil {
		t.Fatalf("boot() error = %v", err)
	}
	if err := b.runDemo(); err != nil {
		t.Errorf("runDemo() error = %v", err)
	}
	if st := b.c.Stats(); st.Spurious != 0 {
		t.Errorf("demo produced %d spurious events", st.Spurious)
	}
}

func TestSoak(t *testing.T) {
	cfg := machineConfig{
		CPUs:    2,
		NRHW:    64,
		Base:    0x1000,
		Devices: []deviceConfig{{Name: "a", IRQ: 9, CPU: 1}},
	}
	b, err := boot(cfg, testLogger())
	if err != nil {
		t.Fatalf("boot() error = %v", err)
	}
	if err := b.runSoak(5); err != nil {
		t.Errorf("runSoak(5) error = %v", err)
	}
	if b.ipiCount != 5 {
		t.Errorf("IPI deliveries = %d, want 5", b.ipiCount)
	}
	if b.timerCount != 5 {
		t.Errorf("timer deliveries = %d, want 5", b.timerCount)
	}
}

func TestDeviceTree(t *testing.T) {
	b, err := boot(defaultConfig(), testLogger())
	if err != nil {
		t.Fatalf("boot() error = %v", err)
	}
	tree := b.deviceTree()

	names := map[string]bool{}
	for _, child := range tree.Children {
		names[child.Name] = true
	}
	for _, want := range []string{"interrupt-controller@23b100000", "uart0", "i2c0", "wdt"} {
		if !names[want] {
			t.Errorf("tree is missing node %q (have %v)", want, names)
		}
	}

	blob, err := aic.BuildFDT(tree)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(blob) == 0 {
		t.Error("empty blob")
	}
}

func TestTraceRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	stream, err := trace.Open(&buf)
	if err != nil {
		t.Fatalf("trace.Open() error = %v", err)
	}

	cfg := machineConfig{
		CPUs:    2,
		NRHW:    64,
		Base:    0x1000,
		Devices: []deviceConfig{{Name: "a", IRQ: 3}},
	}
	b, err := boot(cfg, testLogger())
	if err != nil {
		t.Fatalf("boot() error = %v", err)
	}
	if err := b.runDemo(); err != nil {
		t.Fatalf("runDemo() error = %v", err)
	}
	if err := stream.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	counts := map[string]int{}
	if err := trace.ReadAll(bytes.NewReader(buf.Bytes()), func(kind string, cpu int, latency time.Duration) error {
		if latency < 0 {
			t.Errorf("negative latency %v for %s", latency, kind)
		}
		counts[kind]++
		return nil
	}); err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if counts["wired"] != 2 || counts["ipi"] != 2 || counts["timer"] != 1 {
		t.Errorf("sample counts = %v, want wired=2 ipi=2 timer=1", counts)
	}
}

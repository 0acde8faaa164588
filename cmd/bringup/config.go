package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// machineConfig describes the simulated board bringup boots.
type machineConfig struct {
	// CPUs is the core count.
	CPUs int `yaml:"cpus"`
	// NRHW overrides the wired line count when nonzero.
	NRHW uint32 `yaml:"nr-hw"`
	// Base is the physical address the device tree advertises for the
	// controller's register block.
	Base uint64 `yaml:"base"`
	// Devices are the wired lines to map and exercise.
	Devices []deviceConfig `yaml:"devices"`
}

// deviceConfig is one wired interrupt source.
type deviceConfig struct {
	Name string `yaml:"name"`
	IRQ  uint32 `yaml:"irq"`
	// CPU routes the line there. Unset means CPU 0.
	CPU int `yaml:"cpu"`
}

// defaultConfig uses t8103 line numbers, so a bare bringup run resembles
// the real machine.
func defaultConfig() machineConfig {
	return machineConfig{
		CPUs: 4,
		Base: 0x23b100000,
		Devices: []deviceConfig{
			{Name: "uart0", IRQ: 605},
			{Name: "i2c0", IRQ: 627, CPU: 1},
			{Name: "wdt", IRQ: 338},
		},
	}
}

// loadConfig reads a YAML machine description, filling in defaults for
// anything it leaves out. An empty path means the default board.
func loadConfig(path string) (machineConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	cfg.Devices = nil
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}

	// Apply defaults
	if cfg.CPUs == 0 {
		cfg.CPUs = defaultConfig().CPUs
	}
	if cfg.Base == 0 {
		cfg.Base = defaultConfig().Base
	}
	if len(cfg.Devices) == 0 {
		cfg.Devices = defaultConfig().Devices
	}

	for _, d := range cfg.Devices {
		if d.Name == "" {
			return cfg, fmt.Errorf("config %q: device with no name", path)
		}
		if d.CPU < 0 || d.CPU >= cfg.CPUs {
			return cfg, fmt.Errorf("config %q: device %q routed to CPU %d of %d", path, d.Name, d.CPU, cfg.CPUs)
		}
	}
	return cfg, nil
}

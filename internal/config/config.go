// Package config loads a run's device list, scheduler choice, and kernel launch parameters from
// a YAML manifest.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/atc-unican/enginecl/internal/errs"
)

// DeviceConfig is one entry in the manifest's device list.
type DeviceConfig struct {
	PlatformIndex      int    `yaml:"platform_index"`
	DeviceIndex        int    `yaml:"device_index"`
	MinChunkMultiplier int    `yaml:"min_chunk_multiplier,omitempty"`
	CPUAffinity        []int  `yaml:"cpu_affinity,omitempty"`
}

// SchedulerConfig selects and parameterizes one of the two work-distribution disciplines.
// Exactly one of RawProportions or Chunks should be set, matching Kind.
type SchedulerConfig struct {
	Kind           string    `yaml:"kind"` // "static" or "dynamic"
	RawProportions []float64 `yaml:"raw_proportions,omitempty"`
	Chunks         uint64    `yaml:"chunks,omitempty"`
}

// Config is the full manifest: everything a Runtime needs besides the host buffers themselves.
type Config struct {
	Devices             []DeviceConfig  `yaml:"devices"`
	Scheduler           SchedulerConfig `yaml:"scheduler"`
	KernelSource        string          `yaml:"kernel_source"`
	EntryPoint          string          `yaml:"entry_point"`
	GlobalWorkSize      uint64          `yaml:"global_work_size"`
	LocalWorkSize       uint64          `yaml:"local_work_size"`
	OutWorkitems        uint32          `yaml:"out_workitems,omitempty"`
	OutPositions        uint32          `yaml:"out_positions,omitempty"`
	BlockingRead        bool            `yaml:"blocking_read,omitempty"`
	RuntimeWaitAllReady bool            `yaml:"wait_all_ready,omitempty"`
	SaveChunks          bool            `yaml:"save_chunks,omitempty"`
}

// Load reads and parses a manifest from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.NewConfigError("config.Load", fmt.Sprintf("reading %s: %v", path, err))
	}
	var c Config
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, errs.NewConfigError("config.Load", fmt.Sprintf("parsing %s: %v", path, err))
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks the structural invariants a manifest must satisfy before it can drive a run;
// it does not repeat the arithmetic Runtime/Scheduler construction re-validates (N%L, raw
// proportion bounds), only what is knowable from the manifest in isolation.
func (c *Config) Validate() error {
	if len(c.Devices) == 0 {
		return errs.NewConfigError("Config.Validate", "at least one device is required")
	}
	if c.GlobalWorkSize == 0 {
		return errs.NewConfigError("Config.Validate", "global_work_size must be nonzero")
	}
	switch c.Scheduler.Kind {
	case "static":
		// Zero raw proportions is legal: StaticScheduler falls back to SplitByDevices.
	case "dynamic":
		if c.Scheduler.Chunks == 0 {
			return errs.NewConfigError("Config.Validate", "dynamic scheduler requires chunks > 0")
		}
	default:
		return errs.NewConfigError("Config.Validate", fmt.Sprintf("unknown scheduler kind %q", c.Scheduler.Kind))
	}
	if c.KernelSource == "" {
		return errs.NewConfigError("Config.Validate", "kernel_source is required")
	}
	if c.EntryPoint == "" {
		return errs.NewConfigError("Config.Validate", "entry_point is required")
	}
	return nil
}

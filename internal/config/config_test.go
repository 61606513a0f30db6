package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atc-unican/enginecl/internal/errs"
)

const manifest = `
devices:
  - platform_index: 0
    device_index: 0
  - platform_index: 0
    device_index: 1
    min_chunk_multiplier: 2
scheduler:
  kind: dynamic
  chunks: 8
kernel_source: saxpy.cl
entry_point: saxpy
global_work_size: 1024
local_work_size: 128
`

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesManifest(t *testing.T) {
	path := writeManifest(t, manifest)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Len(t, cfg.Devices, 2)
	assert.Equal(t, 2, cfg.Devices[1].MinChunkMultiplier)
	assert.Equal(t, "dynamic", cfg.Scheduler.Kind)
	assert.Equal(t, uint64(8), cfg.Scheduler.Chunks)
	assert.Equal(t, uint64(1024), cfg.GlobalWorkSize)
	assert.Equal(t, uint64(128), cfg.LocalWorkSize)
}

func TestLoadMissingFileIsConfigError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrCodeConfiguration))
}

func TestValidateRejectsUnknownSchedulerKind(t *testing.T) {
	path := writeManifest(t, `
devices:
  - platform_index: 0
    device_index: 0
scheduler:
  kind: round-robin
kernel_source: saxpy.cl
entry_point: saxpy
global_work_size: 1024
local_work_size: 128
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrCodeConfiguration))
}

func TestValidateRejectsZeroChunksForDynamic(t *testing.T) {
	path := writeManifest(t, `
devices:
  - platform_index: 0
    device_index: 0
scheduler:
  kind: dynamic
kernel_source: saxpy.cl
entry_point: saxpy
global_work_size: 1024
local_work_size: 128
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrCodeConfiguration))
}

func TestValidateRequiresAtLeastOneDevice(t *testing.T) {
	cfg := &Config{
		Scheduler:      SchedulerConfig{Kind: "static"},
		KernelSource:   "saxpy.cl",
		EntryPoint:     "saxpy",
		GlobalWorkSize: 1024,
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errs.IsCode(err, errs.ErrCodeConfiguration))
}

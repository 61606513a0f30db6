// Package constants holds the default tuning values shared by the scheduler, executor, and runtime packages.
package constants

// DefaultLWS is the local work size used when a Runtime is constructed without an explicit one.
const DefaultLWS = 128

// DefaultOutWorkitems and DefaultOutPositions together describe the identity output pattern:
// one output position written per input work-item.
const (
	DefaultOutWorkitems = 1
	DefaultOutPositions = 1
)

// DefaultMinChunkMultiplier is assumed for a device that sets neither an explicit
// configuration field nor an entry in MinChunkMultiplierEnv.
const DefaultMinChunkMultiplier = 1

// MinChunkMultiplierEnv is the environment variable read once per device at the moment it
// leaves its gated-start wait, parity-preserving the source this runtime was adapted from.
const MinChunkMultiplierEnv = "MIN_CHUNK_MULTIPLIER"

// RequestRingFactor is the multiplier applied to the device count to size the dynamic
// scheduler's request ring: capacity = RequestRingFactor * deviceCount.
const RequestRingFactor = 2

// DefaultWorkLogCapacity is the initial capacity reserved for a scheduler's work log, sized
// generously so steady-state dynamic scheduling rarely triggers a slice grow under the work mutex.
const DefaultWorkLogCapacity = 4096

package enginecl

import "github.com/atc-unican/enginecl/internal/constants"

// Re-exported tuning defaults. See internal/constants for the values shared by the scheduler,
// executor, and runtime packages.
const (
	DefaultLWS                = constants.DefaultLWS
	DefaultOutWorkitems       = constants.DefaultOutWorkitems
	DefaultOutPositions       = constants.DefaultOutPositions
	DefaultMinChunkMultiplier = constants.DefaultMinChunkMultiplier
	MinChunkMultiplierEnv     = constants.MinChunkMultiplierEnv
	RequestRingFactor         = constants.RequestRingFactor
	DefaultWorkLogCapacity    = constants.DefaultWorkLogCapacity
)

//go:build !opencl

package compute

import "fmt"

// NewOpenCLBackend is unavailable in a default build (no cgo, no OpenCL ICD linkage) and always
// returns an error. Rebuild with -tags opencl to get the real backend from opencl.go; in a
// default build NewSimulatedBackend is the backend available, and every code path in this
// module can run against it.
func NewOpenCLBackend() (Backend, error) {
	return nil, fmt.Errorf("compute: built without the opencl tag; rebuild with -tags opencl")
}

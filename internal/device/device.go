/*
PURPOSE:
  Resolves device names from configuration into a concrete Device once,
  at supervisor construction, and describes the host CPU for the logs.

REQUIREMENTS:
  User-specified:
  - The inference device may differ from the training device.
  - "cpu" selects the CPU; anything else follows the training device.

  Implementation-discovered:
  - This build only has CPU execution; accelerator names are rejected early
    instead of failing mid-run.
  - Worker count for windowed inference derives from the physical core count.

ARCHITECTURE INTEGRATION:
  - Called by: internal/engine, internal/cli (device command)
  - Dependencies: github.com/klauspost/cpuid/v2

ERROR HANDLING:
  - Unknown or unavailable device names return an error.

USAGE:
  train, _ := device.Resolve("cpu", device.Device{})
  infer, _ := device.Resolve(cfg.InferDevice, train)
*/

package device

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Kind identifies the execution backend.
type Kind string

const (
	CPU Kind = "cpu"
)

// Device is a resolved execution target.
type Device struct {
	Kind     Kind
	Workers  int
	Brand    string
	Features []string
}

func (d Device) String() string {
	if d.Kind == "" {
		return "unresolved"
	}
	return fmt.Sprintf("%s(workers=%d)", d.Kind, d.Workers)
}

// Resolve turns a configured name into a Device. "auto" and "" follow
// training; "cpu" or "cpu:N" select the CPU with N workers.
func Resolve(name string, training Device) (Device, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch {
	case name == "" || name == "auto":
		if training.Kind == "" {
			return HostCPU(0), nil
		}
		return training, nil
	case name == "cpu":
		return HostCPU(0), nil
	case strings.HasPrefix(name, "cpu:"):
		n, err := strconv.Atoi(strings.TrimPrefix(name, "cpu:"))
		if err != nil || n < 1 {
			return Device{}, fmt.Errorf("invalid worker count in device %q", name)
		}
		return HostCPU(n), nil
	case strings.HasPrefix(name, "cuda") || strings.HasPrefix(name, "mps"):
		return Device{}, fmt.Errorf("device %q is not available in this build (cpu only)", name)
	default:
		return Device{}, fmt.Errorf("unknown device %q", name)
	}
}

// HostCPU describes the local CPU. workers <= 0 uses the physical core count.
func HostCPU(workers int) Device {
	if workers <= 0 {
		workers = cpuid.CPU.PhysicalCores
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return Device{
		Kind:     CPU,
		Workers:  workers,
		Brand:    strings.TrimSpace(cpuid.CPU.BrandName),
		Features: simdFeatures(),
	}
}

func simdFeatures() []string {
	var out []string
	for _, f := range []cpuid.FeatureID{cpuid.SSE4, cpuid.AVX, cpuid.AVX2, cpuid.FMA3, cpuid.AVX512F, cpuid.ASIMD} {
		if cpuid.CPU.Supports(f) {
			out = append(out, f.String())
		}
	}
	return out
}

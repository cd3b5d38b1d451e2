package model

import (
	"strconv"
	"strings"

	"github.com/vortexlab/vortex/internal/verr"
)

// ParsePortMapping parses a "host:guest" string into a host/guest port pair.
// Any arity other than exactly two colon-separated segments, or a segment
// that doesn't parse as a uint16, is an InvalidInput error.
func ParsePortMapping(s string) (host, guest uint16, err error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, &verr.InvalidInput{Field: "ports", Message: "port mapping must be \"host:guest\""}
	}
	h, err1 := strconv.ParseUint(parts[0], 10, 16)
	g, err2 := strconv.ParseUint(parts[1], 10, 16)
	if err1 != nil || err2 != nil {
		return 0, 0, &verr.InvalidInput{Field: "ports", Message: "port mapping must be \"host:guest\""}
	}
	return uint16(h), uint16(g), nil
}

// Validate checks a VmSpec for the pre-create invariants in spec §4.2.
// Validate is total: for any spec it returns either nil or an *verr.InvalidInput
// / *verr.ResourceLimitExceeded, and it never performs backend I/O. Host
// volume paths are not checked for existence here — only at attach/create
// time does a missing host path become a backend-reported failure.
func (s VmSpec) Validate(global GlobalResourceLimits) error {
	if s.MemoryMB <= 0 {
		return &verr.InvalidInput{Field: "memory", Message: "Memory must be greater than 0"}
	}
	if s.CPUs <= 0 {
		return &verr.InvalidInput{Field: "cpus", Message: "CPUs must be greater than 0"}
	}

	for host, guest := range s.Ports {
		if err := validatePort(host); err != nil {
			return err
		}
		if err := validatePort(guest); err != nil {
			return err
		}
	}

	effMaxMem := global.MaxMemoryPerVMMB
	if s.ResourceLimits != nil && s.ResourceLimits.MaxMemoryMB != nil {
		effMaxMem = minNonZero(effMaxMem, *s.ResourceLimits.MaxMemoryMB)
	}
	if effMaxMem > 0 && s.MemoryMB > effMaxMem {
		return &verr.ResourceLimitExceeded{Resource: "memory"}
	}

	return nil
}

// validatePort exists purely to document that host/guest ports are already
// uint16-typed in VmSpec, so they cannot fail to "fit a u16" by construction;
// the only remaining check is that a mapping isn't the reserved zero value.
func validatePort(p uint16) error {
	if p == 0 {
		return &verr.InvalidInput{Field: "ports", Message: "port must be between 1 and 65535"}
	}
	return nil
}

// minNonZero returns the smaller of a and b, treating a zero value as
// "unset" rather than as the smallest possible cap.
func minNonZero(a, b int) int {
	if a <= 0 {
		return b
	}
	if b <= 0 {
		return a
	}
	if a < b {
		return a
	}
	return b
}

// GlobalResourceLimits are the soft caps from the global config, consulted
// by spec validation (spec §5 "Resource caps").
type GlobalResourceLimits struct {
	MaxConcurrentVMs int `toml:"max_concurrent_vms"`
	MaxMemoryPerVMMB int `toml:"max_memory_per_vm_mb"`
	MaxTotalMemoryMB int `toml:"max_total_memory_mb"`
}

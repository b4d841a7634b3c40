package enums

import "fmt"

// StatusPhase is the phase carried by the single-slot operation status.
type StatusPhase string

const (
	StatusPhasePending StatusPhase = "pending"
	StatusPhaseSuccess StatusPhase = "success"
	StatusPhaseError   StatusPhase = "error"
)

var validStatusPhases = []StatusPhase{
	StatusPhasePending,
	StatusPhaseSuccess,
	StatusPhaseError,
}

// IsValid reports whether the value is a known StatusPhase.
func (p StatusPhase) IsValid() bool {
	for _, candidate := range validStatusPhases {
		if candidate == p {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the phase ends an operation.
func (p StatusPhase) IsTerminal() bool {
	return p == StatusPhaseSuccess || p == StatusPhaseError
}

// ParseStatusPhase converts raw input into a StatusPhase.
func ParseStatusPhase(value string) (StatusPhase, error) {
	for _, candidate := range validStatusPhases {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid status phase %q", value)
}

package safety

import (
	"errors"
	"fmt"

	"github.com/codeready-toolchain/remedy/pkg/models"
)

// Denial identifies which safety gate rejected an execution. The values
// are stable API error kinds.
type Denial string

// Denial kinds.
const (
	DenialCircuitOpen Denial = "CircuitOpen"
	DenialRateLimited Denial = "RateLimited"
	DenialInCooldown  Denial = "InCooldown"
	DenialBlackout    Denial = "Blackout"
)

// DenialError is a safety-gate rejection. Denials are never retried; the
// API maps them to 423 Locked.
type DenialError struct {
	Kind    Denial
	Message string
	Details models.AnyMap
}

func (e *DenialError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// AsDenial extracts a gate denial from an error chain.
func AsDenial(err error) (*DenialError, bool) {
	var de *DenialError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

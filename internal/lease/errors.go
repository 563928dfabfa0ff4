package lease

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidState matches every *InvalidStateError via errors.Is
var ErrInvalidState = errors.New("invalid state transition")

// InvalidStateError reports a transition attempted from an illegal source state
type InvalidStateError struct {
	Entity string
	ID     uuid.UUID
	Op     string
	// Status is the observed state; empty when the record does not exist
	Status string
}

func (e *InvalidStateError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("cannot %s %s %s: not found", e.Op, e.Entity, e.ID)
	}
	return fmt.Sprintf("cannot %s %s %s in state %q", e.Op, e.Entity, e.ID, e.Status)
}

// Is makes errors.Is(err, ErrInvalidState) hold
func (e *InvalidStateError) Is(target error) bool {
	return target == ErrInvalidState
}

package rotation

import (
	"errors"
	"fmt"

	"github.com/org/credcore/pkg/models"
)

var (
	// ErrInvalidState matches every *InvalidStateError.
	ErrInvalidState = errors.New("invalid rotation state")

	// ErrAlreadyScheduled is returned when concurrent schedules are disabled
	// and the credential already has a SCHEDULED rotation.
	ErrAlreadyScheduled = errors.New("credential already has a scheduled rotation")

	// ErrAutoRotateDisabled is returned by AutoRotatePassword when the
	// credential has no active policy with auto-rotation enabled.
	ErrAutoRotateDisabled = errors.New("auto-rotation is not enabled for this credential")

	// ErrInvalidPolicy wraps rotation policy validation failures.
	ErrInvalidPolicy = errors.New("invalid rotation policy")

	// ErrTenantMismatch is returned when assigning another tenant's policy.
	ErrTenantMismatch = errors.New("rotation policy belongs to another tenant")
)

// InvalidStateError is returned for an action on a rotation record that is
// no longer SCHEDULED.
type InvalidStateError struct {
	RotationID string
	State      models.RotationState
	Action     string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s rotation %s in state %s", e.Action, e.RotationID, e.State)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

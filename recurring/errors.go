package recurring

import (
	"fmt"

	"github.com/warp/rent-engine/generic"
)

// ErrScheduleNotFound is returned when the schedule does not exist in the caller's organization.
var ErrScheduleNotFound = fmt.Errorf("schedule %w", generic.ErrNotFound)

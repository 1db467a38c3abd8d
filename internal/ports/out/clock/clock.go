package clock

import "time"

// Clock provides time to the application.
// Tests substitute a controllable implementation.
type Clock interface {
	Now() time.Time
}

// Package clock abstracts time so stamped artifacts can be tested
// deterministically.
package clock

import "time"

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

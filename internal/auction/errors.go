package auction

import (
	"errors"
	"fmt"
)

// ErrOrderRejected is the base class for order validation failures; use
// errors.Is to detect them at the call boundary.
var ErrOrderRejected = errors.New("order rejected")

func errInvalidQuantity(mWh float64) error {
	return fmt.Errorf("%w: invalid quantity %v", ErrOrderRejected, mWh)
}

func errBelowMinimum(mWh, minimum float64) error {
	return fmt.Errorf("%w: quantity %v below minimum %v", ErrOrderRejected, mWh, minimum)
}

func errTimeslotDisabled(serial int) error {
	return fmt.Errorf("%w: timeslot %d is not enabled", ErrOrderRejected, serial)
}

package stripe

import (
	"errors"
	"net/http"

	"github.com/stripe/stripe-go/v76"
)

// IsResourceMissing reports whether Stripe answered that the object does not exist.
func IsResourceMissing(err error) bool {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return false
	}
	return stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound
}

// IsTransient reports whether a failed call may succeed if repeated: rate
// limits, Stripe-side errors and anything that never produced an API answer.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return true
	}
	switch {
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests:
		return true
	case stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
		return true
	case stripeErr.Type == stripe.ErrorTypeAPI:
		return true
	}
	return false
}

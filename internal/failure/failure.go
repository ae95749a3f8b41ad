// Package failure defines the error taxonomy shared by connectors, the payment
// client and the checkout/cancellation coordinators.
package failure

import (
	"errors"
	"fmt"
)

// Class is the stable failure classification reported to callers and metrics.
type Class string

const (
	ClassNone                Class = ""
	ClassNetwork             Class = "NETWORK_FAILURE"
	ClassProviderRejection   Class = "PROVIDER_REJECTION"
	ClassProtocolUnavailable Class = "PROTOCOL_UNAVAILABLE"
	ClassSchemaMismatch      Class = "SCHEMA_MISMATCH"
	ClassPayment             Class = "PAYMENT_FAILURE"
	ClassStuckCompensation   Class = "STUCK_COMPENSATION"
	// ClassInternal covers programming or infrastructure faults (panics, storage).
	ClassInternal Class = "INTERNAL_ERROR"
)

var (
	ErrNoProtocolConfigured = errors.New("no protocol configured for service")
	ErrServiceInactive      = errors.New("service is inactive")
	ErrServiceNotFound      = errors.New("service not found")
	ErrInvalidCheckout      = errors.New("invalid checkout request")
	ErrReservationNotFound  = errors.New("reservation not found")
	ErrNotOwner             = errors.New("reservation does not belong to customer")
	ErrHoldExpired          = errors.New("hold expired")
)

// Error is a classified failure. Op and Provider identify the call that failed.
type Error struct {
	Class    Class
	Op       string
	Provider string
	Message  string
	// Raw is the undecodable payload for schema mismatches.
	Raw []byte
	// Delivered is true when the request reached the remote side, i.e. a
	// non-idempotent call may have taken effect.
	Delivered bool
	// StatusCode is the HTTP status returned by the remote side, 0 if none.
	StatusCode int
	// Code is the provider's business code (e.g. CUSTOMER_EXISTS), if reported.
	Code string
	Err  error
}

func (e *Error) Error() string {
	msg := string(e.Class)
	if e.Op != "" {
		msg += " " + e.Op
	}
	if e.Provider != "" {
		msg += " [" + e.Provider + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by class so errors.Is(err, failure.Network) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Class == e.Class && t.Op == "" && t.Provider == "" && t.Message == "" && t.Err == nil
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// Class markers usable with errors.Is.
var (
	Network             = &Error{Class: ClassNetwork}
	ProviderRejection   = &Error{Class: ClassProviderRejection}
	ProtocolUnavailable = &Error{Class: ClassProtocolUnavailable}
	SchemaMismatch      = &Error{Class: ClassSchemaMismatch}
	Payment             = &Error{Class: ClassPayment}
	StuckCompensation   = &Error{Class: ClassStuckCompensation}
)

// New builds a classified error.
func New(class Class, op, format string, args ...any) *Error {
	return &Error{Class: class, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(class Class, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Class: class, Op: op, Err: err}
}

// ClassOf returns the class of the first *Error in err's chain. Sentinels from
// this package map onto the class a caller should act on.
func ClassOf(err error) Class {
	if err == nil {
		return ClassNone
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}
	switch {
	case errors.Is(err, ErrNoProtocolConfigured):
		return ClassProtocolUnavailable
	case errors.Is(err, ErrHoldExpired), errors.Is(err, ErrServiceInactive):
		return ClassProviderRejection
	}
	return ClassInternal
}

// IsClass reports whether err carries the given class.
func IsClass(err error, class Class) bool {
	return err != nil && ClassOf(err) == class
}

// WasDelivered reports whether the failed request is known to have reached the
// remote side. Unclassified errors are treated as delivered.
func WasDelivered(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Delivered
	}
	return err != nil
}

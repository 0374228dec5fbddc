package framing

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation marks an unrecoverable wire error. The connection
	// must be closed.
	ErrProtocolViolation = errors.New("framing: protocol violation")
	// ErrMessageTooLarge is returned when a message exceeds the size limit.
	ErrMessageTooLarge = errors.New("framing: message too large")
)

// FaultPrefix starts every fault string.
const FaultPrefix = "http://schemas.microsoft.com/ws/2006/05/framing/faults/"

// Fault strings written in a Fault record.
const (
	FaultUnsupportedVersion     = FaultPrefix + "UnsupportedVersion"
	FaultUnsupportedMode        = FaultPrefix + "UnsupportedMode"
	FaultContentTypeInvalid     = FaultPrefix + "ContentTypeInvalid"
	FaultEndpointNotFound       = FaultPrefix + "EndpointNotFound"
	FaultMaxMessageSizeExceeded = FaultPrefix + "MaxMessageSizeExceededFault"
	FaultUpgradeInvalid         = FaultPrefix + "UpgradeInvalid"
)

// ViolationError is a protocol violation detected locally. When Fault is
// set the peer should be told with a Fault record before the connection is
// closed.
type ViolationError struct {
	Fault  string
	Reason string
	Err    error
}

func (e *ViolationError) Error() string {
	msg := "framing: protocol violation: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ViolationError) Is(target error) bool { return target == ErrProtocolViolation }

func (e *ViolationError) Unwrap() error { return e.Err }

// Violation returns a *ViolationError with a formatted reason.
func Violation(fault, format string, args ...any) error {
	return &ViolationError{Fault: fault, Reason: fmt.Sprintf(format, args...)}
}

// WrapViolation marks err as a protocol violation.
func WrapViolation(fault, reason string, err error) error {
	return &ViolationError{Fault: fault, Reason: reason, Err: err}
}

// FaultOf returns the fault string that should answer err, if any.
func FaultOf(err error) string {
	var v *ViolationError
	if errors.As(err, &v) {
		return v.Fault
	}
	return ""
}

// FaultError is a Fault record received from the peer. It ends the
// connection like any protocol violation.
type FaultError struct {
	Fault string
}

func (e *FaultError) Error() string { return "framing: peer fault: " + e.Fault }

func (e *FaultError) Is(target error) bool { return target == ErrProtocolViolation }

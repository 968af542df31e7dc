// Package apperr tags component errors with a kind so callers can decide
// recoverability without inspecting message text.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	KindInternal    Kind = "internal"
	KindConfig      Kind = "config"
	KindAuth        Kind = "auth"
	KindValidation  Kind = "validation"
	KindEligibility Kind = "eligibility"
	KindTransient   Kind = "transient"
	KindMalformed   Kind = "malformed"
	KindContract    Kind = "contract"
	KindNetwork     Kind = "network"
	KindPayment     Kind = "payment"
	KindInvalid     Kind = "invalid"
	KindDiscarded   Kind = "discarded"
	KindNotFound    Kind = "not_found"
)

// Error is a tagged error. MsgID names the localized message shown to users.
type Error struct {
	Kind  Kind
	Op    string
	MsgID MsgID
	Err   error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds a tagged error.
func New(kind Kind, op string, msgID MsgID, err error) *Error {
	return &Error{Kind: kind, Op: op, MsgID: msgID, Err: err}
}

// Config reports missing or unusable configuration.
func Config(op string, msgID MsgID, err error) *Error {
	return New(KindConfig, op, msgID, err)
}

// Auth reports rejected credentials.
func Auth(op string, msgID MsgID, err error) *Error {
	return New(KindAuth, op, msgID, err)
}

// Validation reports input the user must correct.
func Validation(op string, msgID MsgID, err error) *Error {
	return New(KindValidation, op, msgID, err)
}

// Eligibility reports an action refused by balance or usage caps.
func Eligibility(op string, msgID MsgID) *Error {
	return New(KindEligibility, op, msgID, nil)
}

// Transient reports an overloaded or rate-limited dependency.
func Transient(op string, err error) *Error {
	return New(KindTransient, op, MsgBusy, err)
}

// Malformed reports generator output that could not be parsed.
func Malformed(op string, err error) *Error {
	return New(KindMalformed, op, MsgMalformedOutput, err)
}

// Network reports a failed request to a remote service.
func Network(op string, err error) *Error {
	return New(KindNetwork, op, MsgNetwork, err)
}

// Invalid reports a call made in the wrong state or with broken inputs.
func Invalid(op string, err error) *Error {
	return New(KindInvalid, op, MsgInvalidState, err)
}

// KindOf returns the kind of the first tagged error in err's chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MsgIDOf returns the message id of the first tagged error in err's chain.
func MsgIDOf(err error) MsgID {
	var e *Error
	if errors.As(err, &e) && e.MsgID != "" {
		return e.MsgID
	}
	return MsgUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

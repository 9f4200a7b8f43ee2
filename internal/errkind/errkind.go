// Package errkind classifies domain errors so transports can map them
// without knowing every sentinel.
package errkind

import (
	"errors"
)

// Kind is the closed set of error categories surfaced to callers.
type Kind string

const (
	KindValidation     Kind = "validation_error"
	KindConflict       Kind = "conflict"
	KindAuthentication Kind = "authentication_error"
	KindRemoteGateway  Kind = "remote_gateway_error"
	KindNotFound       Kind = "not_found"
	KindInternal       Kind = "internal_error"
)

// Error is a classified error with a stable snake_case code.
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches on kind and code so a sentinel still matches after Wrap.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	if e == nil {
		return nil
	}
	return &Error{Kind: e.Kind, Code: e.Code, Err: cause}
}

func Validation(code string) *Error     { return &Error{Kind: KindValidation, Code: code} }
func Conflict(code string) *Error       { return &Error{Kind: KindConflict, Code: code} }
func Authentication(code string) *Error { return &Error{Kind: KindAuthentication, Code: code} }
func NotFound(code string) *Error       { return &Error{Kind: KindNotFound, Code: code} }

// RemoteGateway classifies a failed or timed out call to the payment processor.
func RemoteGateway(code string, cause error) *Error {
	return &Error{Kind: KindRemoteGateway, Code: code, Err: cause}
}

// Of returns the kind of the first classified error in the chain, or KindInternal.
func Of(err error) Kind {
	if err == nil {
		return ""
	}
	var kerr *Error
	if errors.As(err, &kerr) && kerr != nil {
		return kerr.Kind
	}
	return KindInternal
}

// Code returns the code of the first classified error in the chain.
func Code(err error) string {
	var kerr *Error
	if errors.As(err, &kerr) && kerr != nil {
		return kerr.Code
	}
	return ""
}

func IsValidation(err error) bool     { return Of(err) == KindValidation }
func IsConflict(err error) bool       { return Of(err) == KindConflict }
func IsAuthentication(err error) bool { return Of(err) == KindAuthentication }
func IsRemoteGateway(err error) bool  { return Of(err) == KindRemoteGateway }
func IsNotFound(err error) bool       { return Of(err) == KindNotFound }

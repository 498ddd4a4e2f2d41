package errors

import (
	"errors"

	"github.com/riskkernel/mqk/internal/schema"
)

// KindError attaches a closed error Kind to a wrapped message. It
// composes with Wrap/New below it in the chain: New/Wrap build the message,
// WithKind tags it for the policy table the caller's retry/halt logic reads.
type KindError struct {
	kind ErrorKind
	err  error
}

// ErrorKind mirrors schema.ErrorKind so callers outside this package never
// need to import schema just to compare kinds.
type ErrorKind = schema.ErrorKind

const (
	KindValidationError    = schema.KindValidationError
	KindPreconditionFailed = schema.KindPreconditionFailed
	KindStateConflict      = schema.KindStateConflict
	KindBrokerTransient    = schema.KindBrokerTransient
	KindBrokerPermanent    = schema.KindBrokerPermanent
	KindDataIntegrity      = schema.KindDataIntegrity
	KindReconcileDirty     = schema.KindReconcileDirty
	KindSecurityRefusal    = schema.KindSecurityRefusal
	KindCorruption         = schema.KindCorruption
	KindUnreachable        = schema.KindUnreachable
)

// WithKind tags err with a closed Kind. Panics are never raised here:
// an unrecognized kind is still stored verbatim, since the closed set is
// enforced by the type system (callers can only pass a schema.ErrorKind
// constant), not by this function.
func WithKind(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &KindError{kind: kind, err: err}
}

func (e *KindError) Error() string {
	return string(e.kind) + ": " + e.err.Error()
}

func (e *KindError) Unwrap() error {
	return e.err
}

// Kind extracts the closed error Kind from err, walking the Unwrap chain.
// The zero value means no KindError was found in the chain.
func Kind(err error) (ErrorKind, bool) {
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.kind, true
	}
	return "", false
}

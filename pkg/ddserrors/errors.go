// Package ddserrors defines the error kinds of spec.md §7 as values
// comparable with errors.Is, wrapped with github.com/pkg/errors for stack
// context at the point they are raised.
package ddserrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is one of the error kinds from spec.md §7. Kind does not carry
// source-specific detail; callers wrap it with errors.Wrap for that.
type Kind string

const (
	KindInitialization     Kind = "initialization"
	KindInconsistency      Kind = "inconsistency"
	KindFullFile           Kind = "full_file"
	KindFullDisk           Kind = "full_disk"
	KindValueAccess        Kind = "value_access"
	KindPreconditionNotMet Kind = "precondition_not_met"
	KindUnsupportedType    Kind = "unsupported_type"
	KindConfiguration      Kind = "configuration"
)

// Error is a typed error carrying a Kind for errors.Is-style matching.
type Error struct {
	Kind Kind
	msg  string
}

func (e *Error) Error() string {
	if e.msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

// Is allows errors.Is(err, ddserrors.FullDisk) to match any Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(k Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: k, msg: fmt.Sprintf(format, args...)}
}

// FullFile is raised internally by SizeTracker when a write would overflow
// the current file; it is always recovered by the writer via rotation and
// must never surface to a caller (spec.md §7).
type FullFile struct {
	Required uint64
}

func (e *FullFile) Error() string {
	return fmt.Sprintf("full_file: requires %d more bytes", e.Required)
}

// Sentinels usable with errors.Is for the kinds that do cross package
// boundaries undecorated.
var (
	FullDisk           = &Error{Kind: KindFullDisk}
	PreconditionNotMet = &Error{Kind: KindPreconditionNotMet}
)

// NewInitialization wraps cause as an Initialization-kind error.
func NewInitialization(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return newErr(KindInitialization, format, args...)
	}
	return errors.Wrap(cause, newErr(KindInitialization, format, args...).Error())
}

// NewInconsistency wraps cause as an Inconsistency-kind error.
func NewInconsistency(cause error, format string, args ...interface{}) error {
	if cause == nil {
		return newErr(KindInconsistency, format, args...)
	}
	return errors.Wrap(cause, newErr(KindInconsistency, format, args...).Error())
}

// NewValueAccess reports a schema-text generation failure for a value the
// generator cannot read.
func NewValueAccess(format string, args ...interface{}) error {
	return newErr(KindValueAccess, format, args...)
}

// NewUnsupportedType reports a DDS type kind the schema-text generator does
// not model (maps, unions, bitsets, 128-bit floats — spec.md §7).
func NewUnsupportedType(format string, args ...interface{}) error {
	return newErr(KindUnsupportedType, format, args...)
}

// NewConfiguration reports a YAML validation failure, surfaced to the CLI.
func NewConfiguration(format string, args ...interface{}) error {
	return newErr(KindConfiguration, format, args...)
}

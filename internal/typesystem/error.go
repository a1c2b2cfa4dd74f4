package typesystem

import (
	"errors"
	"fmt"
)

// MalformedKind classifies a MalformedTagError.
type MalformedKind int

const (
	KindShape MalformedKind = iota
	KindArity
	KindDuplicateParam
	KindDanglingParam
	KindRecursiveBound
)

// Sentinels matched with errors.Is against a MalformedTagError.
var (
	ErrShape          = errors.New("malformed tag shape")
	ErrArity          = errors.New("arity mismatch")
	ErrDuplicateParam = errors.New("duplicate lambda parameter")
	ErrDanglingParam  = errors.New("dangling lambda parameter")
	ErrRecursiveBound = errors.New("recursive bound")
)

// MalformedTagError reports a violated structural invariant, raised at
// construction or combination time.
type MalformedTagError struct {
	Kind MalformedKind
	Msg  string
}

func (e *MalformedTagError) Error() string {
	return fmt.Sprintf("malformed tag: %s: %s", e.Unwrap(), e.Msg)
}

func (e *MalformedTagError) Unwrap() error {
	switch e.Kind {
	case KindArity:
		return ErrArity
	case KindDuplicateParam:
		return ErrDuplicateParam
	case KindDanglingParam:
		return ErrDanglingParam
	case KindRecursiveBound:
		return ErrRecursiveBound
	default:
		return ErrShape
	}
}

func NewMalformedTagError(kind MalformedKind, format string, args ...interface{}) *MalformedTagError {
	return &MalformedTagError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func errShape(format string, args ...interface{}) error {
	return NewMalformedTagError(KindShape, format, args...)
}

func errArity(format string, args ...interface{}) error {
	return NewMalformedTagError(KindArity, format, args...)
}

// Package bte ("basic typed error") is the typed-error vocabulary shared
// across the column store. It mirrors the teacher's own bte package: a small
// status code plus a message, instead of sentinel errors or panics at API
// boundaries.
package bte

import "fmt"

// Code is a status code from the external interface contract.
type Code int

const (
	OK Code = iota
	NoData
	NotFound
	BadArg
	BadData
	BadValue
	NotImplemented
	IO
	Unavailable
)

func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case NoData:
		return "NO_DATA"
	case NotFound:
		return "NOT_FOUND"
	case BadArg:
		return "BAD_ARG"
	case BadData:
		return "BAD_DATA"
	case BadValue:
		return "BAD_VALUE"
	case NotImplemented:
		return "NOT_IMPLEMENTED"
	case IO:
		return "IO"
	case Unavailable:
		return "UNAVAILABLE"
	default:
		return "UNKNOWN"
	}
}

// BTE is a typed error: a status code plus a human-readable message. It
// satisfies the standard error interface so it composes with the rest of
// the ecosystem, but callers that care can switch on Code().
type BTE interface {
	error
	Code() Code
}

type bte struct {
	code Code
	msg  string
}

func (e *bte) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

func (e *bte) Code() Code {
	return e.code
}

// Err constructs a BTE with the given code and message.
func Err(code Code, msg string) BTE {
	return &bte{code: code, msg: msg}
}

// Errf constructs a BTE with a formatted message.
func Errf(code Code, format string, args ...interface{}) BTE {
	return &bte{code: code, msg: fmt.Sprintf(format, args...)}
}

// Chan wraps err in a closed, single-element channel, for handing a
// terminal error to a channel-based streaming API in one line.
func Chan(err BTE) chan BTE {
	c := make(chan BTE, 1)
	c <- err
	close(c)
	return c
}

// CodeOf extracts the Code from err, defaulting to IO for an error that
// did not originate from this package (e.g. a raw os/rados error).
func CodeOf(err error) Code {
	if err == nil {
		return OK
	}
	if b, ok := err.(BTE); ok {
		return b.Code()
	}
	return IO
}

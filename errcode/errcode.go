package errcode

import (
	"errors"

	"github.com/networkfusion/tinyfs-go/tinyfs"
)

// Code is a stable, bus-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK             Code = "ok"
	Busy           Code = "busy"
	Unsupported    Code = "unsupported"
	InvalidParams  Code = "invalid_params"
	InvalidPayload Code = "invalid_payload"
	InvalidTopic   Code = "invalid_topic"
	Timeout        Code = "timeout"

	// Storage taxonomy.
	NotFormatted       Code = "not_formatted"
	OutOfSpace         Code = "out_of_space"
	NameTooLong        Code = "name_too_long"
	DuplicateName      Code = "duplicate_name"
	FileNotFound       Code = "file_not_found"
	SerializationFault Code = "serialization_fault"
	StorageFault       Code = "storage_fault"

	Error Code = "error" // generic fallback
)

// Optional wrapper when we want to keep context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	if e.Msg != "" {
		return string(e.C) + ": " + e.Msg
	}
	return string(e.C)
}
func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Of extracts a Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	if c, ok := err.(Code); ok {
		return c
	}
	type coder interface{ Code() Code }
	if x, ok := err.(coder); ok {
		return x.Code()
	}
	return Error
}

// MapFSErr maps filesystem errors to a Code. Anything that is not one of the
// logical faults is a device-level storage fault.
func MapFSErr(err error) Code {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, tinyfs.ErrNotFormatted):
		return NotFormatted
	case errors.Is(err, tinyfs.ErrOutOfSpace):
		return OutOfSpace
	case errors.Is(err, tinyfs.ErrNameTooLong):
		return NameTooLong
	case errors.Is(err, tinyfs.ErrDuplicateName):
		return DuplicateName
	case errors.Is(err, tinyfs.ErrFileNotFound):
		return FileNotFound
	case errors.Is(err, tinyfs.ErrCorrupt):
		return SerializationFault
	default:
		return StorageFault
	}
}

package tinyfs

import "errors"

// Logical faults surfaced to callers. All are recoverable: free space and
// retry, format first, pick another name. Device-level faults propagate from
// the block device wrapped with context and are never retried at this layer.
var (
	ErrNotFormatted  = errors.New("not_formatted")
	ErrOutOfSpace    = errors.New("out_of_space")
	ErrNameTooLong   = errors.New("name_too_long")
	ErrDuplicateName = errors.New("duplicate_name")
	ErrFileNotFound  = errors.New("file_not_found")
	ErrReadOnly      = errors.New("read_only_handle")
	ErrClosed        = errors.New("handle_closed")
	ErrCorrupt       = errors.New("serialization_fault")
)

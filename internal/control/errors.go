package control

import "codeberg.org/mutker/datasyncd/internal/errors"

const (
	ErrReadFailed   = errors.ErrorCode("control_read_failed")
	ErrDecodeFailed = errors.ErrorCode("control_decode_failed")
	ErrWriteFailed  = errors.ErrorCode("control_write_failed")
)

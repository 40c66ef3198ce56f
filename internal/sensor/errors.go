package sensor

import "codeberg.org/mutker/datasyncd/internal/errors"

const (
	// Connection Errors
	ErrConnectFailed   = errors.ErrorCode("sensor_connect_failed")
	ErrSubscribeFailed = errors.ErrorCode("sensor_subscribe_failed")
	ErrClosed          = errors.ErrorCode("sensor_closed")

	// Read Errors
	ErrReadTimeout  = errors.ErrorCode("sensor_read_timeout")
	ErrReadFailed   = errors.ErrorCode("sensor_read_failed")
	ErrDecodeFailed = errors.ErrorCode("sensor_decode_failed")

	// Configuration Errors
	ErrUnknownDriver = errors.ErrorCode("sensor_unknown_driver")
)

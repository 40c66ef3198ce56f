package collector

import "codeberg.org/mutker/datasyncd/internal/errors"

const (
	// Lifecycle Errors
	ErrNoSensors      = errors.ErrorCode("collector_no_sensors")
	ErrAlreadyStarted = errors.ErrorCode("collector_already_started")
	ErrStopped        = errors.ErrorCode("collector_stopped")

	// Schema Errors
	ErrColumnsNotSet = errors.ErrorCode("collector_columns_not_set")
	ErrColumnsFixed  = errors.ErrorCode("collector_columns_fixed")
)

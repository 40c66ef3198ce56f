package store

import "codeberg.org/mutker/datasyncd/internal/errors"

const (
	// Write Errors
	ErrCreatePartition = errors.ErrorCode("store_create_partition_failed")
	ErrWriteFailed     = errors.ErrorCode("store_write_failed")

	// Read Errors
	ErrPartitionMissing = errors.ErrorCode("store_partition_missing")
	ErrReadFailed       = errors.ErrorCode("store_read_failed")

	// Schema Errors
	ErrNoColumns = errors.ErrorCode("store_no_columns")
)

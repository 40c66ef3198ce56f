package publisher

import "codeberg.org/mutker/datasyncd/internal/errors"

const (
	// Delivery Errors
	ErrDeliveryFailed   = errors.ErrorCode("publish_delivery_failed")
	ErrEndpointRejected = errors.ErrorCode("publish_endpoint_rejected")
	ErrEncodeFailed     = errors.ErrorCode("publish_encode_failed")

	// Aggregation Errors
	ErrAggregateFailed = errors.ErrorCode("publish_aggregate_failed")

	// Checkpoint Errors
	ErrCheckpointFailed = errors.ErrorCode("publish_checkpoint_failed")
)

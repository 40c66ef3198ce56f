package app

import "codeberg.org/mutker/datasyncd/internal/errors"

const (
	ErrInitSensors   = errors.ErrorCode("app_init_sensors_failed")
	ErrInitCollector = errors.ErrorCode("app_init_collector_failed")
	ErrSeedControl   = errors.ErrorCode("app_seed_control_failed")
	ErrShutdownDirty = errors.ErrorCode("app_shutdown_incomplete")
)

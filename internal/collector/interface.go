package collector

import "time"

// State is the collector's applied lifecycle state. The control document
// carries the intent; loops reconcile toward it on every iteration.
// Stopped is terminal for a collector instance.
type State int32

const (
	Stopped State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Paused:
		return "PAUSED"
	default:
		return "STOPPED"
	}
}

// Config tunes the sampling and flush loops.
type Config struct {
	// OutputInterval is the flush cadence. A flush also triggers early
	// when the buffer reaches BatchSize.
	OutputInterval time.Duration
	BatchSize      int

	// ReadTimeout bounds a single sensor read.
	ReadTimeout time.Duration
}

package sensor

import (
	"context"
	"time"
)

// Fields maps a field name (e.g. "temperature") to its sampled value.
type Fields map[string]float64

// Reading is one timestamped sample from one sensor. Immutable once
// produced.
type Reading struct {
	Sensor    string
	Timestamp time.Time
	Values    Fields
}

// Sensor is the capability the collector samples from. Read blocks until a
// sample is available or ctx expires; transport faults surface as
// sensor_read_* coded errors and are recovered by the caller.
type Sensor interface {
	Name() string
	Read(ctx context.Context) (Fields, error)
	Close() error
}

// Clone returns an independent copy of f.
func (f Fields) Clone() Fields {
	clone := make(Fields, len(f))
	for k, v := range f {
		clone[k] = v
	}

	return clone
}

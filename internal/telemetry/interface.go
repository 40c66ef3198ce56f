package telemetry

import (
	"context"
	"time"
)

// Collector records pipeline health events for operator inspection. It is
// observability only: the record store stays the single source of data.
type Collector interface {
	RecordFlush(ctx context.Context, rows int, flushErr error) error
	RecordPublish(ctx context.Context, publisher string, window time.Time, attempts int, publishErr error) error
	Close() error
}

// Event is one recorded pipeline occurrence.
type Event struct {
	Timestamp time.Time
	Component string
	Event     string
	Detail    string
	Value     float64
}

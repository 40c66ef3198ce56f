package store

import (
	"time"

	"codeberg.org/mutker/datasyncd/internal/sensor"
)

// TimestampLayout is the wire format of the timestamp column.
const TimestampLayout = "2006-01-02 15:04:05"

// Row is one persisted record: a capture timestamp plus the sampled values,
// aligned to the writer's column schema on disk.
type Row struct {
	Timestamp time.Time
	Values    sensor.Fields
}

// PartitionPath reports where the day partition holding ts lives, relative
// to the store root: yyyy/mm/dd.csv.
func PartitionPath(ts time.Time) string {
	return ts.Format("2006/01/02") + ".csv"
}

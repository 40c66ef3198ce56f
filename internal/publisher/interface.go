package publisher

import "time"

// AggregateRecord is one computed summary over a complete aggregation
// window. A nil field value publishes as null: the window had no data for
// that field.
type AggregateRecord struct {
	Window time.Time
	Fields []string
	Values map[string]*float64
}

// Source computes the aggregate for one window. Returning a nil record
// means the window holds no data at all; the runner then advances the
// checkpoint without a delivery. An error leaves the window pending.
type Source interface {
	Aggregate(window time.Time) (*AggregateRecord, error)
}

// WindowTimestamp is the wire format of the window start in payloads.
func (r *AggregateRecord) WindowTimestamp() string {
	return r.Window.Format("2006-01-02 15:04")
}

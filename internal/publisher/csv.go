package publisher

import (
	"math"
	"time"

	"codeberg.org/mutker/datasyncd/internal/errors"
	"codeberg.org/mutker/datasyncd/internal/store"
)

// csvDecimals is the precision of published hourly means.
const csvDecimals = 2

// CSVSource aggregates record store rows into hourly means per configured
// field. It reads the same day partitions the collector appends to and
// therefore tolerates a concurrent flush (the store reader drops torn
// trailing lines).
type CSVSource struct {
	reader *store.Reader
	fields []string
}

func NewCSVSource(root string, fields []string) *CSVSource {
	return &CSVSource{
		reader: store.NewReader(root),
		fields: fields,
	}
}

func (s *CSVSource) Aggregate(window time.Time) (*AggregateRecord, error) {
	errFactory := errors.New()

	rows, err := s.reader.Rows(window)
	if err != nil {
		if errors.HasCode(err, store.ErrPartitionMissing) {
			return nil, nil
		}
		return nil, errFactory.Wrap(ErrAggregateFailed, err)
	}

	end := window.Add(time.Hour)
	sums := make(map[string]float64, len(s.fields))
	counts := make(map[string]int, len(s.fields))
	inWindow := 0

	for i := range rows {
		ts := rows[i].Timestamp
		if ts.Before(window) || !ts.Before(end) {
			continue
		}
		inWindow++
		for _, field := range s.fields {
			if value, ok := rows[i].Values[field]; ok {
				sums[field] += value
				counts[field]++
			}
		}
	}

	if inWindow == 0 {
		return nil, nil
	}

	record := &AggregateRecord{
		Window: window,
		Fields: s.fields,
		Values: make(map[string]*float64, len(s.fields)),
	}
	for _, field := range s.fields {
		if counts[field] == 0 {
			record.Values[field] = nil
			continue
		}
		mean := roundTo(sums[field]/float64(counts[field]), csvDecimals)
		record.Values[field] = &mean
	}

	return record, nil
}

func roundTo(value float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(value*scale) / scale
}

package store

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"codeberg.org/mutker/datasyncd/internal/errors"
	"codeberg.org/mutker/datasyncd/internal/logger"
	"codeberg.org/mutker/datasyncd/internal/sensor"
)

// Reader provides read-only access to day partitions. Readers may race the
// collector's flush; malformed and partial trailing records are dropped
// rather than reported, since the next read will see the completed line.
type Reader struct {
	root string
}

func NewReader(root string) *Reader {
	return &Reader{root: root}
}

// Rows parses the partition covering day. A missing partition returns
// store_partition_missing; a caller treats that as "no data yet".
func (r *Reader) Rows(day time.Time) ([]Row, error) {
	errFactory := errors.New()

	path := filepath.Join(r.root, PartitionPath(day))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errFactory.WithData(ErrPartitionMissing, path)
		}
		return nil, errFactory.Wrap(ErrReadFailed, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, errFactory.Wrap(ErrReadFailed, err)
	}
	columns := append([]string(nil), header...)

	var (
		rows    []Row
		skipped int
	)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Quoting faults and torn trailing lines; the csv reader
			// resumes at the next line, so the rest of the partition
			// still parses.
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				skipped++
				continue
			}
			return nil, errFactory.Wrap(ErrReadFailed, err)
		}

		row, ok := parseRecord(columns, record)
		if !ok {
			skipped++
			continue
		}
		rows = append(rows, row)
	}

	if skipped > 0 {
		logger.Debug().
			Str("partition", path).
			Int("skipped", skipped).
			Msg("Skipped unparseable record store lines")
	}

	return rows, nil
}

func parseRecord(columns, record []string) (Row, bool) {
	if len(record) != len(columns) || len(record) == 0 {
		return Row{}, false
	}

	ts, err := time.ParseInLocation(TimestampLayout, record[0], time.Local)
	if err != nil {
		return Row{}, false
	}

	values := make(sensor.Fields, len(columns)-1)
	for i, column := range columns[1:] {
		if record[i+1] == "" {
			continue
		}
		value, err := strconv.ParseFloat(record[i+1], 64)
		if err != nil {
			continue
		}
		values[column] = value
	}

	return Row{Timestamp: ts, Values: values}, true
}

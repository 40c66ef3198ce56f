package store

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"

	"codeberg.org/mutker/datasyncd/internal/errors"
	"codeberg.org/mutker/datasyncd/internal/logger"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// Writer appends rows to day-partitioned CSV files under a root directory.
// It is the single writer of the record store; publishers only read. Append
// is not safe for concurrent use — the collector's flush task is the only
// caller.
type Writer struct {
	root    string
	columns []string
}

func NewWriter(root string, columns []string) (*Writer, error) {
	errFactory := errors.New()

	if len(columns) == 0 {
		return nil, errFactory.New(ErrNoColumns)
	}
	if err := os.MkdirAll(root, dirPerm); err != nil {
		return nil, errFactory.Wrap(ErrCreatePartition, err)
	}

	return &Writer{root: root, columns: columns}, nil
}

// Append writes rows to their day partitions in order, creating partitions
// (and the header line) as needed. A batch drained around midnight may span
// two partitions.
func (w *Writer) Append(rows []Row) error {
	for start := 0; start < len(rows); {
		day := rows[start].Timestamp.Format("2006/01/02")
		end := start + 1
		for end < len(rows) && rows[end].Timestamp.Format("2006/01/02") == day {
			end++
		}

		if err := w.appendToPartition(rows[start:end]); err != nil {
			return err
		}
		start = end
	}

	return nil
}

func (w *Writer) appendToPartition(rows []Row) error {
	errFactory := errors.New()

	path := filepath.Join(w.root, PartitionPath(rows[0].Timestamp))
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return errFactory.Wrap(ErrCreatePartition, err)
	}

	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, filePerm)
	if err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}
	defer f.Close()

	cw := csv.NewWriter(f)
	if writeHeader {
		if err := cw.Write(w.columns); err != nil {
			return errFactory.Wrap(ErrWriteFailed, err)
		}
	}

	for i := range rows {
		if err := cw.Write(w.record(&rows[i])); err != nil {
			return errFactory.Wrap(ErrWriteFailed, err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}
	if err := f.Sync(); err != nil {
		return errFactory.Wrap(ErrWriteFailed, err)
	}

	logger.Debug().
		Str("partition", path).
		Int("rows", len(rows)).
		Msg("Rows appended to record store")

	return nil
}

func (w *Writer) record(row *Row) []string {
	record := make([]string, len(w.columns))
	record[0] = row.Timestamp.Format(TimestampLayout)
	for i, column := range w.columns[1:] {
		if value, ok := row.Values[column]; ok {
			record[i+1] = strconv.FormatFloat(value, 'f', -1, 64)
		}
	}

	return record
}

// Package winaqms reads the vendor data files written by a WinAQMS logger
// (daily eco{yyyymmdd}.wad files, CSV-shaped with a Date_Time column and
// C1..C6 channel columns) and publishes hourly pollutant averages through
// the shared publisher protocol.
package winaqms

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"codeberg.org/mutker/datasyncd/internal/errors"
	"codeberg.org/mutker/datasyncd/internal/logger"
)

// timestampLayout is the vendor's Date_Time format.
const timestampLayout = "2006/01/02 15:04:05"

// Record is one validated logger record: a timestamp plus the channel
// values that parsed as numbers. Channels the logger left blank or
// non-numeric are simply absent.
type Record struct {
	Timestamp time.Time
	Channels  map[string]float64
}

// FilePath reports where the vendor file covering day lives, relative to
// the WAD root: yyyy/mm/eco{yyyymmdd}.wad.
func FilePath(day time.Time) string {
	return filepath.Join(
		day.Format("2006"),
		day.Format("01"),
		fmt.Sprintf("eco%s.wad", day.Format("20060102")),
	)
}

// ParseFile reads one WAD file. Malformed records (wrong field count, bad
// timestamp) are skipped and counted, never fatal; only a file that cannot
// be opened or has no usable header fails.
func ParseFile(path string) ([]Record, error) {
	errFactory := errors.New()

	f, err := os.Open(path)
	if err != nil {
		return nil, errFactory.Wrap(ErrFileUnreadable, err)
	}
	defer f.Close()

	cr := csv.NewReader(f)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, errFactory.Wrap(ErrFileUnreadable, err)
	}

	timeColumn := -1
	for i, column := range header {
		if column == "Date_Time" {
			timeColumn = i
			break
		}
	}
	if timeColumn < 0 {
		return nil, errFactory.WithData(ErrMissingHeader, path)
	}

	var (
		records []Record
		skipped int
	)
	for {
		fields, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			skipped++
			continue
		}
		if len(fields) != len(header) {
			skipped++
			continue
		}

		ts, err := time.ParseInLocation(timestampLayout, fields[timeColumn], time.Local)
		if err != nil {
			skipped++
			continue
		}

		record := Record{Timestamp: ts, Channels: make(map[string]float64)}
		for i, column := range header {
			if i == timeColumn {
				continue
			}
			if value, err := strconv.ParseFloat(fields[i], 64); err == nil {
				record.Channels[column] = value
			}
		}
		records = append(records, record)
	}

	if skipped > 0 {
		logger.Warn().
			Str("file", path).
			Int("skipped", skipped).
			Int("parsed", len(records)).
			Msg("Skipped malformed WAD records")
	}

	return records, nil
}

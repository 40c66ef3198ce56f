package winaqms

import (
	"math"
	"path/filepath"
	"time"

	"codeberg.org/mutker/datasyncd/internal/publisher"
)

// Channel-to-pollutant mapping fixed by the WinAQMS station configuration.
var (
	channels   = []string{"C1", "C2", "C3", "C4", "C5", "C6"}
	pollutants = map[string]string{
		"C1": "CO",
		"C2": "NO",
		"C3": "NO2",
		"C4": "NOx",
		"C5": "O3",
		"C6": "PM10",
	}
	fieldOrder = []string{"CO", "NO", "NO2", "NOx", "O3", "PM10"}
)

// Source aggregates WAD records into hourly pollutant means with the
// vendor's rounding rules: three decimals for the gas channels C1-C4, two
// for ozone, and whole numbers for particulates.
type Source struct {
	wadDir string
}

func NewSource(wadDir string) *Source {
	return &Source{wadDir: wadDir}
}

// Aggregate computes the window's pollutant means from the day's vendor
// file. A file that cannot be opened — including one the logger has not
// produced or a share that has not mounted yet — is a fault, so the caller
// leaves the checkpoint in place and retries instead of gapping the hours
// the file would have covered. Only an hour that is empty inside an
// existing file counts as an empty window.
func (s *Source) Aggregate(window time.Time) (*publisher.AggregateRecord, error) {
	records, err := ParseFile(filepath.Join(s.wadDir, FilePath(window)))
	if err != nil {
		return nil, err
	}

	end := window.Add(time.Hour)
	sums := make(map[string]float64, len(channels))
	counts := make(map[string]int, len(channels))
	inWindow := 0

	for i := range records {
		ts := records[i].Timestamp
		if ts.Before(window) || !ts.Before(end) {
			continue
		}
		inWindow++
		for _, channel := range channels {
			if value, ok := records[i].Channels[channel]; ok {
				sums[channel] += value
				counts[channel]++
			}
		}
	}

	if inWindow == 0 {
		return nil, nil
	}

	record := &publisher.AggregateRecord{
		Window: window,
		Fields: fieldOrder,
		Values: make(map[string]*float64, len(channels)),
	}
	for _, channel := range channels {
		name := pollutants[channel]
		if counts[channel] == 0 {
			record.Values[name] = nil
			continue
		}
		mean := round(channel, sums[channel]/float64(counts[channel]))
		record.Values[name] = &mean
	}

	return record, nil
}

func round(channel string, value float64) float64 {
	switch channel {
	case "C6":
		return math.Round(value)
	case "C5":
		return math.Round(value*100) / 100
	default:
		return math.Round(value*1000) / 1000
	}
}

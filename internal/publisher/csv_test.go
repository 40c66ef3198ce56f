package publisher

import (
	"testing"
	"time"

	"codeberg.org/mutker/datasyncd/internal/sensor"
	"codeberg.org/mutker/datasyncd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRows(t *testing.T, root string, rows []store.Row) {
	t.Helper()
	writer, err := store.NewWriter(root, []string{"timestamp", "temperature", "humidity"})
	require.NoError(t, err)
	require.NoError(t, writer.Append(rows))
}

func TestCSVSourceHourlyMean(t *testing.T) {
	root := t.TempDir()
	window := time.Date(2026, 3, 10, 11, 0, 0, 0, time.Local)

	writeRows(t, root, []store.Row{
		// Before the window: excluded.
		{Timestamp: window.Add(-time.Minute), Values: sensor.Fields{"temperature": 100}},
		{Timestamp: window, Values: sensor.Fields{"temperature": 20, "humidity": 40}},
		{Timestamp: window.Add(20 * time.Minute), Values: sensor.Fields{"temperature": 21}},
		{Timestamp: window.Add(40 * time.Minute), Values: sensor.Fields{"temperature": 22.4, "humidity": 50}},
		// Start of the next window: excluded.
		{Timestamp: window.Add(time.Hour), Values: sensor.Fields{"temperature": 100}},
	})

	source := NewCSVSource(root, []string{"temperature", "humidity"})
	record, err := source.Aggregate(window)
	require.NoError(t, err)
	require.NotNil(t, record)

	assert.True(t, record.Window.Equal(window))
	require.NotNil(t, record.Values["temperature"])
	assert.InDelta(t, 21.13, *record.Values["temperature"], 1e-9, "mean of 20, 21, 22.4 rounded to 2 decimals")
	require.NotNil(t, record.Values["humidity"])
	assert.InDelta(t, 45, *record.Values["humidity"], 1e-9)
}

func TestCSVSourceFieldWithoutData(t *testing.T) {
	root := t.TempDir()
	window := time.Date(2026, 3, 10, 11, 0, 0, 0, time.Local)

	writeRows(t, root, []store.Row{
		{Timestamp: window.Add(5 * time.Minute), Values: sensor.Fields{"temperature": 20}},
	})

	source := NewCSVSource(root, []string{"temperature", "humidity"})
	record, err := source.Aggregate(window)
	require.NoError(t, err)
	require.NotNil(t, record)

	require.NotNil(t, record.Values["temperature"])
	assert.Nil(t, record.Values["humidity"], "field with no readings publishes as null")
}

func TestCSVSourceEmptyWindow(t *testing.T) {
	root := t.TempDir()
	window := time.Date(2026, 3, 10, 11, 0, 0, 0, time.Local)

	// The partition exists but holds nothing inside the window.
	writeRows(t, root, []store.Row{
		{Timestamp: window.Add(-time.Hour), Values: sensor.Fields{"temperature": 20}},
	})

	source := NewCSVSource(root, []string{"temperature"})
	record, err := source.Aggregate(window)
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestCSVSourceMissingPartition(t *testing.T) {
	source := NewCSVSource(t.TempDir(), []string{"temperature"})
	record, err := source.Aggregate(time.Date(2026, 3, 10, 11, 0, 0, 0, time.Local))
	require.NoError(t, err, "a day with no partition is an empty window, not a fault")
	assert.Nil(t, record)
}

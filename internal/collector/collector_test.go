package collector_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/mutker/datasyncd/internal/collector"
	"codeberg.org/mutker/datasyncd/internal/control"
	"codeberg.org/mutker/datasyncd/internal/errors"
	"codeberg.org/mutker/datasyncd/internal/sensor"
	"codeberg.org/mutker/datasyncd/internal/store"
	"codeberg.org/mutker/datasyncd/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSensor emits an incrementing counter so tests can verify capture order
// and count completed reads.
type fakeSensor struct {
	name    string
	mu      sync.Mutex
	reads   int
	failing int
}

func (s *fakeSensor) Name() string { return s.name }

func (s *fakeSensor) Read(context.Context) (sensor.Fields, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing > 0 {
		s.failing--
		return nil, errors.New().New(sensor.ErrReadFailed)
	}
	s.reads++

	return sensor.Fields{"value": float64(s.reads)}, nil
}

func (s *fakeSensor) Close() error { return nil }

func (s *fakeSensor) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func noopTelemetry(t *testing.T) telemetry.Collector {
	t.Helper()
	tel, err := telemetry.NewService(telemetry.Config{Enabled: false})
	require.NoError(t, err)
	return tel
}

func newCollector(
	t *testing.T, cfg collector.Config, fake *fakeSensor, ctrl *control.File,
) (*collector.Collector, string) {
	t.Helper()

	root := t.TempDir()
	entries := []collector.SensorEntry{{Sensor: fake, ScanInterval: 10 * time.Millisecond}}
	c, err := collector.New(cfg, entries, root, ctrl, noopTelemetry(t))
	require.NoError(t, err)
	require.NoError(t, c.SetColumns([]string{"timestamp", "value"}))

	return c, root
}

// storedRows reads today's partition, treating a missing or unreadable
// partition as empty. Safe to call from Eventually conditions.
func storedRows(root string) []store.Row {
	rows, err := store.NewReader(root).Rows(time.Now())
	if err != nil {
		return nil
	}
	return rows
}

func TestNewValidation(t *testing.T) {
	cfg := collector.Config{OutputInterval: time.Minute, BatchSize: 10, ReadTimeout: time.Second}

	_, err := collector.New(cfg, nil, t.TempDir(), nil, noopTelemetry(t))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, collector.ErrNoSensors))

	entries := []collector.SensorEntry{{Sensor: &fakeSensor{name: "fake"}, ScanInterval: time.Second}}

	bad := cfg
	bad.OutputInterval = 0
	_, err = collector.New(bad, entries, t.TempDir(), nil, noopTelemetry(t))
	require.Error(t, err)

	bad = cfg
	bad.BatchSize = 0
	_, err = collector.New(bad, entries, t.TempDir(), nil, noopTelemetry(t))
	require.Error(t, err)
}

func TestStartRequiresColumns(t *testing.T) {
	cfg := collector.Config{OutputInterval: time.Minute, BatchSize: 10, ReadTimeout: time.Second}
	entries := []collector.SensorEntry{{Sensor: &fakeSensor{name: "fake"}, ScanInterval: time.Second}}

	c, err := collector.New(cfg, entries, t.TempDir(), nil, noopTelemetry(t))
	require.NoError(t, err)

	err = c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, collector.ErrColumnsNotSet))
}

func TestBatchSizeTriggersFlush(t *testing.T) {
	fake := &fakeSensor{name: "fake"}
	cfg := collector.Config{
		// A flush should happen on batch size long before this tick fires.
		OutputInterval: time.Hour,
		BatchSize:      3,
		ReadTimeout:    time.Second,
	}
	c, root := newCollector(t, cfg, fake, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Start(ctx))
	defer func() {
		c.Stop()
		c.Wait()
	}()

	require.Eventually(t, func() bool {
		return len(storedRows(root)) >= cfg.BatchSize
	}, 10*time.Second, 50*time.Millisecond, "batch size never triggered a flush")

	// Rows land in capture order.
	rows := storedRows(root)
	for i := 1; i < len(rows); i++ {
		assert.Greater(t, rows[i].Values["value"], rows[i-1].Values["value"],
			"row %d out of capture order", i)
	}
}

func TestStopDrainsBuffer(t *testing.T) {
	fake := &fakeSensor{name: "fake"}
	cfg := collector.Config{
		// Neither the tick nor the batch size fires; only the final drain
		// can move readings to the store.
		OutputInterval: time.Hour,
		BatchSize:      1000,
		ReadTimeout:    time.Second,
	}
	c, root := newCollector(t, cfg, fake, nil)

	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool {
		return fake.count() >= 3
	}, 10*time.Second, 10*time.Millisecond)

	assert.Empty(t, storedRows(root), "no flush should have happened yet")

	c.Stop()
	c.Wait()

	// Reads 1 and 2 were appended before the third read completed.
	assert.GreaterOrEqual(t, len(storedRows(root)), 2)
	assert.Equal(t, collector.Stopped, c.State())
}

func TestDoubleStart(t *testing.T) {
	fake := &fakeSensor{name: "fake"}
	cfg := collector.Config{OutputInterval: time.Hour, BatchSize: 1000, ReadTimeout: time.Second}
	c, _ := newCollector(t, cfg, fake, nil)

	require.NoError(t, c.Start(context.Background()))
	defer func() {
		c.Stop()
		c.Wait()
	}()

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, collector.ErrAlreadyStarted))
}

func TestStartAfterStop(t *testing.T) {
	fake := &fakeSensor{name: "fake"}
	cfg := collector.Config{OutputInterval: time.Hour, BatchSize: 1000, ReadTimeout: time.Second}
	c, _ := newCollector(t, cfg, fake, nil)

	require.NoError(t, c.Start(context.Background()))
	c.Stop()
	c.Wait()

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, collector.ErrStopped))
}

func TestPauseStopsSampling(t *testing.T) {
	fake := &fakeSensor{name: "fake"}
	cfg := collector.Config{OutputInterval: time.Hour, BatchSize: 1000, ReadTimeout: time.Second}
	c, _ := newCollector(t, cfg, fake, nil)

	require.NoError(t, c.Start(context.Background()))
	defer func() {
		c.Stop()
		c.Wait()
	}()

	require.Eventually(t, func() bool {
		return fake.count() >= 2
	}, 10*time.Second, 10*time.Millisecond)

	c.Pause()
	assert.Equal(t, collector.Paused, c.State())

	// One in-flight read may still complete after the pause.
	paused := fake.count()
	time.Sleep(time.Second)
	assert.LessOrEqual(t, fake.count(), paused+1, "sampling continued while paused")

	c.Resume()
	resumed := fake.count()
	require.Eventually(t, func() bool {
		return fake.count() > resumed
	}, 10*time.Second, 10*time.Millisecond, "sampling never resumed")
}

func TestControlDocumentStops(t *testing.T) {
	ctrl := control.NewFile(t.TempDir() + "/control.json")
	require.NoError(t, ctrl.Seed("data_collector"))

	fake := &fakeSensor{name: "fake"}
	cfg := collector.Config{OutputInterval: time.Hour, BatchSize: 1000, ReadTimeout: time.Second}
	c, _ := newCollector(t, cfg, fake, ctrl)

	require.NoError(t, c.Start(context.Background()))

	require.Eventually(t, func() bool {
		return fake.count() >= 1
	}, 10*time.Second, 10*time.Millisecond)

	require.NoError(t, ctrl.SetComponent("data_collector", control.StateStopped))

	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("collector did not honor a STOPPED control state")
	}
	assert.Equal(t, collector.Stopped, c.State())
}

func TestSchemaFixedAfterFirstFlush(t *testing.T) {
	fake := &fakeSensor{name: "fake"}
	cfg := collector.Config{OutputInterval: time.Hour, BatchSize: 1, ReadTimeout: time.Second}
	c, root := newCollector(t, cfg, fake, nil)

	require.NoError(t, c.Start(context.Background()))
	defer func() {
		c.Stop()
		c.Wait()
	}()

	require.Eventually(t, func() bool {
		return len(storedRows(root)) >= 1
	}, 10*time.Second, 10*time.Millisecond)

	err := c.SetColumns([]string{"timestamp", "value", "extra"})
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, collector.ErrColumnsFixed))
}

func TestReadFaultsRecover(t *testing.T) {
	fake := &fakeSensor{name: "fake", failing: 1}
	cfg := collector.Config{OutputInterval: time.Hour, BatchSize: 1, ReadTimeout: time.Second}
	c, root := newCollector(t, cfg, fake, nil)

	require.NoError(t, c.Start(context.Background()))
	defer func() {
		c.Stop()
		c.Wait()
	}()

	// The first read fails; the loop retries and readings still reach the
	// store.
	require.Eventually(t, func() bool {
		return len(storedRows(root)) >= 1
	}, 15*time.Second, 50*time.Millisecond)
}

package collector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"codeberg.org/mutker/datasyncd/internal/control"
	"codeberg.org/mutker/datasyncd/internal/errors"
	"codeberg.org/mutker/datasyncd/internal/logger"
	"codeberg.org/mutker/datasyncd/internal/retry"
	"codeberg.org/mutker/datasyncd/internal/sensor"
	"codeberg.org/mutker/datasyncd/internal/store"
	"codeberg.org/mutker/datasyncd/internal/telemetry"
)

const (
	controlComponent = "data_collector"

	minSleep        = 100 * time.Millisecond
	pausePoll       = 500 * time.Millisecond
	readRetryDelay  = 2 * time.Second
	finalFlushLimit = 5 * time.Second
)

// SensorEntry pairs a sensor with its sampling cadence.
type SensorEntry struct {
	Sensor       sensor.Sensor
	ScanInterval time.Duration
}

// Collector owns one sampling goroutine per sensor and one flush goroutine.
// Readings accumulate in a shared in-memory buffer in capture order and are
// drained atomically to the record store. Once drained, rows survive write
// faults in a pending slice until the store accepts them.
type Collector struct {
	cfg       Config
	sensors   []SensorEntry
	storeRoot string
	ctrl      *control.File
	telemetry telemetry.Collector

	writer  *store.Writer
	flushed atomic.Bool

	mu        sync.Mutex
	buffer    []sensor.Reading
	pending   []store.Row
	batchFull chan struct{}

	state    atomic.Int32
	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup

	storagePolicy retry.Policy
}

func New(
	cfg Config,
	sensors []SensorEntry,
	storeRoot string,
	ctrl *control.File,
	tel telemetry.Collector,
) (*Collector, error) {
	errFactory := errors.New()

	if len(sensors) == 0 {
		return nil, errFactory.New(ErrNoSensors)
	}
	if cfg.OutputInterval <= 0 {
		return nil, errFactory.WithData(errors.ErrInvalidInterval, cfg.OutputInterval)
	}
	if cfg.BatchSize <= 0 {
		return nil, errFactory.WithMessage(errors.ErrInvalidConfig, "batch size must be positive")
	}

	return &Collector{
		cfg:       cfg,
		sensors:   sensors,
		storeRoot: storeRoot,
		ctrl:      ctrl,
		telemetry: tel,
		batchFull: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		storagePolicy: retry.Policy{
			MaxAttempts: 3,
			BaseDelay:   2 * time.Second,
			MaxDelay:    30 * time.Second,
		},
	}, nil
}

// SetColumns fixes the record store schema. It must be called before Start;
// changing the schema after the first flush is a programming error.
func (c *Collector) SetColumns(columns []string) error {
	errFactory := errors.New()

	if c.flushed.Load() {
		return errFactory.New(ErrColumnsFixed)
	}

	writer, err := store.NewWriter(c.storeRoot, columns)
	if err != nil {
		return err
	}
	c.writer = writer

	return nil
}

// Start transitions STOPPED to RUNNING and spawns the sampling and flush
// goroutines. Wait blocks until they have exited and the final drain wrote.
func (c *Collector) Start(ctx context.Context) error {
	errFactory := errors.New()

	if c.writer == nil {
		return errFactory.New(ErrColumnsNotSet)
	}
	select {
	case <-c.stopCh:
		// Stopped is terminal for an instance.
		return errFactory.New(ErrStopped)
	default:
	}
	if !c.state.CompareAndSwap(int32(Stopped), int32(Running)) {
		return errFactory.New(ErrAlreadyStarted)
	}

	for _, entry := range c.sensors {
		c.wg.Add(1)
		go c.collect(ctx, entry)
	}

	c.wg.Add(1)
	go c.flushLoop(ctx)

	logger.Info().
		Int("sensors", len(c.sensors)).
		Dur("output_interval", c.cfg.OutputInterval).
		Int("batch_size", c.cfg.BatchSize).
		Msg("Collector started")

	return nil
}

func (c *Collector) State() State {
	return State(c.state.Load())
}

// Pause idles the sampling loops without terminating them.
func (c *Collector) Pause() {
	if c.state.CompareAndSwap(int32(Running), int32(Paused)) {
		logger.Info().Msg("Collector paused")
	}
}

// Resume restarts sampling after a pause.
func (c *Collector) Resume() {
	if c.state.CompareAndSwap(int32(Paused), int32(Running)) {
		logger.Info().Msg("Collector resumed")
	}
}

// Stop requests shutdown. Sampling loops exit promptly; the flush loop
// performs a final drain so buffered readings reach the store. Stopped is
// terminal.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() {
		c.state.Store(int32(Stopped))
		close(c.stopCh)
	})
}

// Wait blocks until all loops have exited.
func (c *Collector) Wait() {
	c.wg.Wait()
}

// collect samples one sensor at its cadence. Read faults are retried with a
// short delay and never terminate the loop; only cancellation or a stop
// request does.
func (c *Collector) collect(ctx context.Context, entry SensorEntry) {
	defer c.wg.Done()

	name := entry.Sensor.Name()
	logger.Info().Str("sensor", name).Msg("Starting data collection")
	defer logger.Info().Str("sensor", name).Msg("Stopped data collection")

	consecutiveFailures := 0
	for {
		c.reconcile()

		switch c.State() {
		case Stopped:
			return
		case Paused:
			if !c.sleep(ctx, pausePoll) {
				return
			}
			continue
		}

		start := time.Now()
		readCtx, cancel := context.WithTimeout(ctx, c.cfg.ReadTimeout)
		fields, err := entry.Sensor.Read(readCtx)
		cancel()

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			consecutiveFailures++
			// First failure at warn, repeats at debug to bound log volume.
			event := logger.Debug()
			if consecutiveFailures == 1 {
				event = logger.Warn()
			}
			event.Str("sensor", name).Err(err).Msg("Sensor read failed")
			if !c.sleep(ctx, readRetryDelay) {
				return
			}
			continue
		}
		consecutiveFailures = 0

		c.append(sensor.Reading{
			Sensor:    name,
			Timestamp: start,
			Values:    fields,
		})

		wait := entry.ScanInterval - time.Since(start)
		if wait < minSleep {
			wait = minSleep
		}
		if !c.sleep(ctx, wait) {
			return
		}
	}
}

func (c *Collector) append(reading sensor.Reading) {
	c.mu.Lock()
	c.buffer = append(c.buffer, reading)
	full := len(c.buffer) >= c.cfg.BatchSize
	c.mu.Unlock()

	if full {
		select {
		case c.batchFull <- struct{}{}:
		default:
		}
	}
}

// flushLoop drains the buffer on every tick or as soon as the buffer
// reaches the batch size, whichever comes first. On shutdown it performs
// one final drain so no buffered reading is lost.
func (c *Collector) flushLoop(ctx context.Context) {
	defer c.wg.Done()

	logger.Info().Msg("Starting data processing task")
	defer logger.Info().Msg("Stopped data processing task")

	ticker := time.NewTicker(c.cfg.OutputInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
		case <-c.batchFull:
		case <-ctx.Done():
			c.finalFlush()
			return
		case <-c.stopCh:
			c.finalFlush()
			return
		}

		c.flush(ctx)
	}
}

// flush drains the buffer atomically and appends the rows to the record
// store. Rows that fail to write stay pending and are retried on the next
// tick; captured data is never dropped.
func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	drained := c.buffer
	c.buffer = nil
	for i := range drained {
		c.pending = append(c.pending, store.Row{
			Timestamp: drained[i].Timestamp,
			Values:    drained[i].Values,
		})
	}
	rows := c.pending
	c.mu.Unlock()

	if len(rows) == 0 {
		return
	}

	err := c.storagePolicy.Do(ctx, "store_append", func(context.Context) error {
		return c.writer.Append(rows)
	})

	if recErr := c.telemetry.RecordFlush(ctx, len(rows), err); recErr != nil {
		logger.Debug().Err(recErr).Msg("Failed to record flush telemetry")
	}

	if err != nil {
		logger.Error().
			Err(err).
			Int("retained_rows", len(rows)).
			Msg("Record store write failed, batch retained for next tick")
		return
	}

	c.flushed.Store(true)
	c.mu.Lock()
	c.pending = c.pending[len(rows):]
	c.mu.Unlock()
}

func (c *Collector) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), finalFlushLimit)
	defer cancel()
	c.flush(ctx)
}

// reconcile re-reads the control document and applies its intent. The
// document is authoritative; the in-process state only reflects what has
// been applied. A document read failure keeps the current state for this
// decision.
func (c *Collector) reconcile() {
	if c.ctrl == nil {
		return
	}

	desired, err := c.ctrl.Component(controlComponent)
	if err != nil {
		logger.Debug().Err(err).Msg("Control document unreadable, keeping state")
		return
	}

	switch desired {
	case control.StateStopped:
		c.Stop()
	case control.StatePaused:
		c.Pause()
	case control.StateRunning:
		c.Resume()
	}
}

func (c *Collector) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.stopCh:
		return false
	}
}

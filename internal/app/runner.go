// Package app wires the collector and publishers together and performs the
// startup and shutdown sequencing. It is the boundary a UI or CLI drives;
// everything below it communicates only through the record store and the
// control document.
package app

import (
	"context"
	"sync"
	"time"

	"codeberg.org/mutker/datasyncd/internal/collector"
	"codeberg.org/mutker/datasyncd/internal/config"
	"codeberg.org/mutker/datasyncd/internal/control"
	"codeberg.org/mutker/datasyncd/internal/errors"
	"codeberg.org/mutker/datasyncd/internal/logger"
	"codeberg.org/mutker/datasyncd/internal/publisher"
	"codeberg.org/mutker/datasyncd/internal/sensor"
	"codeberg.org/mutker/datasyncd/internal/telemetry"
	"codeberg.org/mutker/datasyncd/internal/winaqms"
)

// Runner owns the pipeline components for one daemon instance.
type Runner struct {
	cfg        *config.Config
	ctrl       *control.File
	collector  *collector.Collector
	publishers []*publisher.Runner
	sensors    []sensor.Sensor

	pubWG sync.WaitGroup
}

// New builds the collector and the enabled publishers from configuration.
// Sensor connection failures are startup failures: a station with no
// working transport has nothing to collect.
func New(ctx context.Context, cfg *config.Config, tel telemetry.Collector) (*Runner, error) {
	errFactory := errors.New()

	sensors := make([]sensor.Sensor, 0, len(cfg.Sensors))
	entries := make([]collector.SensorEntry, 0, len(cfg.Sensors))
	for _, sensorCfg := range cfg.Sensors {
		s, err := sensor.New(ctx, sensorCfg)
		if err != nil {
			closeSensors(sensors)
			return nil, errFactory.Wrap(ErrInitSensors, err)
		}
		sensors = append(sensors, s)
		entries = append(entries, collector.SensorEntry{
			Sensor:       s,
			ScanInterval: time.Duration(sensorCfg.ScanInterval) * time.Second,
		})
	}

	return newRunner(cfg, tel, sensors, entries)
}

// newRunner assembles the pipeline from already-connected sensors.
func newRunner(
	cfg *config.Config,
	tel telemetry.Collector,
	sensors []sensor.Sensor,
	entries []collector.SensorEntry,
) (*Runner, error) {
	errFactory := errors.New()

	ctrl := control.NewFile(cfg.ControlFile)

	col, err := collector.New(
		collector.Config{
			OutputInterval: time.Duration(cfg.OutputInterval) * time.Second,
			BatchSize:      cfg.BatchSize,
			ReadTimeout:    time.Duration(cfg.ReadTimeout) * time.Second,
		},
		entries,
		cfg.DataDir,
		ctrl,
		tel,
	)
	if err != nil {
		closeSensors(sensors)
		return nil, errFactory.Wrap(ErrInitCollector, err)
	}
	if err := col.SetColumns(cfg.Columns()); err != nil {
		closeSensors(sensors)
		return nil, errFactory.Wrap(ErrInitCollector, err)
	}

	r := &Runner{
		cfg:       cfg,
		ctrl:      ctrl,
		collector: col,
		sensors:   sensors,
	}

	if cfg.Publisher.Enabled {
		r.publishers = append(r.publishers, publisher.NewRunner(
			"publisher",
			publisher.NewCSVSource(cfg.DataDir, cfg.Columns()[1:]),
			publisher.NewEndpoint(cfg.Publisher.Endpoint, cfg.Publisher.Origin, cfg.Publisher.APIKey),
			ctrl,
			tel,
			time.Duration(cfg.Publisher.CheckInterval)*time.Second,
			cfg.Publisher.MaxRetries,
		))
	}
	if cfg.WinAQMS.Enabled {
		r.publishers = append(r.publishers, publisher.NewRunner(
			"winaqms_publisher",
			winaqms.NewSource(cfg.WadDir),
			publisher.NewEndpoint(cfg.WinAQMS.Endpoint, cfg.WinAQMS.Origin, cfg.WinAQMS.APIKey),
			ctrl,
			tel,
			time.Duration(cfg.WinAQMS.CheckInterval)*time.Second,
			cfg.WinAQMS.MaxRetries,
		))
	}

	return r, nil
}

// Run seeds the control document, starts every loop, and blocks until ctx
// is cancelled or the collector stops (e.g. an operator wrote STOPPED into
// the document).
func (r *Runner) Run(ctx context.Context) error {
	errFactory := errors.New()

	components := []string{"data_collector"}
	for _, pub := range r.publishers {
		components = append(components, pub.Name())
	}
	if err := r.ctrl.Seed(components...); err != nil {
		return errFactory.Wrap(ErrSeedControl, err)
	}

	if err := r.collector.Start(ctx); err != nil {
		return err
	}

	for _, pub := range r.publishers {
		r.pubWG.Add(1)
		go func(p *publisher.Runner) {
			defer r.pubWG.Done()
			p.Run(ctx)
		}(pub)
	}

	logger.Info().
		Str("station", r.cfg.Station.Name).
		Str("location", r.cfg.Station.Location).
		Float64("latitude", r.cfg.Station.Latitude).
		Float64("longitude", r.cfg.Station.Longitude).
		Float64("elevation", r.cfg.Station.Elevation).
		Msg("Data collection system running")

	stopped := make(chan struct{})
	go func() {
		r.collector.Wait()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
	case <-stopped:
	}

	return nil
}

// States reports the applied collector state and the recorded intent for
// each publisher, for display at the UI boundary.
func (r *Runner) States() map[string]string {
	states := map[string]string{
		"data_collector": r.collector.State().String(),
	}
	for _, pub := range r.publishers {
		state, err := r.ctrl.Component(pub.Name())
		if err != nil {
			state = control.StateStopped
		}
		states[pub.Name()] = string(state)
	}

	return states
}

// Shutdown performs the stop sequence: flip in-process states so every
// loop exits promptly, allow up to grace for the final drain and in-flight
// deliveries, then rewrite the control document to STOPPED for durability.
// At most one flush interval of readings can be lost if the process is
// killed without grace; with grace the final drain empties the buffer.
func (r *Runner) Shutdown(grace time.Duration) error {
	logger.Info().Msg("Shutting down services...")

	r.collector.Stop()
	for _, pub := range r.publishers {
		pub.ForceStop()
	}

	done := make(chan struct{})
	go func() {
		r.collector.Wait()
		r.pubWG.Wait()
		close(done)
	}()

	var dirty bool
	select {
	case <-done:
	case <-time.After(grace):
		logger.Warn().Dur("grace", grace).Msg("Grace period expired before all loops stopped")
		dirty = true
	}

	closeSensors(r.sensors)

	if err := r.ctrl.SetComponent("data_collector", control.StateStopped); err != nil {
		logger.Error().Err(err).Msg("Failed to persist collector stop state")
		dirty = true
	}
	for _, pub := range r.publishers {
		if err := r.ctrl.SetComponent(pub.Name(), control.StateStopped); err != nil {
			logger.Error().Err(err).Msg("Failed to persist publisher stop state")
			dirty = true
		}
	}

	if dirty {
		return errors.New().New(ErrShutdownDirty)
	}

	logger.Info().Msg("All services stopped")

	return nil
}

func closeSensors(sensors []sensor.Sensor) {
	for _, s := range sensors {
		if err := s.Close(); err != nil {
			logger.Debug().Str("sensor", s.Name()).Err(err).Msg("Sensor close failed")
		}
	}
}

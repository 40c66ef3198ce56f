package telemetry

import (
	"context"
	"time"

	"codeberg.org/mutker/datasyncd/internal/errors"
	"codeberg.org/mutker/datasyncd/internal/logger"
)

type service struct {
	repo Repository
	cfg  Config
}

// No-op implementation
type noopCollector struct{}

func NewService(cfg Config) (Collector, error) {
	errFactory := errors.New()

	if err := cfg.Validate(); err != nil {
		return nil, errFactory.Wrap(ErrInvalidConfig, err)
	}

	// If telemetry is disabled, return a no-op collector
	if !cfg.Enabled {
		logger.Debug().Msg("Telemetry disabled, using no-op collector")
		return &noopCollector{}, nil
	}

	repo, err := NewRepository(cfg)
	if err != nil {
		return nil, err // Already wrapped with appropriate error
	}

	return &service{
		repo: repo,
		cfg:  cfg,
	}, nil
}

func (s *service) RecordFlush(ctx context.Context, rows int, flushErr error) error {
	event := &Event{
		Timestamp: time.Now(),
		Component: "data_collector",
		Event:     "flush",
		Value:     float64(rows),
	}
	if flushErr != nil {
		event.Event = "flush_failed"
		event.Detail = flushErr.Error()
	}

	return s.record(ctx, event)
}

func (s *service) RecordPublish(
	ctx context.Context, publisher string, window time.Time, attempts int, publishErr error,
) error {
	event := &Event{
		Timestamp: time.Now(),
		Component: publisher,
		Event:     "publish",
		Detail:    window.Format(time.RFC3339),
		Value:     float64(attempts),
	}
	if publishErr != nil {
		event.Event = "publish_failed"
	}

	return s.record(ctx, event)
}

func (s *service) record(ctx context.Context, event *Event) error {
	errFactory := errors.New()

	if event == nil {
		return errFactory.New(ErrInvalidEvent)
	}

	select {
	case <-ctx.Done():
		return errFactory.Wrap(ErrOperationTimeout, ctx.Err())
	default:
		if err := s.repo.Store(ctx, event); err != nil {
			return errFactory.Wrap(ErrRecordFailed, err)
		}
	}

	return nil
}

func (s *service) Close() error {
	if err := s.repo.Close(); err != nil {
		return errors.New().Wrap(ErrServiceShutdown, err)
	}
	return nil
}

// No-op implementation
func (*noopCollector) RecordFlush(_ context.Context, _ int, _ error) error {
	return nil
}

func (*noopCollector) RecordPublish(_ context.Context, _ string, _ time.Time, _ int, _ error) error {
	return nil
}

func (*noopCollector) Close() error {
	return nil
}

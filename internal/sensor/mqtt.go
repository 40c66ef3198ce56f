package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"sync"
	"time"

	"codeberg.org/mutker/datasyncd/internal/config"
	"codeberg.org/mutker/datasyncd/internal/errors"
	"codeberg.org/mutker/datasyncd/internal/logger"
	"github.com/eclipse/paho.golang/paho"
)

const (
	mqttKeepAlive   = 30
	mqttDialTimeout = 10 * time.Second
	subscribeQoS    = 1
)

// MQTT reads samples published by a station gateway on a broker topic.
// Payloads are flat JSON objects of field name to numeric value. The driver
// caches the latest payload; Read hands out each sample at most once and
// waits for a fresh one when the cache is already consumed.
type MQTT struct {
	name   string
	topic  string
	client *paho.Client

	mu       sync.Mutex
	latest   Fields
	consumed bool
	fresh    chan struct{}
	closed   bool
}

func NewMQTT(ctx context.Context, cfg config.Sensor) (*MQTT, error) {
	errFactory := errors.New()

	broker, err := url.Parse(cfg.Broker)
	if err != nil {
		return nil, errFactory.Wrap(ErrConnectFailed, err)
	}

	dialer := net.Dialer{Timeout: mqttDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", broker.Host)
	if err != nil {
		return nil, errFactory.Wrap(ErrConnectFailed, err)
	}

	s := &MQTT{
		name:  cfg.Name,
		topic: cfg.Topic,
		fresh: make(chan struct{}, 1),
	}

	s.client = paho.NewClient(paho.ClientConfig{
		Conn:     conn,
		ClientID: clientID(cfg.Name),
		OnPublishReceived: []func(paho.PublishReceived) (bool, error){
			s.onPublish,
		},
		OnClientError: func(err error) {
			logger.Warn().Str("sensor", cfg.Name).Err(err).Msg("MQTT client error")
		},
	})

	connack, err := s.client.Connect(ctx, &paho.Connect{
		ClientID:   clientID(cfg.Name),
		KeepAlive:  mqttKeepAlive,
		CleanStart: true,
	})
	if err != nil {
		conn.Close()
		return nil, errFactory.Wrap(ErrConnectFailed, err)
	}
	if connack.ReasonCode != 0 {
		conn.Close()
		return nil, errFactory.WithData(ErrConnectFailed, connack.ReasonCode)
	}

	if _, err := s.client.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: cfg.Topic, QoS: subscribeQoS},
		},
	}); err != nil {
		s.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
		return nil, errFactory.Wrap(ErrSubscribeFailed, err)
	}

	logger.Info().
		Str("sensor", cfg.Name).
		Str("broker", cfg.Broker).
		Str("topic", cfg.Topic).
		Msg("MQTT sensor connected")

	return s, nil
}

func (s *MQTT) Name() string {
	return s.name
}

// Read returns the next unconsumed sample, waiting for a fresh publish when
// the cached one was already handed out.
func (s *MQTT) Read(ctx context.Context) (Fields, error) {
	errFactory := errors.New()

	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, errFactory.New(ErrClosed)
		}
		if s.latest != nil && !s.consumed {
			fields := s.latest.Clone()
			s.consumed = true
			s.mu.Unlock()
			return fields, nil
		}
		s.mu.Unlock()

		// A token can be stale when the cache path already handed the
		// sample out; looping re-checks under the lock.
		select {
		case <-s.fresh:
		case <-ctx.Done():
			return nil, errFactory.Wrap(ErrReadTimeout, ctx.Err())
		}
	}
}

func (s *MQTT) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.client.Disconnect(&paho.Disconnect{ReasonCode: 0})
}

func (s *MQTT) onPublish(pr paho.PublishReceived) (bool, error) {
	var raw map[string]float64
	if err := json.Unmarshal(pr.Packet.Payload, &raw); err != nil {
		logger.Warn().
			Str("sensor", s.name).
			Err(err).
			Msg("Discarding undecodable sensor payload")
		return true, nil
	}

	s.mu.Lock()
	s.latest = Fields(raw)
	s.consumed = false
	s.mu.Unlock()

	select {
	case s.fresh <- struct{}{}:
	default:
	}

	return true, nil
}

// New builds a sensor from its configuration. Only the MQTT driver ships
// in-tree; serial drivers live with the hardware integrations.
func New(ctx context.Context, cfg config.Sensor) (Sensor, error) {
	switch cfg.Driver {
	case "mqtt", "":
		return NewMQTT(ctx, cfg)
	default:
		return nil, errors.New().WithData(ErrUnknownDriver, cfg.Driver)
	}
}

func clientID(sensorName string) string {
	host, err := os.Hostname()
	if err != nil {
		host = "datasyncd"
	}

	return fmt.Sprintf("datasyncd-%s-%s", host, sensorName)
}

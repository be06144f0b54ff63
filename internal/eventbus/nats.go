package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL            string
	StreamName     string
	SubjectPrefix  string
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	MaxAge         time.Duration
	PublishTimeout time.Duration
}

// DefaultNATSConfig returns default NATS configuration
func DefaultNATSConfig() *NATSConfig {
	return &NATSConfig{
		URL:            nats.DefaultURL,
		StreamName:     "ONBOARDING_EVENTS",
		SubjectPrefix:  "onboarding.events",
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  10,
		MaxAge:         7 * 24 * time.Hour,
		PublishTimeout: 5 * time.Second,
	}
}

// NATSPublisher publishes events to a JetStream stream. Event ids are used as
// message ids so a retried publish is deduplicated by the server.
type NATSPublisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	config *NATSConfig
	logger *zap.Logger
}

// NewNATSPublisher connects to NATS and makes sure the stream exists.
func NewNATSPublisher(config *NATSConfig, logger *zap.Logger) (*NATSPublisher, error) {
	if config == nil {
		config = DefaultNATSConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := nats.Connect(config.URL,
		nats.Name("onboarding-events"),
		nats.Timeout(config.ConnectTimeout),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS server: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	p := &NATSPublisher{conn: conn, js: js, config: config, logger: logger}
	if err := p.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("Connected to NATS JetStream",
		zap.String("url", config.URL),
		zap.String("stream", config.StreamName))
	return p, nil
}

func (p *NATSPublisher) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:       p.config.StreamName,
		Subjects:   []string{p.config.SubjectPrefix + ".>"},
		Retention:  nats.LimitsPolicy,
		MaxAge:     p.config.MaxAge,
		Storage:    nats.FileStorage,
		Duplicates: 5 * time.Minute,
	}

	if _, err := p.js.StreamInfo(p.config.StreamName); err != nil {
		if _, err := p.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		return nil
	}
	if _, err := p.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	return nil
}

// Subject returns the NATS subject an event type is published on.
func (p *NATSPublisher) Subject(eventType EventType) string {
	return p.config.SubjectPrefix + "." + string(eventType)
}

// Publish sends the event and waits for the stream acknowledgement.
func (p *NATSPublisher) Publish(ctx context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if p.config.PublishTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.PublishTimeout)
		defer cancel()
	}

	subject := p.Subject(event.Type)
	if _, err := p.js.Publish(subject, data, nats.MsgId(event.ID), nats.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Type, err)
	}

	p.logger.Debug("Published event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("subject", subject))
	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}

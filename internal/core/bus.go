package core

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// EventBus carries fired anomalies from the monitor callback to the
// reporter. Detection stays synchronous and fast inside the callback; the
// bus decouples it from HTTP delivery. The stream is memory-backed —
// detector state and queued findings are intentionally lost on restart.
type EventBus struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	ns     *server.Server
	logger zerolog.Logger
	mu     sync.Mutex
	subs   []*nats.Subscription

	metrics *BusMetrics
}

// BusMetrics tracks bus performance counters.
type BusMetrics struct {
	mu                 sync.Mutex
	AnomaliesPublished int64
	AnomaliesFailed    int64
	MessagesAcked      int64
	MessagesNaked      int64
}

// NewEventBus creates the anomaly bus. If cfg.Embedded is true it starts an
// in-process NATS server first.
func NewEventBus(cfg *BusConfig, logger zerolog.Logger) (*EventBus, error) {
	bus := &EventBus{
		logger:  logger.With().Str("component", "event_bus").Logger(),
		metrics: &BusMetrics{},
	}

	if cfg.Embedded {
		opts := &server.Options{
			Host:      "127.0.0.1",
			Port:      cfg.Port,
			JetStream: true,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return nil, fmt.Errorf("creating embedded NATS server: %w", err)
		}
		ns.Start()

		if !ns.ReadyForConnections(10 * time.Second) {
			return nil, fmt.Errorf("embedded NATS server failed to start within timeout")
		}

		bus.ns = ns
		bus.logger.Info().Int("port", cfg.Port).Msg("embedded NATS server started")
	}

	url := cfg.URL
	if bus.ns != nil {
		// The server resolves its own address, which matters when the
		// configured port is -1 (pick any free port).
		url = bus.ns.ClientURL()
	}

	nc, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				bus.logger.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			bus.logger.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		if bus.ns != nil {
			bus.ns.Shutdown()
		}
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	bus.nc = nc

	js, err := nc.JetStream()
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	bus.js = js

	// Memory storage: the sidecar keeps no state across restarts, so an
	// undelivered finding dies with the process.
	streamCfg := &nats.StreamConfig{
		Name:      "ANOMALIES",
		Subjects:  []string{"anomaly.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    time.Hour,
		MaxBytes:  64 * 1024 * 1024,
		Storage:   nats.MemoryStorage,
		Discard:   nats.DiscardOld,
	}
	if _, err := js.AddStream(streamCfg); err != nil {
		if _, updateErr := js.UpdateStream(streamCfg); updateErr != nil {
			bus.Close()
			return nil, fmt.Errorf("creating/updating anomalies stream: %w (original: %v)", updateErr, err)
		}
	}

	bus.logger.Info().Str("url", url).Msg("connected to NATS JetStream")
	return bus, nil
}

// PublishAnomaly publishes a finding to the anomaly stream.
func (b *EventBus) PublishAnomaly(a *Anomaly) error {
	data, err := a.Marshal()
	if err != nil {
		return fmt.Errorf("marshaling anomaly: %w", err)
	}

	subject := fmt.Sprintf("anomaly.%s.%s", subjectToken(a.Type), a.Context.Severity.String())
	if _, err := b.js.Publish(subject, data); err != nil {
		b.metrics.mu.Lock()
		b.metrics.AnomaliesFailed++
		b.metrics.mu.Unlock()
		return fmt.Errorf("publishing anomaly to %s: %w", subject, err)
	}

	b.metrics.mu.Lock()
	b.metrics.AnomaliesPublished++
	b.metrics.mu.Unlock()

	b.logger.Debug().
		Str("subject", subject).
		Float64("confidence", a.Confidence).
		Msg("anomaly published")
	return nil
}

// SubscribeAnomalies creates a durable subscription over all anomaly
// subjects. The handler runs on the subscription goroutine, one message at
// a time, preserving finding order.
func (b *EventBus) SubscribeAnomalies(handler func(a *Anomaly)) error {
	sub, err := b.js.Subscribe("anomaly.>", func(msg *nats.Msg) {
		a, err := UnmarshalAnomaly(msg.Data)
		if err != nil {
			b.logger.Error().Err(err).Msg("failed to unmarshal anomaly")
			_ = msg.Nak()
			b.metrics.mu.Lock()
			b.metrics.MessagesNaked++
			b.metrics.mu.Unlock()
			return
		}
		handler(a)
		_ = msg.Ack()
		b.metrics.mu.Lock()
		b.metrics.MessagesAcked++
		b.metrics.mu.Unlock()
	}, nats.DeliverNew(), nats.AckExplicit(), nats.Durable("nightagent-reporter"))
	if err != nil {
		return fmt.Errorf("subscribing to anomalies: %w", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// Close shuts down the subscriptions, the connection, and the embedded
// server if one was started.
func (b *EventBus) Close() error {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	if b.nc != nil {
		b.nc.Close()
	}

	if b.ns != nil {
		b.ns.Shutdown()
		b.ns.WaitForShutdown()
		b.logger.Info().Msg("embedded NATS server stopped")
	}
	return nil
}

// IsConnected returns true if the NATS connection is active.
func (b *EventBus) IsConnected() bool {
	return b.nc != nil && b.nc.IsConnected()
}

// GetMetrics returns a snapshot of bus metrics.
func (b *EventBus) GetMetrics() map[string]int64 {
	b.metrics.mu.Lock()
	defer b.metrics.mu.Unlock()
	return map[string]int64{
		"anomalies_published": b.metrics.AnomaliesPublished,
		"anomalies_failed":    b.metrics.AnomaliesFailed,
		"messages_acked":      b.metrics.MessagesAcked,
		"messages_naked":      b.metrics.MessagesNaked,
	}
}

// subjectToken lowercases a rule name into a valid NATS subject token.
func subjectToken(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "_")
}

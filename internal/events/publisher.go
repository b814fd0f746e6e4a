// Package events publishes session lifecycle events to a JetStream stream
// for external audit/analytics consumers. Publication is best-effort and
// never blocks a session mutation.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/Meldroq8/trivia-game-sub003/internal/session"
)

// Config holds JetStream publisher settings.
type Config struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

// DefaultConfig returns settings suitable for local development.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		StreamName:    "MINIGAME_SESSIONS",
		SubjectPrefix: "minigame.sessions",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
	}
}

// Publisher implements session.EventSink over JetStream.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// NewPublisher connects to NATS and ensures the session event stream exists.
func NewPublisher(ctx context.Context, cfg Config) (*Publisher, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}

	log.Info().Str("stream", cfg.StreamName).Msg("session event publisher ready")
	return &Publisher{nc: nc, js: js, prefix: cfg.SubjectPrefix}, nil
}

// PublishSessionEvent publishes one event asynchronously. A failed ack is
// logged; session mutations never fail on the event stream.
func (p *Publisher) PublishSessionEvent(ctx context.Context, event session.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal session event: %w", err)
	}
	subject := fmt.Sprintf("%s.%s.%s", p.prefix, event.Game, event.Type)

	future, err := p.js.PublishAsync(subject, data)
	if err != nil {
		return fmt.Errorf("publish session event: %w", err)
	}
	go func() {
		select {
		case <-future.Ok():
		case err := <-future.Err():
			log.Warn().Err(err).
				Str("subject", subject).
				Str("event_id", event.ID).
				Msg("session event not acked")
		}
	}()
	return nil
}

// Close flushes pending publishes and closes the connection.
func (p *Publisher) Close() {
	select {
	case <-p.js.PublishAsyncComplete():
	case <-time.After(2 * time.Second):
		log.Warn().Msg("timed out waiting for pending event acks")
	}
	p.nc.Close()
}

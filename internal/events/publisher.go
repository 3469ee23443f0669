// Package events publishes plugin lifecycle events over NATS.
//
// Connection handling (reconnect wait, max reconnects, disconnect/reconnect/
// error handlers) is configured through nats.Option values. If NATS is
// unreachable at
// startup the publisher degrades to a disabled no-op rather than failing
// the process: lifecycle notifications are an observability aid, not a
// load-bearing part of plugin management.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// Config configures the NATS connection used for lifecycle events.
type Config struct {
	URL      string
	User     string
	Password string
}

// Publisher publishes plugin lifecycle events to NATS core subjects.
type Publisher struct {
	conn    *nats.Conn
	enabled bool
}

// NewPublisher connects to NATS and returns a Publisher. If cfg.URL is
// empty or the connection fails, it returns a disabled publisher whose
// Publish calls are no-ops.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		log.Warn().Msg("NATS_URL not configured, lifecycle event publishing disabled")
		return &Publisher{enabled: false}, nil
	}

	opts := []nats.Option{
		nats.Name("listingcore-publisher"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS publisher disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS publisher reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS publisher error")
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.URL).Msg("failed to connect publisher to NATS; lifecycle events disabled")
		return &Publisher{enabled: false}, nil
	}

	log.Info().Str("url", conn.ConnectedUrl()).Msg("lifecycle event publisher connected to NATS")
	return &Publisher{conn: conn, enabled: true}, nil
}

// IsEnabled reports whether the publisher has a live NATS connection.
func (p *Publisher) IsEnabled() bool {
	return p.enabled
}

// Close closes the NATS connection without draining it.
func (p *Publisher) Close() error {
	if p.conn != nil {
		p.conn.Close()
	}
	return nil
}

// Publish marshals payload to JSON and publishes it on subject. A no-op
// when the publisher is disabled.
func (p *Publisher) Publish(subject string, payload interface{}) error {
	if !p.enabled {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, data)
}

func (p *Publisher) PublishPluginLoaded(event *PluginLoadedEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return p.Publish(SubjectPluginLoaded, event)
}

func (p *Publisher) PublishPluginEnabled(event *PluginEnabledEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return p.Publish(SubjectPluginEnabled, event)
}

func (p *Publisher) PublishPluginDisabled(event *PluginDisabledEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return p.Publish(SubjectPluginDisabled, event)
}

func (p *Publisher) PublishPluginReloaded(event *PluginReloadedEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return p.Publish(SubjectPluginReloaded, event)
}

func (p *Publisher) PublishPluginFailed(event *PluginFailedEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return p.Publish(SubjectPluginFailed, event)
}

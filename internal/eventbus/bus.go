// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/metrics"
)

// ErrBusClosed is returned by Publish after Close.
var ErrBusClosed = errors.New("event bus closed")

// Config selects and tunes the transport.
type Config struct {
	// SubjectPrefix is prepended to every event type, "komunikator" gives
	// "komunikator.message.read".
	SubjectPrefix string

	// Buffer is the gochannel output buffer per subscriber.
	Buffer int64

	Breaker BreakerConfig
}

// NATSConfig configures the JetStream transport.
type NATSConfig struct {
	URL           string
	StreamName    string
	MaxReconnects int
	ReconnectWait time.Duration
	AckWait       time.Duration
	CloseTimeout  time.Duration
}

// Bus publishes lifecycle events and hands out the matching subscriber.
type Bus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	breaker    *gobreaker.CircuitBreaker[interface{}]
	prefix     string
	transport  string
	logger     watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// WatermillLogger adapts the application logger for Watermill.
func WatermillLogger() watermill.LoggerAdapter {
	return watermill.NewSlogLogger(logging.NewSlogLogger())
}

// NewGoChannelBus creates an in-process bus.
func NewGoChannelBus(cfg Config) *Bus {
	logger := WatermillLogger()
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: buffer,
	}, logger)

	return newBus(cfg, "gochannel", pubsub, pubsub, logger)
}

// NewNATSBus connects a JetStream publisher and subscriber to the stream
// created by EnsureStream.
func NewNATSBus(cfg Config, ncfg NATSConfig) (*Bus, error) {
	logger := WatermillLogger()
	if ncfg.MaxReconnects == 0 {
		ncfg.MaxReconnects = -1
	}
	if ncfg.ReconnectWait <= 0 {
		ncfg.ReconnectWait = 2 * time.Second
	}
	if ncfg.AckWait <= 0 {
		ncfg.AckWait = 30 * time.Second
	}
	if ncfg.CloseTimeout <= 0 {
		ncfg.CloseTimeout = 10 * time.Second
	}

	natsOpts := []natsgo.Option{
		natsgo.Name("komunikator"),
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(ncfg.MaxReconnects),
		natsgo.ReconnectWait(ncfg.ReconnectWait),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         ncfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create nats publisher: %w", err)
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              ncfg.URL,
		SubscribersCount: 1,
		AckWaitTimeout:   ncfg.AckWait,
		CloseTimeout:     ncfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: false,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.BindStream(ncfg.StreamName),
				natsgo.DeliverNew(),
				natsgo.AckWait(ncfg.AckWait),
			},
		},
	}, logger)
	if err != nil {
		_ = pub.Close()
		return nil, fmt.Errorf("create nats subscriber: %w", err)
	}

	return newBus(cfg, "nats", pub, sub, logger), nil
}

func newBus(cfg Config, transport string, pub message.Publisher, sub message.Subscriber, logger watermill.LoggerAdapter) *Bus {
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "event-publisher"
	}
	if cfg.Breaker.Timeout <= 0 {
		cfg.Breaker.Timeout = 30 * time.Second
	}
	logging.Info().Str("transport", transport).Str("prefix", cfg.SubjectPrefix).Msg("Event bus ready")
	return &Bus{
		publisher:  pub,
		subscriber: sub,
		breaker:    NewCircuitBreaker(cfg.Breaker),
		prefix:     cfg.SubjectPrefix,
		transport:  transport,
		logger:     logger,
	}
}

// Topic returns the subject used for events of type t.
func (b *Bus) Topic(t EventType) string {
	return Topic(b.prefix, t)
}

// Transport names the active transport, "gochannel" or "nats".
func (b *Bus) Transport() string {
	return b.transport
}

// Subscriber returns the subscriber side of the transport.
func (b *Bus) Subscriber() message.Subscriber {
	return b.subscriber
}

// Logger returns the Watermill logger shared by the bus and its router.
func (b *Bus) Logger() watermill.LoggerAdapter {
	return b.logger
}

// BreakerState reports the publish breaker state.
func (b *Bus) BreakerState() string {
	return b.breaker.State().String()
}

// Publish serializes ev and publishes it. The event id doubles as the
// JetStream deduplication id.
func (b *Bus) Publish(ctx context.Context, ev *Event) (err error) {
	defer func() { metrics.RecordEventPublish(string(ev.Type), err) }()

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := SerializeEvent(ev)
	if err != nil {
		return err
	}
	msg := message.NewMessage(ev.EventID, data)
	msg.SetContext(ctx)
	msg.Metadata.Set("type", string(ev.Type))
	msg.Metadata.Set("conversation_key", string(ev.ConversationKey))
	msg.Metadata.Set(natsgo.MsgIdHdr, ev.EventID)

	_, err = b.breaker.Execute(func() (interface{}, error) {
		return nil, b.publisher.Publish(b.Topic(ev.Type), msg)
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	return nil
}

// Close shuts down the publisher and subscriber. The gochannel transport
// uses one object for both.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true

	errs := []error{b.publisher.Close()}
	if b.transport != "gochannel" {
		errs = append(errs, b.subscriber.Close())
	}
	return errors.Join(errs...)
}

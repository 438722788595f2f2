package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/stage7/missionctl/internal/common/config"
	"github.com/stage7/missionctl/internal/common/logger"
	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

// NATSMessageBus implements MessageBus using NATS.
type NATSMessageBus struct {
	conn   *nats.Conn
	logger *logger.Logger
	config config.NATSConfig
}

// NewNATSMessageBus creates a new NATS message bus with reconnection logic.
func NewNATSMessageBus(cfg config.NATSConfig, log *logger.Logger) (*NATSMessageBus, error) {
	bus := &NATSMessageBus{
		logger: log,
		config: cfg,
	}

	opts := []nats.Option{
		nats.Name(cfg.ClientID),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(5 * 1024 * 1024), // 5MB buffer during reconnect

		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("NATS disconnected", zap.Error(err))
			} else {
				log.Info("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			if err := nc.LastError(); err != nil {
				log.Error("NATS connection closed", zap.Error(err))
			} else {
				log.Info("NATS connection closed")
			}
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error("NATS error",
				zap.Error(err),
				zap.String("subject", sub.Subject),
			)
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	bus.conn = conn
	log.Info("Connected to NATS", zap.String("url", cfg.URL))

	return bus, nil
}

// Publish sends an envelope to a subject.
func (b *NATSMessageBus) Publish(ctx context.Context, subject string, msg *v1.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	if err := b.conn.Publish(subject, data); err != nil {
		b.logger.Error("Failed to publish message",
			zap.String("subject", subject),
			zap.String("message_type", string(msg.Type)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to publish message: %w", err)
	}

	b.logger.Debug("Published message",
		zap.String("subject", subject),
		zap.String("message_type", string(msg.Type)),
	)

	return nil
}

// Subscribe creates a subscription to a subject pattern.
func (b *NATSMessageBus) Subscribe(subject string, handler MessageHandler) (Subscription, error) {
	sub, err := b.conn.Subscribe(subject, b.createMsgHandler(handler))
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	b.logger.Debug("Subscribed to subject", zap.String("subject", subject))
	return &natsSubscription{sub: sub}, nil
}

// QueueSubscribe creates a queue subscription for load balancing.
func (b *NATSMessageBus) QueueSubscribe(subject, queue string, handler MessageHandler) (Subscription, error) {
	sub, err := b.conn.QueueSubscribe(subject, queue, b.createMsgHandler(handler))
	if err != nil {
		return nil, fmt.Errorf("failed to queue subscribe to %s: %w", subject, err)
	}

	b.logger.Debug("Queue subscribed to subject",
		zap.String("subject", subject),
		zap.String("queue", queue),
	)
	return &natsSubscription{sub: sub}, nil
}

// createMsgHandler creates a NATS message handler from a MessageHandler.
func (b *NATSMessageBus) createMsgHandler(handler MessageHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var envelope v1.Message
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			b.logger.Error("Failed to unmarshal message",
				zap.String("subject", msg.Subject),
				zap.Error(err),
			)
			return
		}

		ctx := context.Background()
		if err := handler(ctx, &envelope); err != nil {
			b.logger.Error("Message handler failed",
				zap.String("subject", msg.Subject),
				zap.String("message_type", string(envelope.Type)),
				zap.Error(err),
			)
		}
	}
}

// Close closes the NATS connection gracefully.
func (b *NATSMessageBus) Close() {
	if b.conn != nil {
		// Drain will process pending messages before closing
		if err := b.conn.Drain(); err != nil {
			b.logger.Warn("Error draining NATS connection", zap.Error(err))
			b.conn.Close()
		}
		b.logger.Info("NATS connection closed")
	}
}

// IsConnected returns whether the NATS connection is active.
func (b *NATSMessageBus) IsConnected() bool {
	if b.conn == nil {
		return false
	}
	return b.conn.IsConnected()
}

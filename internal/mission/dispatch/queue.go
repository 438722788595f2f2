package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/stage7/missionctl/internal/common/logger"
	"github.com/stage7/missionctl/internal/events/bus"
	v1 "github.com/stage7/missionctl/pkg/api/v1"
)

const senderName = "MissionControl"

// queueUserID is the identity assumed for envelopes arriving from the
// broker. The queue path is unprivileged; the HTTP path carries a
// verified token instead.
const queueUserID = "system"

// Consumer pulls command envelopes off the service queue and replies when
// the envelope asks for one. Handler errors never crash the consumer.
type Consumer struct {
	dispatcher *Dispatcher
	bus        bus.MessageBus
	subject    string
	group      string
	logger     *logger.Logger
	sub        bus.Subscription
}

// NewConsumer creates a Consumer on the given subject and queue group.
func NewConsumer(d *Dispatcher, b bus.MessageBus, subject, group string, log *logger.Logger) *Consumer {
	return &Consumer{
		dispatcher: d,
		bus:        b,
		subject:    subject,
		group:      group,
		logger:     log,
	}
}

// Start subscribes to the service queue.
func (c *Consumer) Start() error {
	sub, err := c.bus.QueueSubscribe(c.subject, c.group, c.handle)
	if err != nil {
		return err
	}
	c.sub = sub
	c.logger.Info("queue consumer started",
		zap.String("subject", c.subject),
		zap.String("group", c.group),
	)
	return nil
}

// Stop unsubscribes from the service queue.
func (c *Consumer) Stop() {
	if c.sub != nil {
		if err := c.sub.Unsubscribe(); err != nil {
			c.logger.Warn("failed to unsubscribe queue consumer", zap.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg *v1.Message) error {
	userID := msg.UserID
	if userID == "" {
		userID = queueUserID
	}

	result, err := c.dispatcher.Dispatch(ctx, msg, userID)
	if err != nil {
		c.logger.Warn("queue command failed",
			zap.String("type", string(msg.Type)),
			zap.String("mission_id", msg.MissionID),
			zap.Error(err),
		)
	}

	if msg.ReplyTo == "" || msg.CorrelationID == "" {
		return nil
	}
	c.reply(ctx, msg, result, err)
	return nil
}

// reply publishes a RESPONSE or ERROR envelope to the reply subject,
// preserving the correlation id.
func (c *Consumer) reply(ctx context.Context, msg *v1.Message, result any, cmdErr error) {
	var reply *v1.Message
	if cmdErr != nil {
		reply = v1.NewMessage(v1.MessageTypeError, senderName, msg.Sender, map[string]any{
			"requestType": msg.Type,
			"error":       cmdErr.Error(),
		})
	} else {
		reply = v1.NewMessage(v1.MessageTypeResponse, senderName, msg.Sender, map[string]any{
			"requestType": msg.Type,
			"result":      result,
		})
	}
	reply.CorrelationID = msg.CorrelationID
	reply.ClientID = msg.ClientID
	reply.MissionID = msg.MissionID

	if err := c.bus.Publish(ctx, msg.ReplyTo, reply); err != nil {
		c.logger.Warn("failed to publish queue reply",
			zap.String("reply_to", msg.ReplyTo),
			zap.String("correlation_id", msg.CorrelationID),
			zap.Error(err),
		)
	}
}

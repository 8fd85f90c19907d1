package triggers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streadway/amqp"

	"github.com/fleetops/missionctl/internal/logging"
)

// AMQPConfig names the message bus topic this consumer subscribes to.
type AMQPConfig struct {
	URL        string
	Exchange   string // defaults to "amq.topic"
	RoutingKey string // defaults to "oms.alertalarm.msg"
	QueueName  string // empty lets the broker assign an exclusive queue
}

func (c AMQPConfig) withDefaults() AMQPConfig {
	if c.Exchange == "" {
		c.Exchange = "amq.topic"
	}
	if c.RoutingKey == "" {
		c.RoutingKey = "oms.alertalarm.msg"
	}
	return c
}

// rawMessage is the wire shape of one bus message.
type rawMessage struct {
	Attributes struct {
		OmsPlatformID string `json:"omsplatformId"`
	} `json:"attributes"`
	MessageText string `json:"messageText"`
}

// AMQPConsumer feeds a Router with messages received from an AMQP 0-9-1
// topic exchange.
type AMQPConsumer struct {
	cfg    AMQPConfig
	router *Router
}

// NewAMQPConsumer builds a consumer that publishes every message it
// receives to router.
func NewAMQPConsumer(cfg AMQPConfig, router *Router) *AMQPConsumer {
	return &AMQPConsumer{cfg: cfg.withDefaults(), router: router}
}

// Run connects, binds a queue to the topic exchange, and consumes
// messages until ctx is canceled or the connection drops.
func (c *AMQPConsumer) Run(ctx context.Context) error {
	conn, err := amqp.Dial(c.cfg.URL)
	if err != nil {
		return fmt.Errorf("dial message bus: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare(c.cfg.QueueName, false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, c.cfg.RoutingKey, c.cfg.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue to %s: %w", c.cfg.Exchange, err)
	}

	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume queue: %w", err)
	}

	logging.Op().Info("trigger consumer connected", "exchange", c.cfg.Exchange, "routing_key", c.cfg.RoutingKey)

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-closed:
			return fmt.Errorf("message bus connection closed: %w", err)
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("message bus delivery channel closed")
			}
			c.handle(d)
		}
	}
}

func (c *AMQPConsumer) handle(d amqp.Delivery) {
	defer d.Ack(false)

	var raw rawMessage
	if err := json.Unmarshal(d.Body, &raw); err != nil {
		logging.Op().Warn("dropping unparseable trigger message", "error", err)
		return
	}
	c.router.Publish(Message{Source: raw.Attributes.OmsPlatformID, Event: raw.MessageText})
}

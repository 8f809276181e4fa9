package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/IBM/sarama"

	"rentchat/internal/domain/chat"
)

type MessageHandler interface {
	Handle(ctx context.Context, msg *sarama.ConsumerMessage) error
}

type Consumer struct {
	group   sarama.ConsumerGroup
	handler MessageHandler
}

func NewConsumer(brokers []string, groupID string, cfg *sarama.Config, handler MessageHandler) (*Consumer, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Version = sarama.V2_5_0_0
	// relays only care about events produced after they joined
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	g, err := sarama.NewConsumerGroup(brokers, groupID, cfg)
	if err != nil {
		return nil, err
	}
	return &Consumer{group: g, handler: handler}, nil
}

func (c *Consumer) Run(ctx context.Context, topics []string) error {
	for {
		if err := c.group.Consume(ctx, topics, consumerGroupHandler{handler: c.handler}); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func (c *Consumer) Close() error {
	return c.group.Close()
}

type consumerGroupHandler struct {
	handler MessageHandler
}

func (h consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h consumerGroupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for message := range claim.Messages() {
		if err := h.handler.Handle(sess.Context(), message); err != nil {
			// retry/handling delegated to handler
			continue
		}
		sess.MarkMessage(message, "")
	}
	return nil
}

// Sink receives relayed events, typically the local realtime hub.
type Sink interface {
	Publish(ctx context.Context, event chat.Event) error
}

// Deduper remembers event keys already relayed. Seen reports true for a
// key it has recorded before.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
}

// Relay republishes chat events consumed from kafka into a local Sink.
type Relay struct {
	Sink   Sink
	Dedup  Deduper
	Logger *slog.Logger
}

// Handle decodes one record. Undecodable records are logged and acknowledged.
func (r Relay) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var event chat.Event
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		if r.Logger != nil {
			r.Logger.Warn("relay dropped undecodable event", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", err)
		}
		return nil
	}
	if event.ConversationID == "" {
		event.ConversationID = string(msg.Key)
	}
	if r.duplicate(ctx, event) {
		return nil
	}
	if err := r.Sink.Publish(ctx, event); err != nil {
		if r.Logger != nil {
			r.Logger.Warn("relay publish failed", "conversation_id", event.ConversationID, "error", err)
		}
		return err
	}
	return nil
}

// duplicate fails open: a broken dedup store must not stop delivery.
func (r Relay) duplicate(ctx context.Context, event chat.Event) bool {
	key := event.Key()
	if r.Dedup == nil || key == "" {
		return false
	}
	seen, err := r.Dedup.Seen(ctx, key)
	if err != nil {
		if r.Logger != nil {
			r.Logger.Warn("relay dedup lookup failed", "key", key, "error", err)
		}
		return false
	}
	return seen
}

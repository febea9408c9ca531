package kafka

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"
)

// Consumer wraps kafka-go Reader for consumer-group reads.
type Consumer struct {
	reader *kafkago.Reader
	last   kafkago.Message
}

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// NewConsumer constructs a Consumer that joins the given consumer group.
func NewConsumer(cfg ConsumerConfig) *Consumer {
	return &Consumer{
		reader: kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic,
			GroupID:     cfg.GroupID,
			StartOffset: kafkago.FirstOffset,
		}),
	}
}

// Message is a consumed record with its raw key, value and headers.
type Message struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Fetch blocks until a message is available or the context is done.
func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	msg, err := c.reader.FetchMessage(ctx)
	if err != nil {
		return Message{}, err
	}

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	c.last = msg
	return Message{Key: msg.Key, Value: msg.Value, Headers: headers}, nil
}

// Commit acknowledges the most recently fetched message.
func (c *Consumer) Commit(ctx context.Context) error {
	return c.reader.CommitMessages(ctx, c.last)
}

// Close shuts down the reader and leaves the consumer group.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

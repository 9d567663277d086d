// Package kafkapub publishes ledger entry events to Kafka. Publication is
// fire-and-forget from the ledger's point of view: the service logs and
// swallows any error returned here.
package kafkapub

import (
	"context"
	"encoding/json"
	"time"

	"github.com/MarkoPoloResearchLab/creditdesk/pkg/creditledger"
	"github.com/segmentio/kafka-go"
)

const defaultTopic = "credit_ledger_entries"

// Publisher writes entry-created events to a Kafka topic.
type Publisher struct {
	writer *kafka.Writer
}

// New returns a Publisher for the given brokers and topic (the default
// topic when empty).
func New(brokers []string, topic string) *Publisher {
	if topic == "" {
		topic = defaultTopic
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Topic:    topic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

type entryEvent struct {
	EntryID      string `json:"entry_id"`
	Date         string `json:"date"`
	Type         string `json:"type"`
	Amount       string `json:"amount"`
	BalanceAfter string `json:"balance_after"`
	Reference    string `json:"reference"`
	Method       string `json:"method"`
}

// PublishEntry emits one entry-created event keyed by reference.
func (publisher *Publisher) PublishEntry(ctx context.Context, entry creditledger.Entry) error {
	payload, err := json.Marshal(entryEvent{
		EntryID:      entry.EntryID,
		Date:         entry.Date.UTC().Format(time.RFC3339),
		Type:         entry.Type.String(),
		Amount:       entry.Amount.StringFixed(2),
		BalanceAfter: entry.BalanceAfter.StringFixed(2),
		Reference:    entry.Reference,
		Method:       entry.Method.String(),
	})
	if err != nil {
		return err
	}
	return publisher.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(entry.Reference),
		Value: payload,
	})
}

// Close flushes and closes the underlying writer.
func (publisher *Publisher) Close() error {
	return publisher.writer.Close()
}

var _ creditledger.EntryPublisher = (*Publisher)(nil)

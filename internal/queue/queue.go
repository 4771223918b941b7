// Package queue defines the durable channel between the crawl controller and the
// persistence consumer: one message per record, delivered at least once.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/JakeFAU/catalog-harvester/internal/crawler"
)

// Message attributes set on every published record.
const (
	AttrRecordID    = "record_id"
	AttrContentType = "content_type"
	contentTypeJSON = "application/json"
)

// ErrInvalidPayload is returned by Decode for messages that can never be processed.
var ErrInvalidPayload = errors.New("invalid record payload")

// Delivery is one message handed to a Handler. Exactly one of Ack or Nack takes effect;
// later calls are ignored.
type Delivery struct {
	ID         string
	Data       []byte
	Attributes map[string]string
	// Attempt is the 1-based delivery count as far as the backend can tell.
	Attempt int

	once    sync.Once
	settled bool
	ack     func()
	nack    func()
}

// NewDelivery wraps a backend message.
func NewDelivery(id string, data []byte, attrs map[string]string, attempt int, ack, nack func()) *Delivery {
	if attempt < 1 {
		attempt = 1
	}
	return &Delivery{ID: id, Data: data, Attributes: attrs, Attempt: attempt, ack: ack, nack: nack}
}

// Ack confirms the message so it is not delivered again.
func (d *Delivery) Ack() {
	d.once.Do(func() {
		d.settled = true
		if d.ack != nil {
			d.ack()
		}
	})
}

// Nack asks the backend to redeliver the message.
func (d *Delivery) Nack() {
	d.once.Do(func() {
		d.settled = true
		if d.nack != nil {
			d.nack()
		}
	})
}

// Settled reports whether Ack or Nack has been called. It must only be read by the
// goroutine that ran the handler.
func (d *Delivery) Settled() bool {
	return d.settled
}

// Handler processes one delivery and must Ack or Nack it.
type Handler func(ctx context.Context, d *Delivery)

// Subscriber drains a channel, invoking the handler concurrently for each message until
// ctx ends.
type Subscriber interface {
	Receive(ctx context.Context, h Handler) error
	Close() error
}

// Encode serializes a record to its canonical JSON form plus routing attributes.
func Encode(record crawler.Record) ([]byte, map[string]string, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal record %d: %w", record.ID, err)
	}
	return data, map[string]string{
		AttrRecordID:    strconv.FormatInt(record.ID, 10),
		AttrContentType: contentTypeJSON,
	}, nil
}

// Decode parses a message body. Records without an identity are rejected.
func Decode(data []byte) (crawler.Record, error) {
	var record crawler.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return crawler.Record{}, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}
	if record.ID == 0 {
		return crawler.Record{}, fmt.Errorf("%w: missing id", ErrInvalidPayload)
	}
	return record, nil
}

// Package memory provides an in-process publisher used in tests and
// single-binary deployments without a message broker.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
)

// Message is a published payload retained for inspection.
type Message struct {
	ID    string
	Topic string
	Data  []byte
}

// Publisher stores published messages in memory.
type Publisher struct {
	mu       sync.Mutex
	nextID   int64
	messages []Message
}

func New() *Publisher {
	return &Publisher{}
}

// Publish marshals the payload to JSON and appends it to the in-memory
// log, returning a monotonically increasing message ID.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("publish to %s: %w", topic, err)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := strconv.FormatInt(p.nextID, 10)
	p.messages = append(p.messages, Message{ID: id, Topic: topic, Data: data})
	return id, nil
}

// Messages returns a copy of everything published so far.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

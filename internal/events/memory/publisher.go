// Package memory is an in-process event publisher. It keeps what was
// published so a single-node install (and tests) can inspect it.
package memory

import (
	"context"
	"sync"

	interfaces "github.com/sheikh-saqib/ajo-savings-ledger/internal/interfaces"
)

type Message struct {
	Topic string
	Event any
}

type Publisher struct {
	mu       sync.Mutex
	messages []Message
	limit    int
}

// NewPublisher keeps at most limit messages; zero keeps everything.
func NewPublisher(limit int) *Publisher {
	return &Publisher{limit: limit}
}

func (p *Publisher) Publish(_ context.Context, topic string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, Message{Topic: topic, Event: event})
	if p.limit > 0 && len(p.messages) > p.limit {
		p.messages = append([]Message(nil), p.messages[len(p.messages)-p.limit:]...)
	}
	return nil
}

func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.messages...)
}

// Topic returns the events published on topic, oldest first.
func (p *Publisher) Topic(topic string) []any {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []any
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m.Event)
		}
	}
	return out
}

func (p *Publisher) Close() error { return nil }

var _ interfaces.EventPublisher = (*Publisher)(nil)

package messaging

import (
	"context"
	"sync"
	"time"
)

// Message is one event ready to leave the node.
type Message struct {
	Type  string
	Key   []byte
	Value []byte
	Time  time.Time
}

// Publisher ships engine events to the outside world.
type Publisher interface {
	Publish(ctx context.Context, msgs ...Message) error
	Close() error
}

// Nop drops everything.
type Nop struct{}

func (Nop) Publish(context.Context, ...Message) error { return nil }
func (Nop) Close() error                              { return nil }

// Memory keeps published messages in memory. Used by tests and by the node
// when no broker is configured.
type Memory struct {
	mu   sync.Mutex
	msgs []Message
	max  int
}

// NewMemory keeps at most max messages (0 = unbounded), dropping the oldest.
func NewMemory(max int) *Memory { return &Memory{max: max} }

func (m *Memory) Publish(_ context.Context, msgs ...Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msgs...)
	if m.max > 0 && len(m.msgs) > m.max {
		m.msgs = append([]Message(nil), m.msgs[len(m.msgs)-m.max:]...)
	}
	return nil
}

func (m *Memory) Close() error { return nil }

// Messages returns a copy of what has been published so far.
func (m *Memory) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.msgs...)
}

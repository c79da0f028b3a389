package broker

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/jonathansick-shadow/ctrl-sched-sub000/internal/models"
)

const memorySubBuffer = 1024

// MemoryBroker is an in-process broker used by tests and embedded scenarios.
// Every subscription gets its own buffered channel; selector filtering is
// applied at publish time.
type MemoryBroker struct {
	mu     sync.Mutex
	subs   map[string][]*memorySub
	closed bool
	logger arbor.ILogger
}

// NewMemoryBroker creates an empty in-process broker.
func NewMemoryBroker(logger arbor.ILogger) *MemoryBroker {
	return &MemoryBroker{
		subs:   make(map[string][]*memorySub),
		logger: logger,
	}
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string, ev *models.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	headers := ev.Headers()
	for _, sub := range b.subs[topic] {
		if !sub.selector.Matches(headers) {
			continue
		}
		// Each subscription gets its own copy; receivers may mutate props.
		delivered := *ev
		delivered.Topic = topic
		if ev.Props != nil {
			delivered.Props = make(map[string]any, len(ev.Props))
			for k, v := range ev.Props {
				delivered.Props[k] = v
			}
		}
		select {
		case sub.ch <- &delivered:
		default:
			b.logger.Warn().
				Str("topic", topic).
				Str("status", ev.Status).
				Msg("Subscription buffer full, dropping event")
		}
	}
	return nil
}

func (b *MemoryBroker) Subscribe(topic, selector string) (Subscription, error) {
	sel, err := ParseSelector(selector)
	if err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	sub := &memorySub{
		broker:   b,
		topic:    topic,
		selector: sel,
		ch:       make(chan *models.Event, memorySubBuffer),
	}
	b.subs[topic] = append(b.subs[topic], sub)
	return sub, nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = make(map[string][]*memorySub)
	return nil
}

type memorySub struct {
	broker   *MemoryBroker
	topic    string
	selector *Selector
	ch       chan *models.Event
	once     sync.Once
}

func (s *memorySub) Receive(timeout time.Duration) (*models.Event, error) {
	if timeout <= 0 {
		select {
		case ev := <-s.ch:
			return ev, nil
		default:
			return nil, ErrNoEvent
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-s.ch:
		return ev, nil
	case <-timer.C:
		return nil, ErrNoEvent
	}
}

func (s *memorySub) Close() error {
	s.once.Do(func() {
		b := s.broker
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[s.topic]
		for i, sub := range subs {
			if sub == s {
				b.subs[s.topic] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	})
	return nil
}

package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aramnhammer/mqtt-to-influxdb/internal/bridge"
	"github.com/aramnhammer/mqtt-to-influxdb/internal/infrastructure/config"
)

// defaultBufferSize is used when mqtt.buffer_size is not set.
const defaultBufferSize = 256

// subscriber is the part of *Client a Source needs.
type subscriber interface {
	Subscribe(topic string, qos byte, handler MessageHandler) error
	Unsubscribe(topic string) error
}

// Source turns the messages of one subscription into bridge.Messages.
//
// The subscription handler blocks while the buffer is full. Because paho
// calls handlers in order on a single goroutine, a slow consumer holds
// back the broker connection instead of losing messages. That goroutine
// also reads PINGRESP and acknowledgements: a stall longer than the
// keepalive makes paho drop the connection and reconnect, and with a clean
// session any QoS 0 messages published meanwhile are lost. Setting
// mqtt.enqueue_timeout bounds the wait; messages that still find the
// buffer full are dropped and counted by Dropped.
//
// Messages on the configured status topic are dropped so the bridge never
// stores its own online/offline documents.
type Source struct {
	topic       string
	qos         byte
	statusTopic string

	enqueueTimeout time.Duration
	dropped        atomic.Uint64

	messages chan bridge.Message
	done     chan struct{}
	once     sync.Once
	now      func() time.Time

	mu  sync.Mutex
	sub subscriber
}

// NewSource creates a source for cfg.SubscribeTopic. It does not subscribe
// until Start is called.
func NewSource(cfg config.MQTTConfig) *Source {
	size := cfg.BufferSize
	if size <= 0 {
		size = defaultBufferSize
	}

	return &Source{
		topic:          cfg.SubscribeTopic,
		qos:            byte(cfg.QoS),
		statusTopic:    cfg.StatusTopic,
		enqueueTimeout: time.Duration(cfg.EnqueueTimeout) * time.Second,
		messages:       make(chan bridge.Message, size),
		done:           make(chan struct{}),
		now:            time.Now,
	}
}

// Start subscribes on c. The subscription is restored by c after a reconnect.
//
// Parameters:
//   - c: Connected client (usually *Client)
//
// Returns:
//   - error: ErrInvalidTopic, ErrNotConnected or ErrSubscribeFailed
func (s *Source) Start(c subscriber) error {
	if err := c.Subscribe(s.topic, s.qos, s.handle); err != nil {
		return err
	}

	s.mu.Lock()
	s.sub = c
	s.mu.Unlock()

	return nil
}

// Receive returns the next message. It blocks until one arrives, ctx is
// done, or the source is closed. Messages already buffered when Close is
// called are still returned; after that Receive returns bridge.ErrSourceClosed.
func (s *Source) Receive(ctx context.Context) (bridge.Message, error) {
	select {
	case msg := <-s.messages:
		return msg, nil
	case <-ctx.Done():
		return bridge.Message{}, ctx.Err()
	case <-s.done:
	}

	select {
	case msg := <-s.messages:
		return msg, nil
	default:
		return bridge.Message{}, bridge.ErrSourceClosed
	}
}

// Pending returns the number of buffered messages.
func (s *Source) Pending() int {
	return len(s.messages)
}

// Dropped returns the number of messages discarded because the buffer
// stayed full for longer than the enqueue timeout.
func (s *Source) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes and unblocks Receive. It is safe to call more than once.
func (s *Source) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)

		s.mu.Lock()
		sub := s.sub
		s.sub = nil
		s.mu.Unlock()

		if sub != nil {
			if uerr := sub.Unsubscribe(s.topic); uerr != nil && !errors.Is(uerr, ErrNotConnected) {
				err = uerr
			}
		}
	})
	return err
}

// handle is the subscription callback. Messages arriving after Close are dropped.
func (s *Source) handle(topic string, payload []byte) error {
	if s.statusTopic != "" && topic == s.statusTopic {
		return nil
	}

	msg := bridge.Message{
		Topic:      topic,
		Payload:    [][]byte{append([]byte(nil), payload...)},
		ReceivedAt: s.now(),
	}

	if s.enqueueTimeout <= 0 {
		select {
		case s.messages <- msg:
		case <-s.done:
		}
		return nil
	}

	timer := time.NewTimer(s.enqueueTimeout)
	defer timer.Stop()

	select {
	case s.messages <- msg:
		return nil
	case <-s.done:
		return nil
	case <-timer.C:
		s.dropped.Add(1)
		return fmt.Errorf("%w: dropped after %v", ErrBufferFull, s.enqueueTimeout)
	}
}

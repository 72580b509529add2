package local

import (
	"context"
	"sync"
)

// LocalMessage is an in-process pub/sub message.
type LocalMessage struct {
	Channel string
	Payload string
}

// LocalPubSub is the single-process fallback for the engine's notification
// channels (character snapshots, reward requests) when no Redis is
// configured. Fan-out is best effort: a subscriber that stops draining loses
// messages rather than blocking publishers, matching the engine's
// at-least-once redelivery design where dropped reward notifications are
// re-published by the redeliver sweep.
type LocalPubSub struct {
	mu          sync.RWMutex
	subscribers map[string][]chan *LocalMessage
	bufSize     int
}

// NewPubSub creates a LocalPubSub with the given per-subscriber buffer size.
func NewPubSub(bufSize int) *LocalPubSub {
	if bufSize <= 0 {
		bufSize = 256
	}
	return &LocalPubSub{
		subscribers: make(map[string][]chan *LocalMessage),
		bufSize:     bufSize,
	}
}

// Publish delivers the message to every current subscriber of the channel.
// Full subscriber buffers drop the message instead of blocking.
func (ps *LocalPubSub) Publish(_ context.Context, channel, message string) error {
	msg := &LocalMessage{Channel: channel, Payload: message}
	ps.mu.RLock()
	subs := ps.subscribers[channel]
	ps.mu.RUnlock()
	for _, ch := range subs {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

// Subscribe returns a message stream covering all the given channels and a
// cancel function that detaches the subscriber and closes the stream.
func (ps *LocalPubSub) Subscribe(_ context.Context, channels ...string) (<-chan *LocalMessage, func(), error) {
	ch := make(chan *LocalMessage, ps.bufSize)

	ps.mu.Lock()
	for _, name := range channels {
		ps.subscribers[name] = append(ps.subscribers[name], ch)
	}
	ps.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			ps.mu.Lock()
			for _, name := range channels {
				list := ps.subscribers[name]
				for i, sub := range list {
					if sub == ch {
						ps.subscribers[name] = append(list[:i], list[i+1:]...)
						break
					}
				}
			}
			ps.mu.Unlock()
			close(ch)
		})
	}

	return ch, cancel, nil
}

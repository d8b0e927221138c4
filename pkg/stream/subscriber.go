package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"

	geminierrors "github.com/digitallysavvy/go-gemini/pkg/gemini/errors"
)

// subscriber decouples fan-out from consumption: the manager appends
// events to the queue without blocking, and a dedicated goroutine drains
// the queue into the subscriber's channel. A consumer that stops reading
// for longer than the receive timeout gets a timeout error and is dropped
// without affecting the upstream or other subscribers.
type subscriber struct {
	id      string
	out     chan Event
	timeout time.Duration

	mu      sync.Mutex
	queue   []Event
	wake    chan struct{}
	dropped chan struct{}
	once    sync.Once
}

func newSubscriber(timeout time.Duration) *subscriber {
	s := &subscriber{
		id:      uuid.New().String(),
		out:     make(chan Event, 16),
		timeout: timeout,
		wake:    make(chan struct{}, 1),
		dropped: make(chan struct{}),
	}
	go s.pump()
	return s
}

// push appends an event in receipt order; false when the subscriber is
// gone and should be removed from the stream
func (s *subscriber) push(ev Event) bool {
	select {
	case <-s.dropped:
		return false
	default:
	}
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
	return true
}

// drop detaches the subscriber; the pump closes the channel
func (s *subscriber) drop() {
	s.once.Do(func() { close(s.dropped) })
}

// pump drains the queue into the out channel, preserving order
func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		var ev Event
		have := len(s.queue) > 0
		if have {
			ev = s.queue[0]
			s.queue = s.queue[1:]
		}
		s.mu.Unlock()

		if !have {
			select {
			case <-s.wake:
				continue
			case <-s.dropped:
				return
			}
		}

		timer := time.NewTimer(s.timeout)
		select {
		case s.out <- ev:
			timer.Stop()
			if ev.Type == EventComplete || ev.Type == EventError {
				s.drop()
				return
			}
		case <-timer.C:
			// Receiver stalled between chunks: detach, and deliver a
			// timeout error if it reads again within another receive
			// timeout
			s.drop()
			timer.Reset(s.timeout)
			select {
			case s.out <- Event{Type: EventError, Err: geminierrors.NewStreamError("timeout", 0, nil)}:
			case <-timer.C:
			}
			return
		case <-s.dropped:
			timer.Stop()
			return
		}
	}
}

// Package stream manages the lifecycle of server-sent-event streams: one
// worker per stream holds a rate-limit permit for the stream's lifetime,
// parses chunks, and fans events out to subscribers. The manager is a
// single-writer actor; stream state never leaves its goroutine.
package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/digitallysavvy/go-gemini/pkg/gemini"
	geminierrors "github.com/digitallysavvy/go-gemini/pkg/gemini/errors"
	"github.com/digitallysavvy/go-gemini/pkg/internal/httpx"
	"github.com/digitallysavvy/go-gemini/pkg/internal/retry"
	"github.com/digitallysavvy/go-gemini/pkg/ratelimit"
)

// State is the lifecycle state of one stream
type State string

const (
	StateStarting  State = "starting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateError     State = "error"
	StateStopped   State = "stopped"
)

// EventType tags the fan-out event union
type EventType string

const (
	// EventChunk carries one parsed data frame
	EventChunk EventType = "chunk"

	// EventComplete signals clean upstream completion
	EventComplete EventType = "complete"

	// EventError signals terminal failure (or a per-subscriber receive
	// timeout)
	EventError EventType = "error"
)

// Event is one fan-out event. Chunk events carry the parsed JSON frame;
// terminal events close the subscription channel after delivery.
type Event struct {
	Type EventType
	Data json.RawMessage
	Err  error
}

// Descriptor describes the stream to open
type Descriptor struct {
	// Request is the prepared SSE request (URL, headers, body)
	Request httpx.Request

	// Reserve is the rate-limit claim held for the stream's lifetime
	Reserve ratelimit.ReserveRequest
}

// Config contains the manager knobs
type Config struct {
	// MaxRetries bounds reconnect attempts before any chunk arrives
	// (default: 3)
	MaxRetries int

	// BaseBackoff and MaxBackoff shape the reconnect delay
	// (defaults: 1 s, 10 s)
	BaseBackoff time.Duration
	MaxBackoff  time.Duration

	// JitterFactor randomizes reconnect delays (default: 0.25)
	JitterFactor float64

	// CleanupDelay keeps terminal streams queryable before eviction
	// (default: 30 s)
	CleanupDelay time.Duration

	// SubscriberTimeout is the per-subscriber receive timeout between
	// chunks (default: 30 s)
	SubscriberTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 1 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 10 * time.Second
	}
	if c.JitterFactor <= 0 {
		c.JitterFactor = 0.25
	}
	if c.CleanupDelay <= 0 {
		c.CleanupDelay = 30 * time.Second
	}
	if c.SubscriberTimeout <= 0 {
		c.SubscriberTimeout = 30 * time.Second
	}
	return c
}

// Subscription is one subscriber's view of a stream. Events arrive on C
// in upstream order; the channel closes after a terminal event.
type Subscription struct {
	// C delivers the events
	C <-chan Event

	id       string
	streamID string
	m        *Manager
}

// Cancel removes the subscription; safe to call more than once
func (s *Subscription) Cancel() {
	s.m.send(func(m *Manager) {
		if st := m.streams[s.streamID]; st != nil {
			if sub := st.subscribers[s.id]; sub != nil {
				sub.drop()
				delete(st.subscribers, s.id)
			}
		}
	})
}

// stream is the actor-owned state of one stream
type stream struct {
	id          string
	state       State
	cancel      context.CancelFunc
	subscribers map[string]*subscriber
	lastEvent   time.Time
	attempt     int
}

// Manager owns all streams
type Manager struct {
	cfg     Config
	http    *httpx.Client
	limiter *ratelimit.Limiter

	cmds    chan func(*Manager)
	stop    chan struct{}
	streams map[string]*stream
}

// NewManager creates a stream manager and starts its actor
func NewManager(httpClient *httpx.Client, limiter *ratelimit.Limiter, cfg Config) *Manager {
	m := &Manager{
		cfg:     cfg.withDefaults(),
		http:    httpClient,
		limiter: limiter,
		cmds:    make(chan func(*Manager), 64),
		stop:    make(chan struct{}),
		streams: make(map[string]*stream),
	}
	go m.run()
	return m
}

// Close stops the manager and all streams
func (m *Manager) Close() {
	m.send(func(m *Manager) {
		for _, st := range m.streams {
			st.cancel()
		}
		close(m.stop)
	})
}

func (m *Manager) run() {
	for {
		select {
		case cmd := <-m.cmds:
			cmd(m)
		case <-m.stop:
			return
		}
	}
}

func (m *Manager) send(cmd func(*Manager)) bool {
	select {
	case m.cmds <- cmd:
		return true
	case <-m.stop:
		return false
	}
}

// Start spawns a stream worker and returns the stream id. The worker
// acquires its permit, opens the SSE request, and reconnects with backoff
// until the first chunk arrives.
func (m *Manager) Start(ctx context.Context, desc Descriptor) (string, error) {
	id := uuid.New().String()
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	st := &stream{
		id:          id,
		state:       StateStarting,
		cancel:      cancel,
		subscribers: make(map[string]*subscriber),
		lastEvent:   time.Now(),
	}
	if !m.send(func(m *Manager) { m.streams[id] = st }) {
		cancel()
		return "", geminierrors.NewStreamError("stopped", 0, nil)
	}

	go m.worker(workerCtx, id, desc)
	return id, nil
}

// Subscribe attaches a new subscriber to a stream
func (m *Manager) Subscribe(id string) (*Subscription, error) {
	type result struct {
		sub *Subscription
		err error
	}
	reply := make(chan result, 1)
	ok := m.send(func(m *Manager) {
		st := m.streams[id]
		if st == nil {
			reply <- result{err: geminierrors.NewStreamError("unknown_stream", 0, nil)}
			return
		}
		sub := newSubscriber(m.cfg.SubscriberTimeout)
		st.subscribers[sub.id] = sub

		// Late subscribers to a terminal stream still observe the
		// terminal event
		switch st.state {
		case StateCompleted:
			sub.push(Event{Type: EventComplete})
		case StateError, StateStopped:
			sub.push(Event{Type: EventError, Err: geminierrors.NewStreamError(string(st.state), st.attempt, nil)})
		}
		reply <- result{sub: &Subscription{C: sub.out, id: sub.id, streamID: id, m: m}}
	})
	if !ok {
		return nil, geminierrors.NewStreamError("stopped", 0, nil)
	}
	r := <-reply
	return r.sub, r.err
}

// Stop cancels the stream's HTTP request, releases its permit and
// transitions it to Stopped
func (m *Manager) Stop(id string) {
	m.send(func(m *Manager) {
		st := m.streams[id]
		if st == nil {
			return
		}
		st.cancel()
		if st.state == StateStarting || st.state == StateActive {
			m.finish(st, StateStopped, geminierrors.NewStreamError("stopped", st.attempt, nil))
		}
	})
}

// Status reports the stream state; UnknownStream after eviction
func (m *Manager) Status(id string) (State, error) {
	type result struct {
		state State
		err   error
	}
	reply := make(chan result, 1)
	if !m.send(func(m *Manager) {
		st := m.streams[id]
		if st == nil {
			reply <- result{err: geminierrors.NewStreamError("unknown_stream", 0, nil)}
			return
		}
		reply <- result{state: st.state}
	}) {
		return "", geminierrors.NewStreamError("stopped", 0, nil)
	}
	r := <-reply
	return r.state, r.err
}

// worker drives one stream to completion
func (m *Manager) worker(ctx context.Context, id string, desc Descriptor) {
	reserve := desc.Reserve
	reserve.Done = ctx.Done()
	res, err := m.limiter.Reserve(ctx, reserve)
	if err != nil {
		m.terminal(id, StateError, geminierrors.NewStreamError("rate_limited", 0, err))
		return
	}

	actualTokens := reserve.Tokens
	gotChunk := false

	for attempt := 1; ; attempt++ {
		m.send(func(m *Manager) {
			if st := m.streams[id]; st != nil {
				st.attempt = attempt
			}
		})

		resp, err := m.http.DoSSE(ctx, desc.Request, func(data []byte) error {
			if !json.Valid(data) {
				return geminierrors.NewStreamError("parse", attempt, nil)
			}
			gotChunk = true
			// Track actual usage from chunk metadata for the commit
			var chunk gemini.GenerateContentResponse
			if jsonErr := json.Unmarshal(data, &chunk); jsonErr == nil && chunk.UsageMetadata != nil {
				actualTokens = chunk.UsageMetadata.TotalTokenCount
			}
			m.deliver(id, Event{Type: EventChunk, Data: append([]byte(nil), data...)})
			return nil
		})

		switch {
		case err == nil && resp.IsSuccess():
			res.Commit(actualTokens)
			m.terminal(id, StateCompleted, nil)
			return

		case err == nil && resp.StatusCode == 429:
			httpErr := geminierrors.NewHTTPError(resp.StatusCode, resp.Body)
			m.limiter.RecordError(reserve.Key, httpErr)
			if gotChunk || attempt > m.cfg.MaxRetries {
				res.Release()
				m.terminal(id, StateError, geminierrors.NewStreamError("rate_limited", attempt, httpErr))
				return
			}
			// Sleep out the shared retry window before reconnecting
			delay, ok := httpErr.RetryDelay()
			if !ok {
				delay = 60 * time.Second
			}
			if !sleep(ctx, delay) {
				res.Release()
				m.terminal(id, StateStopped, geminierrors.NewStreamError("stopped", attempt, ctx.Err()))
				return
			}

		case err == nil:
			// Other non-2xx statuses are terminal
			res.Release()
			m.terminal(id, StateError, geminierrors.NewStreamError("upstream",
				attempt, geminierrors.NewHTTPError(resp.StatusCode, resp.Body)))
			return

		case ctx.Err() != nil:
			res.Release()
			m.terminal(id, StateStopped, geminierrors.NewStreamError("stopped", attempt, ctx.Err()))
			return

		case gotChunk:
			// No retry once any chunk has been delivered
			res.Release()
			m.terminal(id, StateError, geminierrors.NewStreamError("upstream_closed", attempt, err))
			return

		case attempt > m.cfg.MaxRetries:
			res.Release()
			m.terminal(id, StateError, geminierrors.NewStreamError("connect", attempt, err))
			return

		default:
			backoff := retry.Delay(attempt, retry.Config{
				BaseDelay:    m.cfg.BaseBackoff,
				MaxDelay:     m.cfg.MaxBackoff,
				JitterFactor: m.cfg.JitterFactor,
			})
			if !sleep(ctx, backoff) {
				res.Release()
				m.terminal(id, StateStopped, geminierrors.NewStreamError("stopped", attempt, ctx.Err()))
				return
			}
		}
	}
}

// deliver fans one event out to every subscriber, preserving per-
// subscriber order
func (m *Manager) deliver(id string, ev Event) {
	m.send(func(m *Manager) {
		st := m.streams[id]
		if st == nil {
			return
		}
		if st.state == StateStarting {
			st.state = StateActive
		}
		st.lastEvent = time.Now()
		for sid, sub := range st.subscribers {
			if !sub.push(ev) {
				delete(st.subscribers, sid)
			}
		}
	})
}

// terminal transitions a stream to its final state and schedules eviction
func (m *Manager) terminal(id string, state State, cause error) {
	m.send(func(m *Manager) {
		st := m.streams[id]
		if st == nil {
			return
		}
		if st.state == StateCompleted || st.state == StateError || st.state == StateStopped {
			return
		}
		m.finish(st, state, cause)
	})
}

// finish runs inside the actor
func (m *Manager) finish(st *stream, state State, cause error) {
	st.state = state
	var ev Event
	if state == StateCompleted {
		ev = Event{Type: EventComplete}
	} else {
		ev = Event{Type: EventError, Err: cause}
	}
	for sid, sub := range st.subscribers {
		sub.push(ev)
		delete(st.subscribers, sid)
	}

	// Terminal streams remain queryable for a grace period
	id := st.id
	time.AfterFunc(m.cfg.CleanupDelay, func() {
		m.send(func(m *Manager) { delete(m.streams, id) })
	})
}

// sleep waits d or until ctx is done; false when interrupted
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

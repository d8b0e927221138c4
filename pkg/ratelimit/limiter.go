// Package ratelimit is the process-wide gatekeeper for provider traffic.
// It combines a per-key permit pool, a sliding token-budget window with
// pre-flight reservation, and a shared retry window derived from server
// 429s. All state is owned by a single actor goroutine; public methods
// send commands and await replies, so every operation is atomic with
// respect to the limiter state.
package ratelimit

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	geminierrors "github.com/digitallysavvy/go-gemini/pkg/gemini/errors"
	"github.com/digitallysavvy/go-gemini/pkg/telemetry"
)

// Config contains the limiter defaults. Per-request overrides come in on
// each ReserveRequest.
type Config struct {
	// MaxConcurrency is the default permit pool size per key (default: 4)
	MaxConcurrency int

	// PermitTimeout bounds blocking waits for a permit; zero waits
	// forever
	PermitTimeout time.Duration

	// WindowDuration is the sliding budget window (default: 60 s)
	WindowDuration time.Duration

	// SafetyMultiplier scales the usable budget (default: 1.0)
	SafetyMultiplier float64

	// RetryJitterFactor bounds the random addition to stored retry
	// windows, as a fraction of the wait (default: 0.10)
	RetryJitterFactor float64

	// Adaptive enables concurrency adaptation: +1 per committed success
	// up to AdaptiveCeiling, ×0.75 (floor 1) per 429
	Adaptive        bool
	AdaptiveCeiling int

	// QPS enables optional request smoothing per key via a token
	// bucket; zero disables it
	QPS   float64
	Burst int

	// Telemetry settings; nil disables instrumentation
	Telemetry *telemetry.Settings
}

// withDefaults fills unset fields
func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 4
	}
	if c.WindowDuration <= 0 {
		c.WindowDuration = 60 * time.Second
	}
	if c.SafetyMultiplier <= 0 {
		c.SafetyMultiplier = 1.0
	}
	if c.RetryJitterFactor <= 0 {
		c.RetryJitterFactor = 0.10
	}
	if c.AdaptiveCeiling <= 0 {
		c.AdaptiveCeiling = 8
	}
	if c.Burst <= 0 {
		c.Burst = 1
	}
	return c
}

// ReserveRequest is one atomic pre-flight claim on permits and tokens
type ReserveRequest struct {
	// Key partitions limiter state; defaults to the model id upstream
	Key string

	// Permits requested (default: 1)
	Permits int

	// Tokens is the estimated input token cost to reserve
	Tokens int

	// Budget sets or updates the key's token budget per window; zero
	// leaves the key unbudgeted (or as previously configured)
	Budget int

	// MaxConcurrency overrides the key's permit pool size when positive
	MaxConcurrency int

	// SafetyMultiplier overrides the configured multiplier when positive
	SafetyMultiplier float64

	// NonBlocking returns immediately on any shortfall instead of
	// queueing
	NonBlocking bool

	// PermitTimeout overrides the configured wait bound; negative means
	// wait forever
	PermitTimeout time.Duration

	// MaxBudgetWait bounds waiting on a full budget window; zero falls
	// back to PermitTimeout semantics
	MaxBudgetWait time.Duration

	// Done is the caller's liveness channel: when it closes before the
	// reservation is committed or released, the limiter reclaims the
	// permits and tokens
	Done <-chan struct{}
}

// Reservation is an acquired claim. Exactly one of Commit or Release must
// be called; both are idempotent.
type Reservation struct {
	// ID of the reservation
	ID string

	// Key the reservation was made under
	Key string

	// Tokens reserved
	Tokens int

	l *Limiter
}

// Commit finalizes the reservation with the actual token usage from the
// response and releases the permits
func (r *Reservation) Commit(actualTokens int) {
	if r == nil || r.l == nil {
		return
	}
	r.l.send(func(l *Limiter) { l.finish(r.ID, actualTokens, true) })
}

// Release returns the reservation without charging usage (error paths)
func (r *Reservation) Release() {
	if r == nil || r.l == nil {
		return
	}
	r.l.send(func(l *Limiter) { l.finish(r.ID, 0, false) })
}

// Stats is a point-in-time snapshot of one key, for tests and diagnostics
type Stats struct {
	InUse       int
	Max         int
	Used        int
	Reserved    int
	BudgetTotal int
	RetryAt     time.Time
	Waiters     int
}

// waiter is one queued blocking caller
type waiter struct {
	req      ReserveRequest
	reply    chan outcome
	deadline time.Time
	timer    *time.Timer
	removed  bool
}

// outcome is the reply to one reserve attempt
type outcome struct {
	res *Reservation
	err error
}

// keyState is the per-key limiter state, owned by the actor
type keyState struct {
	name  string
	inUse int
	max   int

	budgetTotal int
	multiplier  float64
	windowStart time.Time
	windowGen   uint64
	used        int
	reserved    int

	retryAt     time.Time
	waiters     []*waiter
	wakeTimer   *time.Timer
	wakeTimerAt time.Time
}

// reservationState tracks an outstanding reservation inside the actor
type reservationState struct {
	key     string
	permits int
	tokens  int
	gen     uint64
	done    bool
}

// Limiter is the process-wide rate limiter
type Limiter struct {
	cfg  Config
	cmds chan func(*Limiter)
	stop chan struct{}
	wg   sync.WaitGroup

	keys         map[string]*keyState
	reservations map[string]*reservationState

	// qps limiters are thread-safe and live outside the actor
	qpsMu sync.Mutex
	qps   map[string]*rate.Limiter

	// now is replaceable in tests
	now func() time.Time

	rateLimitedCounter metric.Int64Counter
	budgetCounter      metric.Int64Counter
}

// New creates a limiter and starts its actor goroutine
func New(cfg Config) *Limiter {
	cfg = cfg.withDefaults()
	l := &Limiter{
		cfg:          cfg,
		cmds:         make(chan func(*Limiter), 64),
		stop:         make(chan struct{}),
		keys:         make(map[string]*keyState),
		reservations: make(map[string]*reservationState),
		qps:          make(map[string]*rate.Limiter),
		now:          time.Now,
	}

	meter := telemetry.GetMeter(cfg.Telemetry)
	l.rateLimitedCounter, _ = meter.Int64Counter("gemini.ratelimit.rate_limited",
		metric.WithDescription("Server 429s recorded by the limiter"))
	l.budgetCounter, _ = meter.Int64Counter("gemini.ratelimit.budget_rejected",
		metric.WithDescription("Local budget rejections"))

	l.wg.Add(1)
	go l.run()
	return l
}

// Close stops the actor. Outstanding waiters receive a permit_timeout
// rejection.
func (l *Limiter) Close() {
	select {
	case <-l.stop:
		return
	default:
	}
	l.send(func(l *Limiter) {
		for _, k := range l.keys {
			for _, w := range k.waiters {
				w.removed = true
				w.reply <- outcome{err: geminierrors.NewBudgetError(geminierrors.ReasonPermitTimeout, nil)}
			}
			k.waiters = nil
		}
		close(l.stop)
	})
	l.wg.Wait()
}

// run is the actor loop; it is the only goroutine that touches limiter
// state
func (l *Limiter) run() {
	defer l.wg.Done()
	for {
		select {
		case cmd := <-l.cmds:
			cmd(l)
		case <-l.stop:
			return
		}
	}
}

// send delivers a command to the actor; false when the limiter is closed
func (l *Limiter) send(cmd func(*Limiter)) bool {
	select {
	case l.cmds <- cmd:
		return true
	case <-l.stop:
		return false
	}
}

// CheckRetryWindow is the fast path for callers arriving during a 429
// window: nil when clear, RateLimitError with the stored retry_at when
// blocked.
func (l *Limiter) CheckRetryWindow(key string) error {
	reply := make(chan error, 1)
	if !l.send(func(l *Limiter) {
		k := l.keys[key]
		if k == nil || !l.now().Before(k.retryAt) {
			reply <- nil
			return
		}
		reply <- geminierrors.NewRateLimitError(k.retryAt, nil)
	}) {
		return geminierrors.NewBudgetError(geminierrors.ReasonPermitTimeout, nil)
	}
	return <-reply
}

// Reserve performs the atomic pre-flight claim described by req. In
// non-blocking mode any shortfall returns immediately; otherwise the
// caller queues FIFO behind earlier waiters for the same key and wakes on
// permit release, window reset, retry-window expiry or deadline.
func (l *Limiter) Reserve(ctx context.Context, req ReserveRequest) (*Reservation, error) {
	if req.Permits <= 0 {
		req.Permits = 1
	}

	// Optional request smoothing, before touching limiter state
	if q := l.qpsFor(req.Key); q != nil {
		if req.NonBlocking {
			if !q.Allow() {
				return nil, geminierrors.NewBudgetError(geminierrors.ReasonNoPermit, nil)
			}
		} else if err := q.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reply := make(chan outcome, 1)
	if !l.send(func(l *Limiter) { l.reserve(req, reply) }) {
		return nil, geminierrors.NewBudgetError(geminierrors.ReasonPermitTimeout, nil)
	}

	select {
	case out := <-reply:
		return out.res, out.err
	case <-ctx.Done():
		// Cancel the queued waiter; if acquisition raced ahead of the
		// cancellation, release the reservation
		l.send(func(lim *Limiter) { lim.cancelWaiter(req.Key, reply) })
		select {
		case out := <-reply:
			if out.res != nil {
				out.res.Release()
			}
		default:
		}
		return nil, ctx.Err()
	}
}

// qpsFor lazily builds the per-key smoothing limiter
func (l *Limiter) qpsFor(key string) *rate.Limiter {
	if l.cfg.QPS <= 0 {
		return nil
	}
	l.qpsMu.Lock()
	defer l.qpsMu.Unlock()
	q, ok := l.qps[key]
	if !ok {
		q = rate.NewLimiter(rate.Limit(l.cfg.QPS), l.cfg.Burst)
		l.qps[key] = q
	}
	return q
}

// RecordError updates the shared retry window for a key from a server
// error. 429s with RetryInfo use the mandated delay; anything else that
// looks rate-limited falls back to 60 s. Emits exactly one
// retry-window-set event per call. In adaptive mode the permit pool
// shrinks ×0.75 (floor 1).
func (l *Limiter) RecordError(key string, err error) {
	delay := retryDelayFrom(err)
	l.send(func(l *Limiter) {
		now := l.now()
		k := l.key(key, ReserveRequest{})
		jitter := time.Duration(rand.Float64() * l.cfg.RetryJitterFactor * float64(delay))
		k.retryAt = now.Add(delay + jitter)

		l.rateLimitedCounter.Add(context.Background(), 1)

		if l.cfg.Adaptive {
			k.max = k.max * 3 / 4
			if k.max < 1 {
				k.max = 1
			}
		}
		l.scheduleWake(k, k.retryAt)
	})
}

// retryDelayFrom extracts the server-mandated delay, with the 60 s
// fallback the wire contract requires
func retryDelayFrom(err error) time.Duration {
	var rle *geminierrors.RateLimitError
	if errors.As(err, &rle) && !rle.RetryAt.IsZero() {
		if d := time.Until(rle.RetryAt); d > 0 {
			return d
		}
	}
	var httpErr *geminierrors.HTTPError
	if errors.As(err, &httpErr) {
		if d, ok := httpErr.RetryDelay(); ok {
			return d
		}
	}
	return 60 * time.Second
}

// Stats returns a snapshot of one key
func (l *Limiter) Stats(key string) Stats {
	reply := make(chan Stats, 1)
	if !l.send(func(l *Limiter) {
		k := l.keys[key]
		if k == nil {
			reply <- Stats{Max: l.cfg.MaxConcurrency}
			return
		}
		l.slideWindow(k, l.now())
		reply <- Stats{
			InUse:       k.inUse,
			Max:         k.max,
			Used:        k.used,
			Reserved:    k.reserved,
			BudgetTotal: k.budgetTotal,
			RetryAt:     k.retryAt,
			Waiters:     len(k.waiters),
		}
	}) {
		return Stats{}
	}
	return <-reply
}

// ---- actor-side state transitions ----

// key returns (and lazily creates) the state for a key, applying request
// overrides
func (l *Limiter) key(name string, req ReserveRequest) *keyState {
	k, ok := l.keys[name]
	if !ok {
		k = &keyState{
			name:        name,
			max:         l.cfg.MaxConcurrency,
			multiplier:  l.cfg.SafetyMultiplier,
			windowStart: l.now(),
		}
		l.keys[name] = k
	}
	if req.MaxConcurrency > 0 && !l.cfg.Adaptive {
		k.max = req.MaxConcurrency
	}
	if req.Budget > 0 {
		k.budgetTotal = req.Budget
	}
	if req.SafetyMultiplier > 0 {
		k.multiplier = req.SafetyMultiplier
	}
	return k
}

// slideWindow resets the budget window when its duration has elapsed
func (l *Limiter) slideWindow(k *keyState, now time.Time) {
	if k.budgetTotal <= 0 {
		return
	}
	if now.Sub(k.windowStart) >= l.cfg.WindowDuration {
		k.windowStart = now
		k.windowGen++
		k.used = 0
		k.reserved = 0
	}
}

// effectiveBudget is the usable budget under the safety multiplier
func (k *keyState) effectiveBudget() int {
	return int(float64(k.budgetTotal) * k.multiplier)
}

// reserve runs the atomic reservation sequence for one request
func (l *Limiter) reserve(req ReserveRequest, reply chan outcome) {
	now := l.now()
	k := l.key(req.Key, req)

	// Retry window first: reject or queue before touching budgets
	if now.Before(k.retryAt) {
		if req.NonBlocking {
			reply <- outcome{err: geminierrors.NewRateLimitError(k.retryAt, nil)}
			return
		}
		l.enqueue(k, req, reply, now)
		l.scheduleWake(k, k.retryAt)
		return
	}

	l.slideWindow(k, now)

	// A request larger than the whole window can never succeed; no wait
	// is allowed
	if k.budgetTotal > 0 && req.Tokens > k.effectiveBudget() {
		l.budgetCounter.Add(context.Background(), 1)
		reply <- outcome{err: &geminierrors.BudgetError{
			Reason:          geminierrors.ReasonOverBudget,
			RequestTooLarge: true,
		}}
		return
	}

	// Strict FIFO: anyone queued goes first
	if len(k.waiters) > 0 {
		if req.NonBlocking {
			reply <- outcome{err: geminierrors.NewBudgetError(geminierrors.ReasonNoPermit, nil)}
			return
		}
		l.enqueue(k, req, reply, now)
		return
	}

	if err, retryAt := l.tryAcquire(k, req, reply); err != nil {
		if req.NonBlocking {
			l.budgetCounter.Add(context.Background(), 1)
			reply <- outcome{err: geminierrors.NewBudgetError(err.Reason, retryAt)}
			return
		}
		l.enqueue(k, req, reply, now)
		if retryAt != nil {
			l.scheduleWake(k, *retryAt)
		}
	}
}

// tryAcquire attempts the claim; on success it replies and returns nil.
// On shortfall it returns the reason and, for budget shortfalls, the
// window end as the predicted retry time.
func (l *Limiter) tryAcquire(k *keyState, req ReserveRequest, reply chan outcome) (*geminierrors.BudgetError, *time.Time) {
	if k.budgetTotal > 0 && k.used+k.reserved+req.Tokens > k.effectiveBudget() {
		windowEnd := k.windowStart.Add(l.cfg.WindowDuration)
		return &geminierrors.BudgetError{Reason: geminierrors.ReasonBudgetFull}, &windowEnd
	}
	if k.inUse+req.Permits > k.max {
		return &geminierrors.BudgetError{Reason: geminierrors.ReasonNoPermit}, nil
	}

	k.inUse += req.Permits
	k.reserved += req.Tokens

	id := uuid.New().String()
	l.reservations[id] = &reservationState{
		key:     k.name,
		permits: req.Permits,
		tokens:  req.Tokens,
		gen:     k.windowGen,
	}
	res := &Reservation{ID: id, Key: k.name, Tokens: req.Tokens, l: l}

	if req.Done != nil {
		// Reclaim everything if the caller dies before settling
		go l.watch(id, req.Done)
	}

	reply <- outcome{res: res}
	return nil, nil
}

// watch monitors a reservation holder's liveness
func (l *Limiter) watch(id string, done <-chan struct{}) {
	select {
	case <-done:
		l.send(func(l *Limiter) { l.finish(id, 0, false) })
	case <-l.stop:
	}
}

// enqueue adds a blocking caller to the key's FIFO queue
func (l *Limiter) enqueue(k *keyState, req ReserveRequest, reply chan outcome, now time.Time) {
	w := &waiter{req: req, reply: reply}

	timeout := req.PermitTimeout
	if timeout == 0 {
		timeout = l.cfg.PermitTimeout
	}
	if req.MaxBudgetWait > 0 && (timeout <= 0 || req.MaxBudgetWait < timeout) {
		timeout = req.MaxBudgetWait
	}
	if timeout > 0 {
		w.deadline = now.Add(timeout)
		w.timer = time.AfterFunc(timeout, func() {
			l.send(func(l *Limiter) { l.expireWaiter(k.name, w) })
		})
	}
	k.waiters = append(k.waiters, w)

	if req.Done != nil {
		go func() {
			select {
			case <-req.Done:
				l.send(func(l *Limiter) { l.removeWaiter(k.name, w) })
			case <-l.stop:
			}
		}()
	}
}

// expireWaiter rejects a queued caller whose deadline passed
func (l *Limiter) expireWaiter(key string, w *waiter) {
	if w.removed {
		return
	}
	l.removeWaiterState(key, w)
	w.reply <- outcome{err: geminierrors.NewBudgetError(geminierrors.ReasonPermitTimeout, nil)}
}

// cancelWaiter drops the waiter whose reply channel matches (caller
// context canceled)
func (l *Limiter) cancelWaiter(key string, reply chan outcome) {
	k := l.keys[key]
	if k == nil {
		return
	}
	for _, w := range k.waiters {
		if w.reply == reply {
			l.removeWaiterState(key, w)
			return
		}
	}
}

// removeWaiter drops a waiter whose owner died
func (l *Limiter) removeWaiter(key string, w *waiter) {
	if w.removed {
		return
	}
	l.removeWaiterState(key, w)
}

// removeWaiterState unlinks a waiter from its queue
func (l *Limiter) removeWaiterState(key string, w *waiter) {
	w.removed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	k := l.keys[key]
	if k == nil {
		return
	}
	for i, queued := range k.waiters {
		if queued == w {
			k.waiters = append(k.waiters[:i], k.waiters[i+1:]...)
			return
		}
	}
}

// finish settles a reservation: commit charges actual usage, release
// returns the claim. Idempotent.
func (l *Limiter) finish(id string, actualTokens int, commit bool) {
	res, ok := l.reservations[id]
	if !ok || res.done {
		return
	}
	res.done = true
	delete(l.reservations, id)

	k := l.keys[res.key]
	if k == nil {
		return
	}
	now := l.now()
	l.slideWindow(k, now)

	k.inUse -= res.permits
	if k.inUse < 0 {
		k.inUse = 0
	}
	if res.gen == k.windowGen {
		k.reserved -= res.tokens
		if k.reserved < 0 {
			k.reserved = 0
		}
	}
	if commit {
		// A reservation that straddled a window reset charges the new
		// window
		k.used += actualTokens
		if l.cfg.Adaptive && k.max < l.cfg.AdaptiveCeiling {
			k.max++
		}
	}
	l.dispatch(k)
}

// dispatch serves queued waiters from the head while they are satisfiable
func (l *Limiter) dispatch(k *keyState) {
	now := l.now()
	if now.Before(k.retryAt) {
		l.scheduleWake(k, k.retryAt)
		return
	}
	l.slideWindow(k, now)

	for len(k.waiters) > 0 {
		w := k.waiters[0]

		// Over-budget requests are rejected, never held
		if k.budgetTotal > 0 && w.req.Tokens > k.effectiveBudget() {
			l.removeWaiterState(k.name, w)
			w.reply <- outcome{err: &geminierrors.BudgetError{
				Reason:          geminierrors.ReasonOverBudget,
				RequestTooLarge: true,
			}}
			continue
		}

		err, retryAt := l.tryAcquire(k, w.req, w.reply)
		if err == nil {
			l.removeWaiterState(k.name, w)
			continue
		}
		if retryAt != nil {
			l.scheduleWake(k, *retryAt)
		}
		return
	}
}

// scheduleWake arms the key's wake timer for the earlier of its current
// target and at
func (l *Limiter) scheduleWake(k *keyState, at time.Time) {
	if len(k.waiters) == 0 {
		return
	}
	if k.wakeTimer != nil && !k.wakeTimerAt.IsZero() && !at.Before(k.wakeTimerAt) && k.wakeTimerAt.After(l.now()) {
		return
	}
	if k.wakeTimer != nil {
		k.wakeTimer.Stop()
	}
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	k.wakeTimerAt = at
	name := k.name
	k.wakeTimer = time.AfterFunc(d, func() {
		l.send(func(l *Limiter) {
			if ks := l.keys[name]; ks != nil {
				ks.wakeTimerAt = time.Time{}
				l.dispatch(ks)
			}
		})
	})
}

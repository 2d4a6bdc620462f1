// Package fetch runs client-side API calls with optional caching,
// cancellation of superseded calls and retry with exponential backoff.
//
// A Query wraps one unit of work. Starting a new call on a Query cancels the
// call in flight; a cancelled call changes nothing and reports ErrAborted.
// State transitions happen before callbacks and notifications run.
package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// ErrAborted is returned by calls that were superseded, cancelled by the
// caller, or cut short by Close.
var ErrAborted = errors.New("fetch: aborted")

const (
	DefaultRetryDelay     = time.Second
	DefaultSuccessMessage = "Operation completed successfully"

	maxRetryDelay = 5 * time.Minute
)

type Func[T any] func(ctx context.Context) (T, error)

type Status int

const (
	Idle Status = iota
	Loading
	Success
	Error
)

func (s Status) String() string {
	switch s {
	case Loading:
		return "loading"
	case Success:
		return "success"
	case Error:
		return "error"
	}
	return "idle"
}

// State is a snapshot of a Query. Attempt counts from 0 for the first try.
type State[T any] struct {
	Status  Status
	Data    T
	Err     error
	Attempt int
}

// Notifier shows user-facing messages.
type Notifier interface {
	Success(msg string)
	Error(msg string)
}

// UserMessager is implemented by errors that carry a message meant for
// people rather than logs.
type UserMessager interface {
	UserMessage() string
}

type Options[T any] struct {
	// Immediate starts an Execute in the background from New.
	Immediate bool

	// CacheKey enables caching. Without Cache the query gets its own cache
	// of DefaultCacheDuration.
	CacheKey string
	Cache    *Cache

	RetryCount int
	// RetryDelay is the first backoff; each retry doubles it. Defaults to 1s.
	RetryDelay time.Duration

	OnSuccess func(data T)
	OnError   func(err error)

	// SilenceErrors suppresses the error notification.
	SilenceErrors    bool
	ShowSuccessToast bool
	SuccessMessage   string
	Notifier         Notifier

	Clock Clock
}

type Query[T any] struct {
	fn    Func[T]
	opts  Options[T]
	clock Clock
	cache *Cache

	life  context.Context
	close context.CancelFunc

	mu       sync.Mutex
	state    State[T]
	gen      uint64
	inflight context.CancelFunc
}

// New binds fn to a Query that lives until ctx is done or Close is called.
func New[T any](ctx context.Context, fn Func[T], opts Options[T]) *Query[T] {
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.RetryCount < 0 {
		opts.RetryCount = 0
	}
	if opts.SuccessMessage == "" {
		opts.SuccessMessage = DefaultSuccessMessage
	}
	clock := opts.Clock
	if clock == nil {
		clock = SystemClock{}
	}
	cache := opts.Cache
	if cache == nil && opts.CacheKey != "" {
		cache = NewCache(DefaultCacheDuration, clock)
	}

	life, cancel := context.WithCancel(ctx)
	q := &Query[T]{
		fn:    fn,
		opts:  opts,
		clock: clock,
		cache: cache,
		life:  life,
		close: cancel,
	}
	if opts.Immediate {
		go func() { _, _ = q.Execute(life) }()
	}
	return q
}

// Execute runs the call, answering from the cache when a fresh entry exists.
func (q *Query[T]) Execute(ctx context.Context) (T, error) {
	return q.run(ctx, true)
}

// Refetch runs the call without reading the cache. A success still
// refreshes the cached entry.
func (q *Query[T]) Refetch(ctx context.Context) (T, error) {
	return q.run(ctx, false)
}

// Invalidate drops this query's cache entry.
func (q *Query[T]) Invalidate() {
	if q.cache != nil && q.opts.CacheKey != "" {
		q.cache.Delete(q.opts.CacheKey)
	}
}

// Close aborts the call in flight and any pending retry. Later calls return
// ErrAborted.
func (q *Query[T]) Close() {
	q.close()
}

func (q *Query[T]) State() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}

// Reset aborts the call in flight and returns the query to Idle.
func (q *Query[T]) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.inflight != nil {
		q.inflight()
		q.inflight = nil
	}
	q.gen++
	q.state = State[T]{}
}

func (q *Query[T]) run(ctx context.Context, readCache bool) (T, error) {
	var zero T
	callCtx, gen, release, ok := q.begin(ctx)
	if !ok {
		return zero, ErrAborted
	}
	defer release()

	key := q.opts.CacheKey
	if readCache && key != "" {
		if v, hit := q.cache.Get(key); hit {
			if data, ok := v.(T); ok {
				if !q.transition(gen, func(s *State[T]) { *s = State[T]{Status: Success, Data: data} }) {
					return zero, ErrAborted
				}
				return data, nil
			}
		}
	}

	schedule := &backoff.ExponentialBackOff{
		InitialInterval: q.opts.RetryDelay,
		Multiplier:      2,
		MaxInterval:     maxRetryDelay,
	}
	schedule.Reset()

	for attempt := 0; ; attempt++ {
		if callCtx.Err() != nil {
			return zero, ErrAborted
		}
		if !q.transition(gen, func(s *State[T]) {
			s.Status, s.Err, s.Attempt = Loading, nil, attempt
		}) {
			return zero, ErrAborted
		}

		data, err := q.fn(callCtx)
		if callCtx.Err() != nil {
			return zero, ErrAborted
		}

		if err == nil {
			if !q.transition(gen, func(s *State[T]) {
				if key != "" {
					q.cache.Set(key, data)
				}
				*s = State[T]{Status: Success, Data: data, Attempt: attempt}
			}) {
				return zero, ErrAborted
			}
			q.succeeded(data)
			return data, nil
		}

		if !q.transition(gen, func(s *State[T]) {
			s.Status, s.Err, s.Attempt = Error, err, attempt
		}) {
			return zero, ErrAborted
		}
		if attempt >= q.opts.RetryCount {
			q.failed(err)
			return zero, err
		}

		select {
		case <-q.clock.After(schedule.NextBackOff()):
		case <-callCtx.Done():
			return zero, ErrAborted
		}
	}
}

// begin supersedes the call in flight and returns the new call's context,
// generation and release func.
func (q *Query[T]) begin(ctx context.Context) (context.Context, uint64, func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.life.Err() != nil {
		return nil, 0, nil, false
	}
	if q.inflight != nil {
		q.inflight()
	}
	q.gen++
	callCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(q.life, cancel)
	q.inflight = cancel
	return callCtx, q.gen, func() { stop(); cancel() }, true
}

// transition applies fn only while gen is still the current call.
func (q *Query[T]) transition(gen uint64, fn func(*State[T])) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if gen != q.gen || q.life.Err() != nil {
		return false
	}
	fn(&q.state)
	return true
}

func (q *Query[T]) succeeded(data T) {
	if q.opts.OnSuccess != nil {
		q.opts.OnSuccess(data)
	}
	if q.opts.ShowSuccessToast && q.opts.Notifier != nil {
		q.opts.Notifier.Success(q.opts.SuccessMessage)
	}
}

func (q *Query[T]) failed(err error) {
	if q.opts.OnError != nil {
		q.opts.OnError(err)
	}
	if !q.opts.SilenceErrors && q.opts.Notifier != nil {
		q.opts.Notifier.Error(Message(err))
	}
}

// Message is the user-facing text for err.
func Message(err error) string {
	var um UserMessager
	if errors.As(err, &um) {
		if m := um.UserMessage(); m != "" {
			return m
		}
	}
	if err == nil || err.Error() == "" {
		return "An error occurred"
	}
	return err.Error()
}

package swrcache

import (
	"context"
	"sync"
)

// State is what a Query currently knows about its request.
type State[T any] struct {
	Data    T
	Loading bool
	Err     error
}

// Query binds one request to a consumer. It issues the request on creation and again
// whenever the request changes or Refetch is called, publishing every new State on
// Updates. Results of superseded requests are dropped.
//
// Closing a Query releases its waits. Transport calls it started still complete and
// update the shared Store.
type Query[T any] struct {
	c    *Coordinator
	opts RequestOptions

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	endpoint string
	params   Params
	gen      uint64
	state    State[T]
	updates  chan State[T]
	closed   bool
}

// NewQuery creates a Query and starts loading endpoint with params.
func NewQuery[T any](c *Coordinator, endpoint string, params Params, opts RequestOptions) *Query[T] {
	ctx, cancel := context.WithCancel(context.Background())

	q := &Query[T]{
		c:        c,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		endpoint: endpoint,
		params:   params,
		updates:  make(chan State[T], 1),
	}

	q.mu.Lock()
	q.startLocked(false)
	q.mu.Unlock()

	return q
}

// State returns the latest state.
func (q *Query[T]) State() State[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.state
}

// Updates delivers state changes. Only the latest unread state is kept. The channel is
// closed by Close.
func (q *Query[T]) Updates() <-chan State[T] {
	return q.updates
}

// SetRequest points the query at a new endpoint and params. Nothing is issued when they
// derive the same key as the current request.
func (q *Query[T]) SetRequest(endpoint string, params Params) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || BuildKey(endpoint, params) == BuildKey(q.endpoint, q.params) {
		return
	}

	q.endpoint, q.params = endpoint, params
	q.startLocked(false)
}

// Refetch invalidates the cached entry and requests it from the transport again.
func (q *Query[T]) Refetch() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.startLocked(true)
}

// Close detaches the query. It is safe to call more than once.
func (q *Query[T]) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.cancel()
	close(q.updates)
	q.mu.Unlock()

	q.wg.Wait()
}

func (q *Query[T]) startLocked(refetch bool) {
	q.gen++
	gen := q.gen
	endpoint, params := q.endpoint, q.params

	q.state.Loading = true
	q.state.Err = nil
	q.publishLocked()

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()

		var (
			data T
			err  error
		)
		if refetch {
			var raw any
			if raw, err = q.c.Refetch(q.ctx, endpoint, params, q.opts); err == nil {
				data, err = decode[T](raw)
			}
		} else {
			data, err = Fetch[T](q.ctx, q.c, endpoint, params, q.opts)
		}

		q.mu.Lock()
		defer q.mu.Unlock()

		if q.closed || gen != q.gen {
			return
		}

		if err != nil {
			q.state.Err = err
		} else {
			q.state.Data = data
		}
		q.state.Loading = false
		q.publishLocked()
	}()
}

// publishLocked replaces any unread state with the current one. q.mu serializes senders,
// so the send never blocks.
func (q *Query[T]) publishLocked() {
	select {
	case <-q.updates:
	default:
	}

	q.updates <- q.state
}

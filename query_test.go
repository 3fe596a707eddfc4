package swrcache_test

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	swrcache "github.com/dgduncan/go-swr-cache"
)

// settled reads updates until the query stops loading.
func settled[T any](t *testing.T, q *swrcache.Query[T]) swrcache.State[T] {
	t.Helper()

	timeout := time.After(time.Second)
	for {
		select {
		case s, ok := <-q.Updates():
			require.True(t, ok, "updates closed")
			if !s.Loading {
				return s
			}
		case <-timeout:
			t.Fatal("query did not settle")
		}
	}
}

func TestQueryLoads(t *testing.T) {
	t.Parallel()

	doer := staticDoer(`[{"id":1}]`)
	f := newFixture(t, doer, nil)

	q := swrcache.NewQuery[[]post](f.coord, "/api/feed", swrcache.Params{"page": 1}, swrcache.RequestOptions{})
	defer q.Close()

	s := settled(t, q)
	require.NoError(t, s.Err)
	assert.Equal(t, []post{{ID: 1}}, s.Data)
	assert.Equal(t, s, q.State())
}

func TestQueryError(t *testing.T) {
	t.Parallel()

	doer := &stubDoer{handler: func(int32, *http.Request) *http.Response {
		return jsonResponse(http.StatusForbidden, `{}`)
	}}
	f := newFixture(t, doer, nil)

	q := swrcache.NewQuery[[]post](f.coord, "/api/messages", nil, swrcache.RequestOptions{})
	defer q.Close()

	s := settled(t, q)
	var te *swrcache.TransportError
	require.ErrorAs(t, s.Err, &te)
	assert.Equal(t, http.StatusForbidden, te.StatusCode)
	assert.Nil(t, s.Data)
}

func TestQuerySetRequest(t *testing.T) {
	t.Parallel()

	doer := &stubDoer{handler: func(_ int32, r *http.Request) *http.Response {
		return jsonResponse(http.StatusOK, `[{"id":`+r.URL.Query().Get("page")+`}]`)
	}}
	f := newFixture(t, doer, nil)

	q := swrcache.NewQuery[[]post](f.coord, "/api/feed", swrcache.Params{"page": 1}, swrcache.RequestOptions{})
	defer q.Close()

	assert.Equal(t, []post{{ID: 1}}, settled(t, q).Data)

	// same key, nothing issued
	q.SetRequest("/api/feed", swrcache.Params{"page": 1})
	assert.Equal(t, int32(1), doer.calls.Load())

	q.SetRequest("/api/feed", swrcache.Params{"page": 2})
	assert.Equal(t, []post{{ID: 2}}, settled(t, q).Data)
	assert.Equal(t, int32(2), doer.calls.Load())
}

func TestQueryDropsSupersededResults(t *testing.T) {
	t.Parallel()

	slow := make(chan struct{})
	doer := &stubDoer{handler: func(_ int32, r *http.Request) *http.Response {
		if strings.HasSuffix(r.URL.Path, "/slow") {
			<-slow
			return jsonResponse(http.StatusOK, `"slow"`)
		}
		return jsonResponse(http.StatusOK, `"fast"`)
	}}
	f := newFixture(t, doer, nil)

	q := swrcache.NewQuery[string](f.coord, "/api/slow", nil, swrcache.RequestOptions{})
	defer q.Close()

	q.SetRequest("/api/fast", nil)
	assert.Equal(t, "fast", settled(t, q).Data)

	close(slow)

	// the slow result still lands in the shared store, never in the query
	require.Eventually(t, func() bool {
		return f.store.Stats().Size == 2
	}, time.Second, time.Millisecond)
	assert.Equal(t, "fast", q.State().Data)
	assert.False(t, q.State().Loading)
}

func TestQueryRefetch(t *testing.T) {
	t.Parallel()

	doer := &stubDoer{handler: func(n int32, _ *http.Request) *http.Response {
		if n == 1 {
			return jsonResponse(http.StatusOK, `1`)
		}
		return jsonResponse(http.StatusOK, `2`)
	}}
	f := newFixture(t, doer, nil)

	q := swrcache.NewQuery[int](f.coord, "/api/count", nil, swrcache.RequestOptions{TTL: time.Hour})
	defer q.Close()

	assert.Equal(t, 1, settled(t, q).Data)

	q.Refetch()
	assert.Equal(t, 2, settled(t, q).Data)
	assert.Equal(t, int32(2), doer.calls.Load())
}

func TestQueryCloseLetsSharedFetchFinish(t *testing.T) {
	t.Parallel()

	doer := staticDoer(`{"id":3}`)
	doer.started = make(chan struct{}, 1)
	doer.release = make(chan struct{})
	f := newFixture(t, doer, nil)

	q := swrcache.NewQuery[post](f.coord, "/api/post", nil, swrcache.RequestOptions{})
	<-doer.started

	q.Close()
	q.Close()

	_, open := <-q.Updates()
	for open {
		_, open = <-q.Updates()
	}

	// calls after close are ignored
	q.Refetch()
	q.SetRequest("/api/other", nil)

	close(doer.release)
	require.Eventually(t, func() bool {
		_, ok := f.store.Get(t.Context(), "/api/post", nil)
		return ok
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(1), doer.calls.Load())
}

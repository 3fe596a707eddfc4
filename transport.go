package swrcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	headerAccept       = "Accept"
	headerCacheControl = "Cache-Control"

	directiveCacheControlMaxAge  = "max-age"
	directiveCacheControlNoStore = "no-store"
)

// Doer performs HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(r *http.Request) (*http.Response, error)
}

var (
	// ErrDecode is returned when a response body is not valid JSON.
	ErrDecode = errors.New("swrcache: response is not valid json")

	// ErrTimeout is returned when a transport call exceeds Config.Timeout.
	ErrTimeout = errors.New("swrcache: transport call timed out")
)

// TransportError reports a response with a non-success status.
type TransportError struct {
	URL        string
	StatusCode int
}

func (te *TransportError) Error() string {
	return fmt.Sprintf("swrcache: %s returned status %d", te.URL, te.StatusCode)
}

// response is what a successful transport call hands back to the coordinator.
type response struct {
	body   json.RawMessage
	maxAge time.Duration
	// noStore is set when the origin forbids storing the response.
	noStore bool
}

// resolveURL joins endpoint and the encoded params onto base.
func resolveURL(base *url.URL, endpoint string, params Params) (string, error) {
	ref, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("swrcache: parse endpoint %q: %w", endpoint, err)
	}

	u := ref
	if base != nil {
		u = base.ResolveReference(ref)
	}

	if q := params.values(); len(q) > 0 {
		existing := u.Query()
		for k, vs := range q {
			existing[k] = vs
		}
		u.RawQuery = existing.Encode()
	}

	return u.String(), nil
}

// fetch issues a GET for rawURL and returns its JSON body. ctx bounds the whole call.
func fetch(ctx context.Context, doer Doer, rawURL string) (*response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("swrcache: create request: %w", err)
	}
	req.Header.Set(headerAccept, "application/json")

	resp, err := doer.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Join(ErrTimeout, err)
		}
		return nil, fmt.Errorf("swrcache: fetch %s: %w", rawURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &TransportError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, errors.Join(ErrTimeout, err)
		}
		return nil, fmt.Errorf("swrcache: read %s: %w", rawURL, err)
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("%w: %s", ErrDecode, rawURL)
	}

	maxAge, noStore := parseCacheControl(resp.Header.Get(headerCacheControl))

	return &response{body: body, maxAge: maxAge, noStore: noStore}, nil
}

// parseCacheControl extracts max-age and no-store from a Cache-Control header.
func parseCacheControl(cacheControl string) (maxAge time.Duration, noStore bool) {
	if cacheControl == "" {
		return 0, false
	}

	for _, directive := range strings.Split(cacheControl, ",") {
		directive = strings.ToLower(strings.TrimSpace(directive))

		if directive == directiveCacheControlNoStore {
			noStore = true
			continue
		}

		name, value, ok := strings.Cut(directive, "=")
		if !ok || name != directiveCacheControlMaxAge || value == "" {
			continue
		}

		secs, err := strconv.Atoi(strings.Trim(value, `"`))
		if err != nil || secs < 0 {
			continue
		}
		maxAge = time.Duration(secs) * time.Second
	}

	return maxAge, noStore
}

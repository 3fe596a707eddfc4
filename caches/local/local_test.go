//go:build !integration

package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	swrcache "github.com/dgduncan/go-swr-cache"
	"github.com/dgduncan/go-swr-cache/caches"
)

func TestBasicCache(t *testing.T) {
	t.Parallel()

	base := time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		entry       *swrcache.Entry
		key         string
		expectedErr error
	}{
		{
			name:  "valid entry is returned",
			entry: &swrcache.Entry{Data: "feed", StoredAt: base, TTL: time.Minute},
			key:   "/api/feed",
		},
		{
			name:        "expired entry is returned with error",
			entry:       &swrcache.Entry{Data: "feed", StoredAt: base.Add(-time.Hour), TTL: time.Minute},
			key:         "/api/feed",
			expectedErr: caches.ErrCacheItemExpired,
		},
		{
			name:        "missing key",
			key:         "/api/videos",
			expectedErr: caches.ErrNoCacheItem,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			bc := NewBasicCacheWithTimeFunc(func() time.Time { return base })
			require.NoError(t, bc.Set(ctx, "/api/feed", &swrcache.Entry{Data: "feed", StoredAt: base, TTL: time.Minute}))
			if tt.entry != nil {
				require.NoError(t, bc.Set(ctx, tt.key, tt.entry))
			}

			got, err := bc.Get(ctx, tt.key)
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, "feed", got.Data)
		})
	}
}

func TestBasicCacheDelete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	bc := NewBasicCache()

	require.NoError(t, bc.Set(ctx, "k", &swrcache.Entry{Data: 1, StoredAt: time.Now(), TTL: time.Minute}))
	assert.Equal(t, 1, bc.Len())

	require.NoError(t, bc.Delete(ctx, "k"))
	require.NoError(t, bc.Delete(ctx, "k"))

	_, err := bc.Get(ctx, "k")
	assert.ErrorIs(t, err, caches.ErrNoCacheItem)
	assert.Equal(t, 0, bc.Len())
}

//go:build !integration

package dynamodb

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	swrcache "github.com/dgduncan/go-swr-cache"
	"github.com/dgduncan/go-swr-cache/caches"
)

type fakeAPI struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{items: make(map[string]map[string]types.AttributeValue)}
}

func keyOf(m map[string]types.AttributeValue) string {
	return m["key"].(*types.AttributeValueMemberS).Value
}

func (f *fakeAPI) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	return &dynamodb.GetItemOutput{Item: f.items[keyOf(in.Key)]}, nil
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.items[keyOf(in.Item)] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.items, keyOf(in.Key))
	return &dynamodb.DeleteItemOutput{}, nil
}

func TestNewDynamoDBCache(t *testing.T) {
	tests := []struct {
		name          string
		client        API
		config        *Config
		expectedCache *Cache
		expectedErr   error
	}{
		{
			name:   "nil client returns error",
			client: nil,
			config: &Config{
				Table:          "test-table",
				ItemExpiration: time.Hour,
			},
			expectedErr: caches.ErrValidation,
		},
		{
			name:        "missing table returns error",
			client:      &dynamodb.Client{},
			config:      &Config{},
			expectedErr: caches.ErrValidation,
		},
		{
			name:   "zero item expiration uses default",
			client: &dynamodb.Client{},
			config: &Config{
				Table:          "test-table",
				ItemExpiration: 0,
			},
			expectedCache: &Cache{
				table:      "test-table",
				expiration: caches.DefaultExpiredDuration,
			},
		},
		{
			name:   "custom item expiration",
			client: &dynamodb.Client{},
			config: &Config{
				Table:          "test-table",
				ItemExpiration: time.Hour,
			},
			expectedCache: &Cache{
				table:      "test-table",
				expiration: time.Hour,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cache, err := New(context.Background(), tt.client, tt.config)

			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
				assert.Nil(t, cache)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expectedCache.table, cache.table)
			assert.Equal(t, tt.expectedCache.expiration, cache.expiration)
		})
	}
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2023, 1, 1, 12, 0, 0, 0, time.UTC)

	c, err := New(ctx, newFakeAPI(), &Config{Table: "test"})
	require.NoError(t, err)
	c.now = func() time.Time { return now }

	_, err = c.Get(ctx, "/api/feed?page=1")
	assert.ErrorIs(t, err, caches.ErrNoCacheItem)

	require.NoError(t, c.Set(ctx, "/api/feed?page=1", &swrcache.Entry{
		Data:     json.RawMessage(`[{"id":1}]`),
		StoredAt: now,
		TTL:      time.Minute,
	}))

	got, err := c.Get(ctx, "/api/feed?page=1")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":1}]`, string(got.Data.(json.RawMessage)))
	assert.Equal(t, time.Minute, got.TTL)

	c.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, err = c.Get(ctx, "/api/feed?page=1")
	assert.ErrorIs(t, err, caches.ErrCacheItemExpired)

	require.NoError(t, c.Delete(ctx, "/api/feed?page=1"))
	_, err = c.Get(ctx, "/api/feed?page=1")
	assert.ErrorIs(t, err, caches.ErrNoCacheItem)
}

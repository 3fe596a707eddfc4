package dynamodb

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	swrcache "github.com/dgduncan/go-swr-cache"
	"github.com/dgduncan/go-swr-cache/caches"
)

// Config defines the configuration options for the DynamoDB cache implementation.
type Config struct {
	// ItemExpiration is how long an item stays in the table before DynamoDB TTL may delete it.
	// This is independent of the TTL of the cached entry itself.
	ItemExpiration time.Duration
	Table          string
}

// API is the subset of the DynamoDB client the cache uses. *dynamodb.Client satisfies it.
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Cache implements swrcache.Backend using Amazon DynamoDB as the storage backend.
type Cache struct {
	client API

	table      string
	expiration time.Duration
	now        func() time.Time
}

type cacheItem struct {
	Key       string `json:"key" dynamodbav:"key"`
	Entry     []byte `json:"entry" dynamodbav:"entry"`
	CreatedAt int64  `json:"created_at" dynamodbav:"created_at"`
	ExpiredAt int64  `json:"expired_at" dynamodbav:"expired_at"`
}

func (c *Cache) itemKey(k string) (map[string]types.AttributeValue, error) {
	key, err := attributevalue.Marshal(k)
	if err != nil {
		return nil, err
	}

	return map[string]types.AttributeValue{"key": key}, nil
}

// Get retrieves an entry by its key. An expired entry is returned together with
// caches.ErrCacheItemExpired.
func (c *Cache) Get(ctx context.Context, k string) (*swrcache.Entry, error) {
	key, err := c.itemKey(k)
	if err != nil {
		return nil, err
	}

	output, err := c.client.GetItem(ctx, &dynamodb.GetItemInput{
		Key:            key,
		ConsistentRead: aws.Bool(true),
		TableName:      aws.String(c.table),
	})
	if err != nil {
		return nil, err
	}

	if output.Item == nil {
		return nil, caches.ErrNoCacheItem
	}

	var item cacheItem
	if err := attributevalue.UnmarshalMap(output.Item, &item); err != nil {
		return nil, err
	}

	e, err := swrcache.DecodeEntry(item.Entry)
	if err != nil {
		return nil, err
	}

	if !e.Valid(c.now()) {
		return e, caches.ErrCacheItemExpired
	}

	return e, nil
}

// Set stores an entry under k, replacing any previous item.
func (c *Cache) Set(ctx context.Context, k string, v *swrcache.Entry) error {
	createdAt := c.now()

	enc, err := swrcache.EncodeEntry(v)
	if err != nil {
		return err
	}

	av, err := attributevalue.MarshalMap(cacheItem{
		Key:       k,
		Entry:     enc,
		CreatedAt: createdAt.Unix(),
		ExpiredAt: createdAt.Add(c.expiration).Unix(),
	})
	if err != nil {
		return err
	}

	_, err = c.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(c.table),
		Item:      av,
	})
	return err
}

// Delete removes the item stored under k. Deleting a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, k string) error {
	key, err := c.itemKey(k)
	if err != nil {
		return err
	}

	_, err = c.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.table),
		Key:       key,
	})
	return err
}

// New creates a new DynamoDB cache instance with the provided configuration.
// It validates the configuration and sets default values where appropriate.
// Returns an error if the client is nil or if the configuration is invalid.
func New(_ context.Context, client API, config *Config) (*Cache, error) {
	if client == nil {
		return nil, caches.ValidationError{
			Reason: "nil client",
		}
	}

	if config == nil || config.Table == "" {
		return nil, caches.ValidationError{
			Reason: "missing table",
		}
	}

	itemExpiration := config.ItemExpiration
	if itemExpiration == 0 {
		itemExpiration = caches.DefaultExpiredDuration
	}

	return &Cache{
		client: client,

		table:      config.Table,
		expiration: itemExpiration,
		now:        time.Now,
	}, nil
}

var _ swrcache.Backend = (*Cache)(nil)

package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	swrcache "github.com/dgduncan/go-swr-cache"
)

const (
	backendNone     = "none"
	backendBolt     = "bolt"
	backendPostgres = "postgres"
	backendDynamoDB = "dynamodb"
)

type config struct {
	cache swrcache.Config
	store swrcache.StoreConfig

	backend         string
	boltPath        string
	postgresDSN     string
	dynamoTable     string
	dynamoCreate    bool
	cleanupInterval time.Duration
	listen          string
	prefetch        []string
	logLevel        slog.Level
	metricsExporter string
}

// loadConfig reads the SWRCACHE_* variables through getenv.
func loadConfig(getenv func(string) string) (config, error) {
	c := config{
		cache:           swrcache.DefaultConfig(),
		store:           swrcache.DefaultStoreConfig(),
		backend:         backendNone,
		boltPath:        "swrcache.db",
		cleanupInterval: time.Minute,
		listen:          ":8080",
		logLevel:        slog.LevelInfo,
	}

	c.cache.BaseURL = getenv("SWRCACHE_BASE_URL")
	if c.cache.BaseURL == "" {
		return c, fmt.Errorf("SWRCACHE_BASE_URL is required")
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"SWRCACHE_DEFAULT_TTL", &c.cache.DefaultTTL},
		{"SWRCACHE_TIMEOUT", &c.cache.Timeout},
		{"SWRCACHE_CLEANUP_INTERVAL", &c.cleanupInterval},
	}
	for _, d := range durations {
		v := getenv(d.name)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return c, fmt.Errorf("%s: %w", d.name, err)
		}
		*d.dst = parsed
	}
	c.store.DefaultTTL = c.cache.DefaultTTL

	if v := getenv("SWRCACHE_MAX_ENTRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c, fmt.Errorf("SWRCACHE_MAX_ENTRIES: invalid value %q", v)
		}
		c.store.MaxEntries = n
	}

	if v := getenv("SWRCACHE_HONOR_MAX_AGE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return c, fmt.Errorf("SWRCACHE_HONOR_MAX_AGE: %w", err)
		}
		c.cache.HonorMaxAge = b
	}

	// eg. /api/notifications=30s,/api/videos=1h
	if v := getenv("SWRCACHE_OVERRIDES"); v != "" {
		for _, pair := range strings.Split(v, ",") {
			prefix, ttl, ok := strings.Cut(strings.TrimSpace(pair), "=")
			if !ok {
				return c, fmt.Errorf("SWRCACHE_OVERRIDES: invalid pair %q", pair)
			}
			d, err := time.ParseDuration(ttl)
			if err != nil {
				return c, fmt.Errorf("SWRCACHE_OVERRIDES: %w", err)
			}
			c.cache.EndpointOverrides = append(c.cache.EndpointOverrides, swrcache.EndpointOverride{Prefix: prefix, TTL: d})
		}
	}

	if v := getenv("SWRCACHE_BACKEND"); v != "" {
		c.backend = v
	}
	switch c.backend {
	case backendNone, backendBolt:
	case backendPostgres:
		c.postgresDSN = getenv("SWRCACHE_POSTGRES_DSN")
		if c.postgresDSN == "" {
			return c, fmt.Errorf("SWRCACHE_POSTGRES_DSN is required for the postgres backend")
		}
	case backendDynamoDB:
		c.dynamoTable = getenv("SWRCACHE_DYNAMODB_TABLE")
		if c.dynamoTable == "" {
			return c, fmt.Errorf("SWRCACHE_DYNAMODB_TABLE is required for the dynamodb backend")
		}
		c.dynamoCreate = getenv("SWRCACHE_DYNAMODB_CREATE_TABLE") == "true"
	default:
		return c, fmt.Errorf("SWRCACHE_BACKEND: unknown backend %q", c.backend)
	}

	if v := getenv("SWRCACHE_BOLT_PATH"); v != "" {
		c.boltPath = v
	}
	if v := getenv("SWRCACHE_LISTEN"); v != "" {
		c.listen = v
	}

	if v := getenv("SWRCACHE_PREFETCH"); v != "" {
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				c.prefetch = append(c.prefetch, e)
			}
		}
	}

	c.metricsExporter = getenv("SWRCACHE_METRICS_EXPORTER")
	switch c.metricsExporter {
	case "", exporterNone, exporterStdout, exporterPrometheus, exporterOTLP:
	default:
		return c, fmt.Errorf("SWRCACHE_METRICS_EXPORTER: unknown exporter %q", c.metricsExporter)
	}

	if v := getenv("SWRCACHE_LOG_LEVEL"); v != "" {
		if err := c.logLevel.UnmarshalText([]byte(v)); err != nil {
			return c, fmt.Errorf("SWRCACHE_LOG_LEVEL: %w", err)
		}
	}

	return c, nil
}

func loadConfigFromEnv() (config, error) {
	return loadConfig(os.Getenv)
}

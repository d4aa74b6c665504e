// Package core provides the fundamental building blocks of the golem ORM.
// This file defines the middleware system, which allows cross-cutting concerns
// (logging, auditing, metrics) to be applied to every executed query.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Execution is the payload passed through the middleware chain for every
// round-trip. Result is filled once the inner handler returns.
type Execution struct {
	Connection string
	Driver     DriverKind
	Model      *Model
	Query      *Query
	Compiled   Compiled
	Result     *Result
}

// Handler is the function signature executed by the ORM pipeline.
//
// It receives a context, the operation type, and the execution payload.
// Handlers are composed by middlewares to add cross-cutting logic.
type Handler func(ctx context.Context, op Operation, payload *Execution) error

// Middleware is a function that wraps a Handler with additional logic.
//
// Middlewares are registered on an Engine and executed for every operation.
// They follow the decorator pattern.
type Middleware func(next Handler) Handler

// chainMiddlewares applies the middlewares to the final handler.
// The first registered middleware is the outermost one.
func chainMiddlewares(middlewareList []Middleware, final Handler) Handler {
	h := final
	for i := len(middlewareList) - 1; i >= 0; i-- {
		h = middlewareList[i](h)
	}
	return h
}

// LoggingMiddleware logs every operation passing through the engine.
//
// Successful round-trips are logged at Debug, failures at Error, both with
// the operation, connection, source and elapsed time.
//
// Example:
//
//	engine.Use(core.LoggingMiddleware(slog.Default()))
func LoggingMiddleware(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, op Operation, payload *Execution) error {
			start := time.Now()
			err := next(ctx, op, payload)
			attrList := []any{
				slog.String("op", string(op)),
				slog.String("connection", payload.Connection),
				slog.String("source", payload.Query.Source.Name),
				slog.Duration("took", time.Since(start)),
			}
			if err != nil {
				logger.ErrorContext(ctx, "query failed", append(attrList, slog.Any("error", err))...)
				return err
			}
			if payload.Result != nil {
				attrList = append(attrList, slog.Int("rows", len(payload.Result.Rows)), slog.Int64("count", payload.Result.Count))
			}
			logger.DebugContext(ctx, "query executed", attrList...)
			return nil
		}
	}
}

// Cache defines the interface for pluggable caching mechanisms.
//
// A Cache stores arbitrary values with a TTL (time-to-live) and can
// be used by middlewares to avoid hitting the database repeatedly.
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	// DeletePrefix drops every entry whose key starts with prefix.
	DeletePrefix(prefix string)
}

// memoryCache is a simple in-memory Cache implementation.
type memoryCache struct {
	data  map[string]memoryEntry
	now   func() time.Time
	mutex sync.RWMutex
}

type memoryEntry struct {
	value      any
	expiration time.Time
}

// NewMemoryCache creates a new in-memory Cache instance.
func NewMemoryCache() Cache {
	return &memoryCache{data: make(map[string]memoryEntry), now: time.Now}
}

// Get returns false if the key does not exist or is expired.
func (c *memoryCache) Get(key string) (any, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	entry, ok := c.data[key]
	if !ok {
		return nil, false
	}
	if !entry.expiration.IsZero() && c.now().After(entry.expiration) {
		return nil, false
	}
	return entry.value, true
}

// Set stores a value. If TTL is 0, the entry does not expire.
func (c *memoryCache) Set(key string, value any, ttl time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = c.now().Add(ttl)
	}
	c.data[key] = memoryEntry{value: value, expiration: exp}
}

func (c *memoryCache) DeletePrefix(prefix string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for key := range c.data {
		if strings.HasPrefix(key, prefix) {
			delete(c.data, key)
		}
	}
}

const defaultCacheTTL = 30 * time.Second

// CacheOption customizes CacheMiddleware.
type CacheOption func(*cacheSettings)

type cacheSettings struct {
	ttl time.Duration
}

// CacheTTL overrides the TTL used by CacheMiddleware (default 30s).
func CacheTTL(ttl time.Duration) CacheOption {
	return func(s *cacheSettings) { s.ttl = ttl }
}

// CacheMiddleware caches the results of select and count operations, keyed
// by connection, source and compiled form. A successful insert, update or
// delete drops the cached entries of its source on that connection.
//
// Example:
//
//	cache := core.NewMemoryCache()
//	engine.Use(core.CacheMiddleware(cache, core.CacheTTL(time.Minute)))
func CacheMiddleware(cache Cache, options ...CacheOption) Middleware {
	settings := cacheSettings{ttl: defaultCacheTTL}
	for _, option := range options {
		option(&settings)
	}

	return func(next Handler) Handler {
		return func(ctx context.Context, op Operation, payload *Execution) error {
			prefix := payload.Connection + "/" + payload.Query.Source.Name + "|"
			if op != OperationSelect && op != OperationCount {
				err := next(ctx, op, payload)
				if err == nil {
					cache.DeletePrefix(prefix)
				}
				return err
			}

			key := fmt.Sprintf("%s%s|%#v", prefix, op, payload.Compiled)
			if cached, ok := cache.Get(key); ok {
				if result, ok := cached.(*Result); ok {
					payload.Result = result.clone()
					return nil
				}
			}

			err := next(ctx, op, payload)
			if err == nil && payload.Result != nil {
				cache.Set(key, payload.Result.clone(), settings.ttl)
			}
			return err
		}
	}
}

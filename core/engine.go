// Package core provides the fundamental building blocks of the golem ORM.
// This file defines the Engine, the entry point that resolves connections,
// runs compiled queries through the middleware chain and hydrates results.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultLoadConcurrency = 8

// Engine executes queries built for models against registered connections.
//
// An Engine is safe for concurrent use. Middlewares and event handlers are
// scoped to the engine that registered them.
type Engine struct {
	registry        *Registry
	caster          *Caster
	hydrator        *Hydrator
	logger          *slog.Logger
	dispatcher      *EventDispatcher
	loadConcurrency int
	now             func() time.Time

	middlewareMutex sync.RWMutex
	middlewareList  []Middleware
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithLogger sets the structured logger. Nil discards logs.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithEncrypter enables AttrEncrypted fields.
func WithEncrypter(encrypter *Encrypter) EngineOption {
	return func(e *Engine) { e.caster = NewCaster(encrypter) }
}

// WithLoadConcurrency bounds the number of relation queries Load runs at once.
func WithLoadConcurrency(limit int) EngineOption {
	return func(e *Engine) {
		if limit > 0 {
			e.loadConcurrency = limit
		}
	}
}

// WithClock overrides the time source used for managed timestamps.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine over a registry.
func New(registry *Registry, options ...EngineOption) *Engine {
	e := &Engine{
		registry:        registry,
		caster:          NewCaster(nil),
		logger:          slog.New(slog.DiscardHandler),
		dispatcher:      NewEventDispatcher(),
		loadConcurrency: defaultLoadConcurrency,
		now:             time.Now,
	}
	for _, option := range options {
		option(e)
	}
	e.hydrator = NewHydrator(e.caster)
	return e
}

// Registry returns the connection registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Logger returns the engine logger.
func (e *Engine) Logger() *slog.Logger {
	return e.logger
}

// Use registers a middleware applied to every query executed by this engine.
func (e *Engine) Use(mw Middleware) {
	e.middlewareMutex.Lock()
	defer e.middlewareMutex.Unlock()
	e.middlewareList = append(e.middlewareList, mw)
}

// On registers an event handler on this engine.
//
// Example:
//
//	engine.On(core.EventInsert, func(payload any) {
//		if p, ok := payload.(core.InsertPayload); ok {
//			log.Printf("inserted into %s: %v", p.Model.Source, p.IDs)
//		}
//	})
func (e *Engine) On(event Event, handler EventHandler) {
	e.dispatcher.On(event, handler)
}

// Query starts a builder for the model. The optional connection name
// overrides the model's connection; both empty means the registry default.
func (e *Engine) Query(model *Model, connection ...string) *Builder {
	name := model.Connection
	if len(connection) > 0 && connection[0] != "" {
		name = connection[0]
	}
	return newBuilder(e, model, name)
}

// New creates an unsaved record for the model.
func (e *Engine) New(model *Model, attributes Attributes) *Record {
	if attributes == nil {
		attributes = Attributes{}
	}
	return newRecord(model, model.Connection, attributes.Clone(), false)
}

// Save inserts a new record, or updates the dirty attributes of an existing
// one by key. The record snapshot is refreshed on success.
func (e *Engine) Save(ctx context.Context, record *Record) error {
	model := record.Model()
	if !record.Exists() {
		result, prepared, err := e.Query(model, record.Connection()).insert(ctx, []Attributes{record.Attributes()})
		if err != nil {
			return err
		}
		record.Fill(prepared[0])
		if record.Key() == nil && len(result.IDs) > 0 {
			id := result.IDs[0]
			if field, ok := model.Field(model.PrimaryKey); ok {
				if decoded, err := e.caster.Decode(field, id); err == nil {
					id = decoded
				}
			}
			record.Set(model.PrimaryKey, id)
		}
		record.sync()
		return nil
	}

	key := record.Original()[model.PrimaryKey]
	if key == nil {
		key = record.Key()
	}
	if key == nil {
		return &Error{Op: "save", Model: model.Name, Field: model.PrimaryKey, Err: fmt.Errorf("%w: record has no key", ErrInvalidArgument)}
	}
	dirty := record.Dirty()
	delete(dirty, model.PrimaryKey)
	if len(dirty) == 0 {
		return nil
	}
	_, prepared, err := e.Query(model, record.Connection()).Where(model.PrimaryKey, "=", key).update(ctx, dirty)
	if err != nil {
		return err
	}
	record.Fill(prepared)
	record.sync()
	return nil
}

// Close closes every registered connection.
func (e *Engine) Close(ctx context.Context) error {
	return e.registry.Close(ctx)
}

// resolve returns the connection for the given name, annotated for the model.
func (e *Engine) resolve(model *Model, name string) (Connection, error) {
	conn, err := e.registry.Resolve(name)
	if err != nil {
		return nil, annotate(err, "resolve", model, name)
	}
	return conn, nil
}

// compile validates and compiles a query on the connection.
func (e *Engine) compile(conn Connection, model *Model, query *Query) (Compiled, error) {
	if err := query.Validate(); err != nil {
		return nil, annotate(err, string(query.Operation), model, conn.Name())
	}
	compiled, err := conn.Compile(query)
	if err != nil {
		return nil, annotate(err, "compile", model, conn.Name())
	}
	return compiled, nil
}

// execute compiles the query and runs it through the middleware chain.
func (e *Engine) execute(ctx context.Context, conn Connection, model *Model, query *Query) (*Result, error) {
	compiled, err := e.compile(conn, model, query)
	if err != nil {
		return nil, err
	}

	e.middlewareMutex.RLock()
	middlewareList := append([]Middleware(nil), e.middlewareList...)
	e.middlewareMutex.RUnlock()

	payload := &Execution{
		Connection: conn.Name(),
		Driver:     conn.Driver(),
		Model:      model,
		Query:      query,
		Compiled:   compiled,
	}
	handler := chainMiddlewares(middlewareList, func(ctx context.Context, op Operation, payload *Execution) error {
		result, err := conn.Execute(ctx, payload.Compiled)
		if err != nil {
			return err
		}
		payload.Result = result
		return nil
	})

	if err := handler(ctx, query.Operation, payload); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, annotate(err, string(query.Operation), model, conn.Name())
	}
	if payload.Result == nil {
		payload.Result = &Result{}
	}
	e.logger.DebugContext(ctx, "golem query",
		slog.String("op", string(query.Operation)),
		slog.String("connection", conn.Name()),
		slog.String("source", query.Source.Name),
	)
	return payload.Result, nil
}

// annotate fills the model and connection of an *Error, or wraps a plain
// error into one.
func annotate(err error, op string, model *Model, connection string) error {
	var target *Error
	if errors.As(err, &target) {
		if target.Model == "" && model != nil {
			target.Model = model.Name
		}
		if target.Connection == "" {
			target.Connection = connection
		}
		return err
	}
	out := &Error{Op: op, Connection: connection, Err: err}
	if model != nil {
		out.Model = model.Name
	}
	return out
}

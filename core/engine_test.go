package core

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_MiddlewareOrder(t *testing.T) {
	conn := newFakeConnection("main")
	e := newTestEngine(t, conn)

	traceList := []string{}
	trace := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, op Operation, payload *Execution) error {
				traceList = append(traceList, name+":before")
				err := next(ctx, op, payload)
				traceList = append(traceList, name+":after")
				return err
			}
		}
	}
	e.Use(trace("outer"))
	e.Use(trace("inner"))

	_, err := e.Query(Define("users")).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"outer:before", "inner:before", "inner:after", "outer:after"}, traceList)
}

func TestEngine_MiddlewareSeesExecution(t *testing.T) {
	conn := newFakeConnection("main")
	conn.respond = func(*Query) (*Result, error) { return &Result{Count: 2}, nil }
	e := newTestEngine(t, conn)

	var seen *Execution
	e.Use(func(next Handler) Handler {
		return func(ctx context.Context, op Operation, payload *Execution) error {
			err := next(ctx, op, payload)
			seen = payload
			return err
		}
	})

	_, err := e.Query(Define("users")).Where("id", "=", 1).Delete(context.Background())
	require.NoError(t, err)
	require.NotNil(t, seen)
	assert.Equal(t, "main", seen.Connection)
	assert.Equal(t, Relational, seen.Driver)
	assert.Equal(t, OperationDelete, seen.Query.Operation)
	assert.Equal(t, int64(2), seen.Result.Count)
}

func TestEngine_LoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	e := newTestEngine(t, newFakeConnection("main"))
	e.Use(LoggingMiddleware(logger))

	_, err := e.Query(Define("users")).Get(context.Background())
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "query executed")
	assert.Contains(t, buf.String(), "source=users")
}

func TestEngine_Events(t *testing.T) {
	conn := newFakeConnection("main")
	conn.respond = func(query *Query) (*Result, error) {
		if query.Operation == OperationInsert {
			return &Result{Count: 1, IDs: []any{int64(9)}}, nil
		}
		return &Result{}, nil
	}
	e := newTestEngine(t, conn)
	other := newTestEngine(t, newFakeConnection("main"))

	var inserted []InsertPayload
	e.On(EventInsert, func(payload any) {
		inserted = append(inserted, payload.(InsertPayload))
	})
	otherCalls := 0
	other.On(EventInsert, func(any) { otherCalls++ })

	_, err := e.Query(Define("users")).Insert(context.Background(), Attributes{"name": "Ann"})
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, []any{int64(9)}, inserted[0].IDs)
	assert.Equal(t, "Ann", inserted[0].Records[0]["name"])
	assert.Zero(t, otherCalls)
}

func TestEngine_SaveInsertsThenUpdatesDirtyAttributes(t *testing.T) {
	ctx := context.Background()
	conn := newFakeConnection("main")
	conn.respond = func(query *Query) (*Result, error) {
		if query.Operation == OperationInsert {
			return &Result{Count: 1, IDs: []any{int64(42)}}, nil
		}
		return &Result{Count: 1}, nil
	}
	e := newTestEngine(t, conn)
	users := Define("users", Attribute("name", Cast(AttrString)), Attribute("email", Cast(AttrString)))

	record := e.New(users, Attributes{"name": "Ann", "email": "ann@example.com"})
	assert.False(t, record.Exists())
	require.NoError(t, e.Save(ctx, record))
	assert.True(t, record.Exists())
	assert.Equal(t, int64(42), record.Key())
	assert.False(t, record.IsDirty())

	record.Set("name", "Bo")
	require.NoError(t, e.Save(ctx, record))
	query := conn.lastQuery(t)
	assert.Equal(t, OperationUpdate, query.Operation)
	assert.Equal(t, Attributes{"name": "Bo"}, query.Changes)
	assert.Equal(t, "id", query.Filter.FieldName)
	assert.Equal(t, int64(42), query.Filter.Value)

	// Nothing dirty: no round-trip.
	before := len(conn.queries())
	require.NoError(t, e.Save(ctx, record))
	assert.Len(t, conn.queries(), before)
}

func TestEngine_SaveWithoutKey(t *testing.T) {
	e := newTestEngine(t, newFakeConnection("main"))
	users := Define("users")
	hydrated, err := NewHydrator(nil).Hydrate(users, "main", map[string]any{"name": "Ann"})
	require.NoError(t, err)
	hydrated.Set("name", "Bo")

	err = e.Save(context.Background(), hydrated)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestEngine_Close(t *testing.T) {
	a, b := newFakeConnection("a"), newFakeConnection("b")
	registry, err := NewRegistry("a", a, b)
	require.NoError(t, err)
	e := New(registry)

	require.NoError(t, e.Close(context.Background()))
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

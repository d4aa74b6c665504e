package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistry(t *testing.T) {
	t.Run("single connection becomes default", func(t *testing.T) {
		registry, err := NewRegistry("", newFakeConnection("main"))
		require.NoError(t, err)
		assert.Equal(t, "main", registry.Default())

		conn, err := registry.Resolve("")
		require.NoError(t, err)
		assert.Equal(t, "main", conn.Name())
	})

	t.Run("duplicate name", func(t *testing.T) {
		_, err := NewRegistry("", newFakeConnection("main"), newFakeConnection("main"))
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.Contains(t, err.Error(), "connection=main")
	})

	t.Run("unknown default", func(t *testing.T) {
		_, err := NewRegistry("replica", newFakeConnection("main"))
		assert.ErrorIs(t, err, ErrConnectionNotFound)
	})

	t.Run("nil connection", func(t *testing.T) {
		_, err := NewRegistry("", nil)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	})

	t.Run("several connections without default", func(t *testing.T) {
		registry, err := NewRegistry("", newFakeConnection("b"), newFakeConnection("a"))
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, registry.Names())

		_, err = registry.Resolve("")
		assert.ErrorIs(t, err, ErrConnectionNotFound)

		conn, err := registry.Resolve("b")
		require.NoError(t, err)
		assert.Equal(t, "b", conn.Name())

		_, err = registry.Resolve("c")
		assert.ErrorIs(t, err, ErrConnectionNotFound)
	})
}

func TestRegistry_ConnectAll(t *testing.T) {
	a, b := newFakeConnection("a"), newFakeConnection("b")
	registry, err := NewRegistry("a", a, b)
	require.NoError(t, err)

	require.NoError(t, registry.Connect(context.Background()))
	assert.True(t, a.IsConnected())
	assert.True(t, b.IsConnected())
}

func TestSettler_ReturnsResult(t *testing.T) {
	settler := NewSettler(time.Second)
	result, err := settler.Run(context.Background(), func(context.Context) (*Result, error) {
		return &Result{Count: 3}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), result.Count)

	failure := errors.New("boom")
	_, err = settler.Run(context.Background(), func(context.Context) (*Result, error) {
		return nil, failure
	})
	assert.ErrorIs(t, err, failure)
}

func TestSettler_CancelledCallerReturnsEarly(t *testing.T) {
	settler := NewSettler(time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	release := make(chan struct{})
	var finished atomic.Bool
	var detachedErr atomic.Value
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := settler.Run(ctx, func(detached context.Context) (*Result, error) {
		<-release
		detachedErr.Store(detached.Err() == nil)
		finished.Store(true)
		return &Result{}, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, finished.Load(), "round-trip is still settling")

	close(release)
	require.NoError(t, settler.Wait(context.Background()))
	assert.True(t, finished.Load())
	assert.Equal(t, true, detachedErr.Load(), "the round-trip context outlives the caller")
}

func TestSettler_RejectsDoneContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	_, err := NewSettler(0).Run(ctx, func(context.Context) (*Result, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestSettler_WaitHonoursContext(t *testing.T) {
	settler := NewSettler(0)
	block := make(chan struct{})
	defer close(block)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := settler.Run(ctx, func(context.Context) (*Result, error) {
		<-block
		return nil, nil
	})
	require.ErrorIs(t, err, context.Canceled)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer waitCancel()
	assert.ErrorIs(t, settler.Wait(waitCtx), context.DeadlineExceeded)
}

package observability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_ReverseOrder(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)

	var order []string
	for _, name := range []string{"database", "redis", "http"} {
		name := name
		sm.Register(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}

	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Equal(t, []string{"http", "redis", "database"}, order)

	// second call is a no-op
	require.NoError(t, sm.Shutdown(context.Background()))
	assert.Len(t, order, 3)
}

func TestShutdownManager_CollectsErrors(t *testing.T) {
	sm := NewShutdownManager(nil, time.Second)
	boom := errors.New("boom")
	ran := false
	sm.Register("last", func(context.Context) error { ran = true; return nil })
	sm.Register("first", func(context.Context) error { return boom })

	err := sm.Shutdown(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.True(t, ran)
}

func TestShutdownManager_Wait(t *testing.T) {
	sm := NewShutdownManager(NopLogger(), time.Second)
	called := make(chan struct{})
	sm.Register("x", func(context.Context) error { close(called); return nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sm.Wait(ctx))
	<-called
}

func TestRecoverPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		defer RecoverPanic(NopLogger(), "test")
		panic("bad")
	})

	called := false
	func() {
		defer RecoverPanicWithCallback(NopLogger(), "test", func() { called = true })
		panic("bad")
	}()
	assert.True(t, called)
}

package groutine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoNamesTheGoroutine(t *testing.T) {
	names := make(chan string, 1)

	done := Go(nil, "connect:test", func(ctx context.Context) {
		names <- GetName(ctx)
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		require.FailNow(t, "goroutine MUST finish")
	}
	assert.Equal(t, "connect:test", <-names, "name MUST be visible through the context")
}

func TestGoInheritsParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	done := Go(parent, "waiter", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
	})

	<-started
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		require.FailNow(t, "goroutine MUST observe parent cancellation")
	}
}

func TestGetNameWithoutName(t *testing.T) {
	assert.Empty(t, GetName(context.Background()))
	//nolint:staticcheck // nil context is part of the contract
	assert.Empty(t, GetName(nil))
}

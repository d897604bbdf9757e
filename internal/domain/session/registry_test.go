package session

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBeginSupersedesPreviousRun(t *testing.T) {
	reg := NewRegistry()

	first, firstTok := reg.Begin(context.Background(), "tab-7")
	second, secondTok := reg.Begin(context.Background(), "tab-7")

	require.ErrorIs(t, context.Cause(first), ErrSuperseded)
	require.NoError(t, second.Err())
	require.Greater(t, secondTok.Generation, firstTok.Generation)

	require.False(t, reg.End(firstTok), "stale run must not end the newer one")
	require.True(t, reg.End(secondTok))
	require.Equal(t, 0, reg.Active())
}

func TestCancel(t *testing.T) {
	reg := NewRegistry()
	ctx, tok := reg.Begin(context.Background(), "tab-1")

	require.True(t, reg.Cancel("tab-1"))
	require.ErrorIs(t, context.Cause(ctx), ErrCancelled)
	require.False(t, reg.End(tok))
	require.False(t, reg.Cancel("tab-1"))
}

func TestSessionsAreIndependent(t *testing.T) {
	reg := NewRegistry()
	a, _ := reg.Begin(context.Background(), "a")
	b, bTok := reg.Begin(context.Background(), "b")

	reg.Cancel("a")
	require.Error(t, a.Err())
	require.NoError(t, b.Err())
	require.True(t, reg.End(bTok))
}

func TestParentCancellationPropagates(t *testing.T) {
	reg := NewRegistry()
	parent, cancel := context.WithCancel(context.Background())
	ctx, tok := reg.Begin(parent, "tab")
	cancel()
	require.ErrorIs(t, ctx.Err(), context.Canceled)
	require.True(t, reg.End(tok))
}

func TestConcurrentBeginEnd(t *testing.T) {
	reg := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("tab-%d", i%5)
			_, tok := reg.Begin(context.Background(), id)
			reg.End(tok)
		}(i)
	}
	wg.Wait()
	require.Equal(t, 0, reg.Active())
}

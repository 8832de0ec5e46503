package syncx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOnceSignalWakesAllWaiters(t *testing.T) {
	sig := NewOnceSignal()

	var wg sync.WaitGroup
	woke := make([]bool, 10)
	for i := range woke {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			err := sig.Wait(ctx)
			woke[i] = err == nil
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	sig.Set()
	wg.Wait()

	for i, w := range woke {
		assert.Truef(t, w, "waiter %d did not wake", i)
	}
	assert.True(t, sig.IsSet())
}

func TestOnceSignalImmediateReturnAfterSet(t *testing.T) {
	sig := NewOnceSignal()
	sig.Set()
	sig.Set() // idempotent, must not panic or block

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, sig.Wait(ctx))
	assert.True(t, sig.IsSet())
}

func TestOnceSignalWaitTimedOutDistinguishesTimeoutFromCancel(t *testing.T) {
	sig := NewOnceSignal()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	fired, err := sig.WaitTimedOut(ctx)
	assert.False(t, fired)
	assert.NoError(t, err)

	ctx2, cancel2 := context.WithCancel(context.Background())
	cancel2()
	fired2, err2 := sig.WaitTimedOut(ctx2)
	assert.False(t, fired2)
	assert.Error(t, err2)
}

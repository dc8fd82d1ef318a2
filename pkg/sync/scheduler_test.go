package sync

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerFirstTriggerRunsImmediately(t *testing.T) {
	var calls atomic.Int32
	s := NewScheduler(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, 50*time.Millisecond)

	select {
	case err := <-s.Trigger(context.Background()):
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("trigger did not resolve")
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestSchedulerCoalescesConcurrentTriggers(t *testing.T) {
	var calls atomic.Int32
	block := make(chan struct{})
	started := make(chan struct{}, 8)
	s := NewScheduler(func(ctx context.Context) error {
		calls.Add(1)
		started <- struct{}{}
		<-block
		return nil
	}, 20*time.Millisecond)

	r1 := s.Trigger(context.Background())
	<-started // first cycle is now in flight

	r2 := s.Trigger(context.Background())
	r3 := s.Trigger(context.Background())

	close(block) // let the in-flight cycle finish

	require.NoError(t, <-r1)

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("coalesced follow-up cycle never started")
	}
	require.NoError(t, <-r2)
	require.NoError(t, <-r3)

	assert.Equal(t, int32(2), calls.Load(), "concurrent triggers during the first cycle should coalesce into one follow-up")
}

func TestSchedulerFlushBypassesThrottle(t *testing.T) {
	var calls atomic.Int32
	s := NewScheduler(func(ctx context.Context) error {
		calls.Add(1)
		return nil
	}, time.Second)

	require.NoError(t, s.Flush(context.Background()))
	require.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, int32(2), calls.Load())
}

func TestSchedulerDisposeRejectsQueuedWaiters(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{}, 1)
	s := NewScheduler(func(ctx context.Context) error {
		started <- struct{}{}
		<-block
		return nil
	}, 10*time.Millisecond)

	s.Trigger(context.Background())
	<-started
	r2 := s.Trigger(context.Background())

	s.Dispose()
	close(block)

	err := <-r2
	assert.ErrorIs(t, err, ErrSchedulerDisposed)
}

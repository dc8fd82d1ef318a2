package rpc

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCallRoundTrip(t *testing.T) {
	clientT, serverT := NewInProcessPair()
	server := NewServer()
	server.Handle("echo", func(ctx context.Context, args json.RawMessage) (any, error) {
		var s string
		require.NoError(t, json.Unmarshal(args, &s))
		return s + "-pong", nil
	})
	go server.Serve(context.Background(), serverT)

	client := NewClient(clientT)
	defer client.Close()

	raw, err := client.Call(context.Background(), "echo", "ping")
	require.NoError(t, err)
	var got string
	require.NoError(t, json.Unmarshal(raw, &got))
	require.Equal(t, "ping-pong", got)
}

func TestCallUnknownMethod(t *testing.T) {
	clientT, serverT := NewInProcessPair()
	server := NewServer()
	go server.Serve(context.Background(), serverT)

	client := NewClient(clientT)
	defer client.Close()

	_, err := client.Call(context.Background(), "missing", nil)
	require.Error(t, err)
}

func TestCallTimesOut(t *testing.T) {
	clientT, serverT := NewInProcessPair()
	server := NewServer()
	server.Handle("slow", func(ctx context.Context, args json.RawMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	go server.Serve(context.Background(), serverT)

	client := NewClient(clientT)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Call(ctx, "slow", nil)
	require.Error(t, err)
}

func TestSubscribeReceivesEvents(t *testing.T) {
	clientT, serverT := NewInProcessPair()
	server := NewServer()
	var emitFn func(any)
	unsub := make(chan struct{}, 1)
	server.HandleSubscribe("watch", func(ctx context.Context, args json.RawMessage, emit func(any)) (func(), error) {
		emitFn = emit
		return func() { unsub <- struct{}{} }, nil
	})
	go server.Serve(context.Background(), serverT)

	client := NewClient(clientT)
	defer client.Close()

	sub, err := client.Subscribe(context.Background(), "watch", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return emitFn != nil }, time.Second, time.Millisecond)
	emitFn("hello")

	select {
	case f := <-sub.Events():
		var payload string
		require.NoError(t, json.Unmarshal(f.Payload, &payload))
		require.Equal(t, "hello", payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	sub.Cancel()
	select {
	case <-unsub:
	case <-time.After(time.Second):
		t.Fatal("unsubscribe was never called")
	}
}

func TestNotifyIsFireAndForget(t *testing.T) {
	clientT, serverT := NewInProcessPair()
	server := NewServer()
	received := make(chan string, 1)
	server.Handle("note", func(ctx context.Context, args json.RawMessage) (any, error) {
		var s string
		json.Unmarshal(args, &s)
		received <- s
		return nil, nil
	})
	go server.Serve(context.Background(), serverT)

	client := NewClient(clientT)
	defer client.Close()

	require.NoError(t, client.Notify("note", "hi"))
	select {
	case s := <-received:
		require.Equal(t, "hi", s)
	case <-time.After(time.Second):
		t.Fatal("notification never arrived")
	}
}

func TestDuplicateCallIDFailsFast(t *testing.T) {
	clientT, _ := NewInProcessPair()
	client := NewClient(clientT)
	defer client.Close()

	pc := &pendingCall{resultCh: make(chan Frame, 1)}
	client.pending.Store("dup-1", pc)
	client.ids = 0
	client.prefix = "dup"
	// Force nextID to collide by pre-seeding the exact id it will mint.
	client.pending.Store("dup-1", pc)
	_, err := client.Call(context.Background(), "anything", nil)
	require.ErrorContains(t, err, "duplicate call id")
}

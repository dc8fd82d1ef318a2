package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/basin/pkg/basinerr"
)

// DefaultCallTimeout bounds how long Call waits for a response when the
// caller's context carries no deadline of its own.
const DefaultCallTimeout = 30 * time.Second

// pendingCall tracks one in-flight request. Call waits on resultCh
// against a single deadline (the caller's, or DefaultCallTimeout) and is
// satisfied by the first FrameResponse; no inbound frame resets that
// deadline, and chunked (multi-frame) responses are not supported.
type pendingCall struct {
	resultCh chan Frame
	gen      uint64

	// frameType/method/args are retained (rather than discarded once
	// sent) so SetTransport can resend an in-flight call verbatim onto
	// a freshly swapped transport without the caller's involvement.
	frameType FrameType
	method    string
	args      json.RawMessage
}

// Subscription is a live server-side subscription; Cancel unsubscribes
// and is idempotent.
type Subscription struct {
	id     string
	client *Client
	events chan Frame
	once   sync.Once

	method string
	args   json.RawMessage
}

// Events yields each event frame delivered under this subscription
// until Cancel is called or the client's transport closes.
func (s *Subscription) Events() <-chan Frame { return s.events }

// Cancel unsubscribes. Calling it more than once is a no-op.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		_ = s.client.transport().Send(Frame{Type: FrameUnsubscribe, SubID: s.id})
		s.client.dropSubscription(s.id)
	})
}

// Client is the caller side of the rpc substrate: Call for a
// request/response round trip, Subscribe for a standing stream of
// events, Notify for fire-and-forget. One Client drives one logical
// connection; pkg/engine swaps the underlying Transport under a
// live Client via SetTransport when leadership changes hands.
type Client struct {
	mu     sync.RWMutex
	t      Transport
	gen    uint64
	ids    uint64
	prefix string

	pending sync.Map // id -> *pendingCall
	subs    sync.Map // subId -> *Subscription

	notifications chan Frame
	closed        chan struct{}
	closeOnce     sync.Once
}

// NewClient starts a Client reading frames from t until Close.
func NewClient(t Transport) *Client {
	c := &Client{
		t:             t,
		prefix:        uuid.NewString()[:8],
		notifications: make(chan Frame, 32),
		closed:        make(chan struct{}),
	}
	go c.recvLoop()
	return c
}

// Notifications yields inbound FrameNotification frames that arrive
// outside any Call/Subscribe context. FrameKeepalive frames are
// discarded and never appear here.
func (c *Client) Notifications() <-chan Frame { return c.notifications }

func (c *Client) transport() Transport {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t
}

func (c *Client) generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// SetTransport swaps the live connection without losing pending calls'
// identity: it bumps the generation counter so frames arriving from the
// stale transport's drain are ignored, then itself replays every
// outstanding request and live subscription onto the new transport with
// their original ids preserved (spec §4.K promotion: "swap the local
// RPC transport to a router port, and replay all pending requests and
// subscriptions").
func (c *Client) SetTransport(t Transport) {
	c.mu.Lock()
	old := c.t
	c.t = t
	c.gen++
	c.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	go c.recvLoop()
	c.replay(t)
}

// replay resends every call still awaiting a response and every live
// subscription over t, in their original ids, so neither a caller
// blocked in Call/Subscribe nor a standing Subscription notices the
// transport underneath them changed.
func (c *Client) replay(t Transport) {
	c.pending.Range(func(k, v any) bool {
		id, _ := k.(string)
		pc := v.(*pendingCall)
		if pc.frameType == "" {
			return true
		}
		_ = t.Send(Frame{Type: pc.frameType, ID: id, Method: pc.method, Args: pc.args})
		return true
	})
	c.subs.Range(func(k, v any) bool {
		id, _ := k.(string)
		sub := v.(*Subscription)
		_ = t.Send(Frame{Type: FrameSubscribe, ID: id, Method: sub.method, Args: sub.args})
		return true
	})
}

func (c *Client) nextID() string {
	n := atomic.AddUint64(&c.ids, 1)
	return fmt.Sprintf("%s-%d", c.prefix, n)
}

// Call performs one request/response round trip. Ids come from a
// per-client monotonic counter; if the minted id is already in the
// pending set, Call fails fast with a duplicate-id error before sending.
// Frames replayed by SetTransport are resent directly and do not pass
// through this check.
func (c *Client) Call(ctx context.Context, method string, args any) (json.RawMessage, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, basinerr.CryptoFailure("rpc_marshal_args", err)
	}
	id := c.nextID()
	pc := &pendingCall{resultCh: make(chan Frame, 1), gen: c.generation(), frameType: FrameRequest, method: method, args: argsJSON}
	if _, loaded := c.pending.LoadOrStore(id, pc); loaded {
		return nil, fmt.Errorf("rpc: duplicate call id %s", id)
	}
	defer c.pending.Delete(id)

	if err := c.transport().Send(Frame{Type: FrameRequest, ID: id, Method: method, Args: argsJSON}); err != nil {
		return nil, err
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultCallTimeout)
		defer cancel()
	}

	select {
	case resp := <-pc.resultCh:
		if resp.Error != "" {
			return nil, fmt.Errorf("rpc: %s: %s", method, resp.Error)
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, ErrTransportClosed
	}
}

// Notify sends a fire-and-forget frame; the peer never acknowledges it.
func (c *Client) Notify(method string, args any) error {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return basinerr.CryptoFailure("rpc_marshal_args", err)
	}
	return c.transport().Send(Frame{Type: FrameNotification, Method: method, Args: argsJSON})
}

// Subscribe opens a standing server-side subscription and returns a
// handle whose Events channel receives every event frame tagged with
// its subscription id until Cancel.
func (c *Client) Subscribe(ctx context.Context, method string, args any) (*Subscription, error) {
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return nil, basinerr.CryptoFailure("rpc_marshal_args", err)
	}
	id := c.nextID()
	sub := &Subscription{id: id, client: c, events: make(chan Frame, 32), method: method, args: argsJSON}
	c.subs.Store(id, sub)

	pc := &pendingCall{resultCh: make(chan Frame, 1), gen: c.generation(), frameType: FrameSubscribe, method: method, args: argsJSON}
	c.pending.Store(id, pc)
	defer c.pending.Delete(id)

	if err := c.transport().Send(Frame{Type: FrameSubscribe, ID: id, Method: method, Args: argsJSON}); err != nil {
		c.subs.Delete(id)
		return nil, err
	}

	select {
	case resp := <-pc.resultCh:
		if resp.Error != "" {
			c.subs.Delete(id)
			return nil, fmt.Errorf("rpc: subscribe %s: %s", method, resp.Error)
		}
		return sub, nil
	case <-ctx.Done():
		c.subs.Delete(id)
		return nil, ctx.Err()
	case <-c.closed:
		c.subs.Delete(id)
		return nil, ErrTransportClosed
	}
}

func (c *Client) dropSubscription(id string) {
	if v, ok := c.subs.LoadAndDelete(id); ok {
		close(v.(*Subscription).events)
	}
}

// Close tears down the client and every live subscription.
func (c *Client) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	c.subs.Range(func(k, v any) bool {
		close(v.(*Subscription).events)
		c.subs.Delete(k)
		return true
	})
	return c.transport().Close()
}

func (c *Client) recvLoop() {
	gen := c.generation()
	t := c.transport()
	for {
		f, err := t.Recv()
		if err != nil {
			return
		}
		if c.generation() != gen {
			return // superseded by SetTransport; stale reader exits
		}
		c.dispatch(f)
	}
}

func (c *Client) dispatch(f Frame) {
	switch f.Type {
	case FrameResponse:
		if v, ok := c.pending.Load(f.ID); ok {
			pc := v.(*pendingCall)
			select {
			case pc.resultCh <- f:
			default:
			}
		}
	case FrameEvent:
		if v, ok := c.subs.Load(f.SubID); ok {
			sub := v.(*Subscription)
			select {
			case sub.events <- f:
			case <-c.closed:
			}
		}
	case FrameNotification:
		select {
		case c.notifications <- f:
		default:
		}
	}
}

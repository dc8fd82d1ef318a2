package rpc

import (
	"context"
	"encoding/json"
	"sync"
)

// HandlerFunc answers one Call/Notify frame. args is the raw request
// payload; the returned value is marshaled into the response frame's
// Result.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// SubscribeFunc opens a standing subscription. It returns an unsubscribe
// func the Server calls on FrameUnsubscribe or transport close; events
// are delivered by calling emit.
type SubscribeFunc func(ctx context.Context, args json.RawMessage, emit func(payload any)) (unsubscribe func(), err error)

// Server answers frames arriving on a Transport by method name,
// generalizing cuemby-warren's one-Go-method-per-RPC API surface
// (pkg/api/server.go) into a name-keyed registry so basin's rpc
// substrate doesn't need a fixed service definition or protoc step.
type Server struct {
	mu     sync.RWMutex
	calls  map[string]HandlerFunc
	subs   map[string]SubscribeFunc
	active map[string]func() // live subId -> unsubscribe
}

// NewServer returns an empty handler registry.
func NewServer() *Server {
	return &Server{
		calls:  make(map[string]HandlerFunc),
		subs:   make(map[string]SubscribeFunc),
		active: make(map[string]func()),
	}
}

// Handle registers a request handler for method.
func (s *Server) Handle(method string, h HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[method] = h
}

// HandleSubscribe registers a subscription handler for method.
func (s *Server) HandleSubscribe(method string, h SubscribeFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[method] = h
}

// Serve reads frames from t until it closes or ctx is canceled,
// dispatching each to its registered handler on its own goroutine so a
// slow call never blocks unrelated traffic on the same connection.
func (s *Server) Serve(ctx context.Context, t Transport) error {
	defer s.closeAll()
	for {
		f, err := t.Recv()
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		go s.dispatch(ctx, t, f)
	}
}

func (s *Server) dispatch(ctx context.Context, t Transport, f Frame) {
	switch f.Type {
	case FrameRequest:
		s.mu.RLock()
		h, ok := s.calls[f.Method]
		s.mu.RUnlock()
		if !ok {
			_ = t.Send(Frame{Type: FrameResponse, ID: f.ID, Error: "rpc: unknown method " + f.Method})
			return
		}
		result, err := h(ctx, f.Args)
		if err != nil {
			_ = t.Send(Frame{Type: FrameResponse, ID: f.ID, Error: err.Error()})
			return
		}
		payload, merr := json.Marshal(result)
		if merr != nil {
			_ = t.Send(Frame{Type: FrameResponse, ID: f.ID, Error: merr.Error()})
			return
		}
		_ = t.Send(Frame{Type: FrameResponse, ID: f.ID, Result: payload})

	case FrameSubscribe:
		s.mu.RLock()
		h, ok := s.subs[f.Method]
		s.mu.RUnlock()
		if !ok {
			_ = t.Send(Frame{Type: FrameResponse, ID: f.ID, Error: "rpc: unknown subscription " + f.Method})
			return
		}
		emit := func(payload any) {
			data, err := json.Marshal(payload)
			if err != nil {
				return
			}
			_ = t.Send(Frame{Type: FrameEvent, SubID: f.ID, Payload: data})
		}
		unsub, err := h(ctx, f.Args, emit)
		if err != nil {
			_ = t.Send(Frame{Type: FrameResponse, ID: f.ID, Error: err.Error()})
			return
		}
		s.mu.Lock()
		s.active[f.ID] = unsub
		s.mu.Unlock()
		_ = t.Send(Frame{Type: FrameResponse, ID: f.ID})

	case FrameUnsubscribe:
		s.mu.Lock()
		unsub, ok := s.active[f.SubID]
		delete(s.active, f.SubID)
		s.mu.Unlock()
		if ok {
			unsub()
		}

	case FrameNotification:
		s.mu.RLock()
		h, ok := s.calls[f.Method]
		s.mu.RUnlock()
		if ok {
			_, _ = h(ctx, f.Args)
		}
	}
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, unsub := range s.active {
		unsub()
		delete(s.active, id)
	}
}

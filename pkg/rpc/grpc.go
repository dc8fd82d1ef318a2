package rpc

import (
	"context"
	"encoding/json"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// frameCodec marshals Frame values directly as JSON. cuemby-warren's
// gRPC surface is protoc-generated proto.Message stubs; basin's frame
// shape is uniform and small enough that a generated service brings no
// benefit, so the service is hand-registered here and every message on
// the wire goes through this codec instead of a .proto file.
type frameCodec struct{}

func (frameCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v.(*Frame))
}

func (frameCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v.(*Frame))
}

func (frameCodec) Name() string { return "basin-frame" }

func init() {
	encoding.RegisterCodec(frameCodec{})
}

const exchangeServiceName = "basin.rpc.Exchange"
const exchangeMethod = "/" + exchangeServiceName + "/Exchange"

var exchangeStreamDesc = grpc.StreamDesc{
	StreamName:    "Exchange",
	ServerStreams: true,
	ClientStreams: true,
}

// grpcStreamTransport adapts a gRPC bidi stream (client or server side)
// to the Transport interface the rest of pkg/rpc speaks.
type grpcStreamTransport struct {
	stream grpc.Stream
}

func (g *grpcStreamTransport) Send(f Frame) error {
	switch s := g.stream.(type) {
	case grpc.ClientStream:
		return s.SendMsg(&f)
	case grpc.ServerStream:
		return s.SendMsg(&f)
	}
	return ErrTransportClosed
}

func (g *grpcStreamTransport) Recv() (Frame, error) {
	var f Frame
	var err error
	switch s := g.stream.(type) {
	case grpc.ClientStream:
		err = s.RecvMsg(&f)
	case grpc.ServerStream:
		err = s.RecvMsg(&f)
	}
	if err != nil {
		return Frame{}, err
	}
	return f, nil
}

func (g *grpcStreamTransport) Close() error {
	if cs, ok := g.stream.(grpc.ClientStream); ok {
		return cs.CloseSend()
	}
	return nil
}

// exchangeHandler backs the single hand-registered stream method;
// serve is supplied by ServeGRPC and receives each inbound stream as a
// Transport.
type exchangeHandler struct {
	serve func(Transport) error
}

func (h *exchangeHandler) streamHandler(srv any, stream grpc.ServerStream) error {
	return h.serve(&grpcStreamTransport{stream: stream})
}

func exchangeServiceDesc(h *exchangeHandler) grpc.ServiceDesc {
	return grpc.ServiceDesc{
		ServiceName: exchangeServiceName,
		HandlerType: (*any)(nil),
		Streams: []grpc.StreamDesc{
			{
				StreamName:    "Exchange",
				Handler:       h.streamHandler,
				ServerStreams: true,
				ClientStreams: true,
			},
		},
		Metadata: "basin/rpc",
	}
}

// ServeGRPC runs a gRPC server on lis, handing each accepted Exchange
// stream to serve as a Transport (typically wired to Server.Serve).
// It starts serving in a background goroutine and returns the server at
// once; call Stop or GracefulStop on it to shut down.
func ServeGRPC(lis net.Listener, serve func(Transport) error, opts ...grpc.ServerOption) *grpc.Server {
	h := &exchangeHandler{serve: serve}
	opts = append(opts, grpc.ForceServerCodec(frameCodec{}))
	srv := grpc.NewServer(opts...)
	desc := exchangeServiceDesc(h)
	srv.RegisterService(&desc, nil)
	go srv.Serve(lis)
	return srv
}

// DialGRPC opens the Exchange stream to addr and returns it as a
// Transport a Client can drive.
func DialGRPC(ctx context.Context, addr string, dialOpts ...grpc.DialOption) (Transport, *grpc.ClientConn, error) {
	dialOpts = append(dialOpts, grpc.WithDefaultCallOptions(grpc.ForceCodec(frameCodec{})))
	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, nil, err
	}
	stream, err := conn.NewStream(ctx, &exchangeStreamDesc, exchangeMethod)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return &grpcStreamTransport{stream: stream}, conn, nil
}

package grpc

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type stubServerStream struct {
	gogrpc.ServerStream
	ctx context.Context
}

func (s *stubServerStream) Context() context.Context {
	return s.ctx
}

func TestSharedSecretInterceptorAcceptsValidSecret(t *testing.T) {
	interceptor := NewSharedSecretStreamInterceptor("hunter2")
	md := metadata.New(map[string]string{SharedSecretMetadataKey: "hunter2"})
	stream := &stubServerStream{ctx: metadata.NewIncomingContext(context.Background(), md)}
	called := false
	handler := func(interface{}, gogrpc.ServerStream) error {
		called = true
		return nil
	}
	if err := interceptor(nil, stream, &gogrpc.StreamServerInfo{}, handler); err != nil {
		t.Fatalf("interceptor returned error: %v", err)
	}
	if !called {
		t.Fatal("expected handler to be invoked for valid secret")
	}
}

func TestSharedSecretInterceptorRejectsMissingSecret(t *testing.T) {
	interceptor := NewSharedSecretStreamInterceptor("hunter2")
	stream := &stubServerStream{ctx: context.Background()}
	handler := func(interface{}, gogrpc.ServerStream) error { return nil }
	err := interceptor(nil, stream, &gogrpc.StreamServerInfo{}, handler)
	if err == nil {
		t.Fatal("expected error for missing secret")
	}
	st, _ := status.FromError(err)
	if st.Code() != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated code, got %v", st.Code())
	}
}

func TestSharedSecretInterceptorAcceptsBearerToken(t *testing.T) {
	interceptor := NewSharedSecretStreamInterceptor("hunter2")
	md := metadata.New(map[string]string{"authorization": "Bearer hunter2"})
	stream := &stubServerStream{ctx: metadata.NewIncomingContext(context.Background(), md)}
	if err := interceptor(nil, stream, &gogrpc.StreamServerInfo{}, func(interface{}, gogrpc.ServerStream) error { return nil }); err != nil {
		t.Fatalf("expected bearer token to be accepted: %v", err)
	}
}

type echoServer struct{}

func (echoServer) Exchange(stream ServerStream) error {
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		//1.- Tag the reply so the client can tell it apart from its own frame.
		msg.Fields["echo"] = structpb.NewBoolValue(true)
		if err := stream.Send(msg); err != nil {
			return err
		}
	}
}

func startEchoServer(t *testing.T, secret string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := gogrpc.NewServer(ServerOptions(secret)...)
	RegisterLinkServer(server, echoServer{})
	go func() { _ = server.Serve(ln) }()
	t.Cleanup(server.Stop)
	return ln.Addr().String()
}

func dialEcho(t *testing.T, addr, secret string) ClientStream {
	t.Helper()
	conn, err := gogrpc.NewClient(addr, gogrpc.WithTransportCredentials(insecure.NewCredentials()), WithSharedSecret(secret))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	stream, err := NewLinkClient(conn).Exchange(ctx)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	return stream
}

type sample struct {
	Type    string `json:"type"`
	UserID  string `json:"userId"`
	Score   int    `json:"score"`
	Forfeit *bool  `json:"isForfeit,omitempty"`
	Echo    bool   `json:"echo"`
}

func TestExchangeRoundTripsEnvelopes(t *testing.T) {
	addr := startEchoServer(t, "hunter2")
	stream := dialEcho(t, addr, "hunter2")

	forfeit := true
	msg, err := Encode(sample{Type: "GET_OPPONENT", UserID: "42", Score: 3, Forfeit: &forfeit})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if TypeOf(msg) != "GET_OPPONENT" {
		t.Fatalf("unexpected type %q", TypeOf(msg))
	}
	if err := stream.Send(msg); err != nil {
		t.Fatalf("send: %v", err)
	}
	reply, err := stream.Recv()
	if err != nil {
		t.Fatalf("recv: %v", err)
	}
	var decoded sample
	if err := Decode(reply, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !decoded.Echo || decoded.UserID != "42" || decoded.Score != 3 || decoded.Forfeit == nil || !*decoded.Forfeit {
		t.Fatalf("unexpected reply %+v", decoded)
	}
	if err := stream.CloseSend(); err != nil {
		t.Fatalf("close send: %v", err)
	}
	if _, err := stream.Recv(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after close, got %v", err)
	}
}

func TestExchangeRejectsWrongSecret(t *testing.T) {
	addr := startEchoServer(t, "hunter2")
	stream := dialEcho(t, addr, "guess")
	msg, _ := Encode(sample{Type: "PING"})
	_ = stream.Send(msg)
	_, err := stream.Recv()
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
}

func TestDecodeRejectsNil(t *testing.T) {
	var p sample
	if err := Decode(nil, &p); err == nil {
		t.Fatal("expected error for nil envelope")
	}
	if TypeOf(nil) != "" {
		t.Fatal("expected empty type for nil envelope")
	}
}

package grpc

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/rotisserie/eris"
	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified name of the link service.
	ServiceName = "pongnet.link.v1.Link"
	// exchangeMethod is the full method path of the bidirectional stream.
	exchangeMethod = "/" + ServiceName + "/Exchange"
)

// LinkServer is implemented by the side that accepts link streams.
type LinkServer interface {
	Exchange(stream ServerStream) error
}

// ServerStream is the server half of an Exchange stream.
type ServerStream interface {
	Send(*structpb.Struct) error
	Recv() (*structpb.Struct, error)
	Context() context.Context
}

// ClientStream is the client half of an Exchange stream.
type ClientStream interface {
	Send(*structpb.Struct) error
	Recv() (*structpb.Struct, error)
	CloseSend() error
	Context() context.Context
}

// LinkServiceDesc describes the link service for registration on a grpc.Server.
var LinkServiceDesc = gogrpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LinkServer)(nil),
	Streams: []gogrpc.StreamDesc{{
		StreamName:    "Exchange",
		Handler:       exchangeHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "pongnet/link.proto",
}

// RegisterLinkServer attaches srv to s.
func RegisterLinkServer(s gogrpc.ServiceRegistrar, srv LinkServer) {
	s.RegisterService(&LinkServiceDesc, srv)
}

func exchangeHandler(srv any, stream gogrpc.ServerStream) error {
	return srv.(LinkServer).Exchange(&serverStream{stream})
}

type serverStream struct {
	gogrpc.ServerStream
}

func (s *serverStream) Send(msg *structpb.Struct) error {
	return s.ServerStream.SendMsg(msg)
}

func (s *serverStream) Recv() (*structpb.Struct, error) {
	msg := new(structpb.Struct)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// LinkClient opens Exchange streams over a client connection.
type LinkClient struct {
	cc gogrpc.ClientConnInterface
}

// NewLinkClient wraps cc.
func NewLinkClient(cc gogrpc.ClientConnInterface) *LinkClient {
	return &LinkClient{cc: cc}
}

// Exchange opens a gzip compressed bidirectional stream.
func (c *LinkClient) Exchange(ctx context.Context, opts ...gogrpc.CallOption) (ClientStream, error) {
	opts = append([]gogrpc.CallOption{gogrpc.UseCompressor(gzip.Name)}, opts...)
	stream, err := c.cc.NewStream(ctx, &LinkServiceDesc.Streams[0], exchangeMethod, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "open link stream")
	}
	return &clientStream{stream}, nil
}

type clientStream struct {
	gogrpc.ClientStream
}

func (s *clientStream) Send(msg *structpb.Struct) error {
	return s.ClientStream.SendMsg(msg)
}

func (s *clientStream) Recv() (*structpb.Struct, error) {
	msg := new(structpb.Struct)
	if err := s.ClientStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// Encode converts a JSON tagged value into a struct envelope.
func Encode(payload any) (*structpb.Struct, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "failed to marshal payload")
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, eris.Wrap(err, "failed to unmarshal payload to map[string]any")
	}
	pbStruct, err := structpb.NewStruct(m)
	if err != nil {
		return nil, eris.Wrap(err, "failed to convert map to structpb.Struct")
	}
	return pbStruct, nil
}

// Decode fills dst from a struct envelope using dst's JSON tags.
func Decode(msg *structpb.Struct, dst any) error {
	if msg == nil {
		return eris.New("nil envelope")
	}
	raw, err := json.Marshal(msg.AsMap())
	if err != nil {
		return eris.Wrap(err, "failed to marshal envelope")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return eris.Wrap(err, "failed to decode envelope")
	}
	return nil
}

// TypeOf returns the "type" field of an envelope.
func TypeOf(msg *structpb.Struct) string {
	if msg == nil {
		return ""
	}
	if value, ok := msg.GetFields()["type"]; ok {
		return value.GetStringValue()
	}
	return ""
}

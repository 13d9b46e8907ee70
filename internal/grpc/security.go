package grpc

import (
	"context"
	"crypto/subtle"
	"strings"

	gogrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// SharedSecretMetadataKey carries the link secret on every stream.
const SharedSecretMetadataKey = "x-pong-shared-secret"

// ServerOptions returns the options that protect a link server with secret.
func ServerOptions(secret string) []gogrpc.ServerOption {
	return []gogrpc.ServerOption{gogrpc.ChainStreamInterceptor(NewSharedSecretStreamInterceptor(secret))}
}

// NewSharedSecretStreamInterceptor rejects streams that do not present secret.
func NewSharedSecretStreamInterceptor(secret string) gogrpc.StreamServerInterceptor {
	normalized := strings.TrimSpace(secret)
	return func(srv interface{}, ss gogrpc.ServerStream, info *gogrpc.StreamServerInfo, handler gogrpc.StreamHandler) error {
		if normalized == "" {
			return status.Error(codes.Unauthenticated, "shared secret not configured")
		}
		md, ok := metadata.FromIncomingContext(ss.Context())
		if !ok {
			return status.Error(codes.Unauthenticated, "missing metadata")
		}
		candidate := extractSharedSecret(md)
		if candidate == "" {
			return status.Error(codes.Unauthenticated, "missing shared secret")
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(normalized)) != 1 {
			return status.Error(codes.Unauthenticated, "invalid shared secret")
		}
		return handler(srv, ss)
	}
}

// WithSharedSecret attaches secret to every stream the client opens.
func WithSharedSecret(secret string) gogrpc.DialOption {
	normalized := strings.TrimSpace(secret)
	return gogrpc.WithChainStreamInterceptor(func(ctx context.Context, desc *gogrpc.StreamDesc, cc *gogrpc.ClientConn, method string, streamer gogrpc.Streamer, opts ...gogrpc.CallOption) (gogrpc.ClientStream, error) {
		if normalized != "" {
			ctx = metadata.AppendToOutgoingContext(ctx, SharedSecretMetadataKey, normalized)
		}
		return streamer(ctx, desc, cc, method, opts...)
	})
}

func extractSharedSecret(md metadata.MD) string {
	if md == nil {
		return ""
	}
	for _, value := range md.Get(SharedSecretMetadataKey) {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	for _, value := range md.Get("authorization") {
		if strings.HasPrefix(strings.ToLower(value), "bearer ") {
			token := strings.TrimSpace(value[7:])
			if token != "" {
				return token
			}
		}
	}
	return ""
}

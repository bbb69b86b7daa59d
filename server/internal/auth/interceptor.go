package auth

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// APIKeyInterceptor returns a gRPC UnaryServerInterceptor that enforces the
// API key on every call. Pass-through when mode != "apikey" or key == "".
//
// header should be lowercase; gRPC normalises metadata keys.
func APIKeyInterceptor(mode, header, key string) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		if err := checkMetadata(ctx, mode, header, key); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// APIKeyStreamInterceptor is the streaming counterpart of APIKeyInterceptor.
// It guards health Watch streams.
func APIKeyStreamInterceptor(mode, header, key string) grpc.StreamServerInterceptor {
	return func(
		srv interface{},
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if err := checkMetadata(ss.Context(), mode, header, key); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}

func checkMetadata(ctx context.Context, mode, header, key string) error {
	if !enabled(mode, key) {
		return nil
	}
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get(header)
	if len(vals) == 0 || !matches(vals[0], key) {
		return status.Error(codes.Unauthenticated, "invalid api key")
	}
	return nil
}

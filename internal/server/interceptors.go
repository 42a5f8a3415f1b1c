package server

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Probes hit these constantly; they log at debug.
var quietMethods = map[string]bool{
	"/grpc.health.v1.Health/Check": true,
	"/grpc.health.v1.Health/Watch": true,
}

func logRPC(ctx context.Context, logger *slog.Logger, method string, start time.Time, err error) {
	attrs := []any{"method", method, "duration", time.Since(start)}
	if err != nil {
		logger.Error("rpc failed", append(attrs, "code", status.Code(err).String(), "error", err)...)
		return
	}
	level := slog.LevelInfo
	if quietMethods[method] {
		level = slog.LevelDebug
	}
	logger.Log(ctx, level, "rpc completed", attrs...)
}

// UnaryLogging logs the method, duration and status of every unary RPC.
func UnaryLogging(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logRPC(ctx, logger, info.FullMethod, start, err)
		return resp, err
	}
}

// StreamLogging logs a streaming RPC once it ends.
func StreamLogging(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logRPC(ss.Context(), logger, info.FullMethod, start, err)
		return err
	}
}

func recoverRPC(logger *slog.Logger, method string, err *error) {
	if r := recover(); r != nil {
		logger.Error("rpc handler panicked",
			"method", method,
			"panic", fmt.Sprintf("%v", r),
			"stack", string(debug.Stack()),
		)
		*err = status.Errorf(codes.Internal, "internal server error")
	}
}

// UnaryRecovery turns a handler panic into codes.Internal.
func UnaryRecovery(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer recoverRPC(logger, info.FullMethod, &err)
		return handler(ctx, req)
	}
}

// StreamRecovery is UnaryRecovery for streaming RPCs.
func StreamRecovery(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		defer recoverRPC(logger, info.FullMethod, &err)
		return handler(srv, ss)
	}
}

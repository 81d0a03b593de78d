//go:build protogen

package main

import (
	"context"
	"log/slog"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/expertmeet/expertmeet/libs/config"
	"github.com/expertmeet/expertmeet/libs/grpcx"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/booking"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/grpcserver"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/profiles"
)

func startGrpcServer(ctx context.Context, logger *slog.Logger, dir profiles.Directory, bookings *booking.Service) error {
	port, err := config.Port("GRPC_PORT", "9091")
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}

	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(grpcx.UnaryServerRequestIDInterceptor()),
	)
	grpcserver.Register(srv, dir, bookings)

	go func() {
		logger.Info("grpc server starting", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	return nil
}

//go:build !protogen

package main

import (
	"context"
	"log/slog"

	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/booking"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/profiles"
)

func startGrpcServer(_ context.Context, _ *slog.Logger, _ profiles.Directory, _ *booking.Service) error {
	return nil
}

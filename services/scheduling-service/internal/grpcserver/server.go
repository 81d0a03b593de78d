//go:build protogen

package grpcserver

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/timestamppb"

	profilesv1 "github.com/expertmeet/expertmeet/protos/gen/profiles/v1"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/booking"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/profiles"
	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/timeutil"
)

// server exposes the profile directory and slot lookups to sibling
// services over gRPC. HTTP stays the customer-facing surface; this is
// service-to-service only.
type server struct {
	profilesv1.UnimplementedProfileDirectoryServer
	dir      profiles.Directory
	bookings *booking.Service
}

func Register(grpcServer *grpc.Server, dir profiles.Directory, bookings *booking.Service) {
	profilesv1.RegisterProfileDirectoryServer(grpcServer, &server{dir: dir, bookings: bookings})
}

func (s *server) ResolveIdentity(ctx context.Context, req *profilesv1.ResolveIdentityRequest) (*profilesv1.ResolveIdentityResponse, error) {
	identityID, err := s.dir.ResolveIdentity(ctx, req.GetProfileId())
	if err != nil {
		return nil, err
	}
	return &profilesv1.ResolveIdentityResponse{IdentityId: identityID}, nil
}

func (s *server) ListProfileIds(ctx context.Context, req *profilesv1.ListProfileIdsRequest) (*profilesv1.ListProfileIdsResponse, error) {
	ids, err := s.dir.ListProfileIDs(ctx, req.GetIdentityId())
	if err != nil {
		return nil, err
	}
	return &profilesv1.ListProfileIdsResponse{ProfileIds: ids}, nil
}

func (s *server) ListSlots(ctx context.Context, req *profilesv1.ListSlotsRequest) (*profilesv1.ListSlotsResponse, error) {
	from, err := timeutil.ParseCivilDate(req.GetFromDate())
	if err != nil {
		return nil, err
	}
	to, err := timeutil.ParseCivilDate(req.GetToDate())
	if err != nil {
		return nil, err
	}

	slots, err := s.bookings.Slots(ctx, req.GetProfileId(), from, to, time.Duration(req.GetDurationMinutes())*time.Minute)
	if err != nil {
		return nil, err
	}
	resp := &profilesv1.ListSlotsResponse{}
	for _, slot := range slots {
		resp.Slots = append(resp.Slots, &profilesv1.Slot{
			StartUtc: timestamppb.New(slot.Start),
			EndUtc:   timestamppb.New(slot.End),
		})
	}
	return resp, nil
}

//go:build protogen

package profiles

import (
	"context"
	"time"

	"github.com/expertmeet/expertmeet/libs/grpcx"
	profilesv1 "github.com/expertmeet/expertmeet/protos/gen/profiles/v1"
)

type remoteDirectory struct {
	client profilesv1.ProfileDirectoryClient
}

// NewRemoteDirectory dials a standalone profile directory service.
// Returns (nil, nil) when no address is configured so callers fall
// back to the local pg-backed directory.
func NewRemoteDirectory(addr string) (Directory, error) {
	if addr == "" {
		return nil, nil
	}
	conn, err := grpcx.Dial(context.Background(), addr, grpcx.DialOptions{Timeout: 3 * time.Second})
	if err != nil {
		return nil, err
	}
	return &remoteDirectory{client: profilesv1.NewProfileDirectoryClient(conn)}, nil
}

func (d *remoteDirectory) ResolveIdentity(ctx context.Context, profileID string) (string, error) {
	resp, err := d.client.ResolveIdentity(ctx, &profilesv1.ResolveIdentityRequest{ProfileId: profileID})
	if err != nil {
		return "", err
	}
	return resp.GetIdentityId(), nil
}

func (d *remoteDirectory) ListProfileIDs(ctx context.Context, identityID string) ([]string, error) {
	resp, err := d.client.ListProfileIds(ctx, &profilesv1.ListProfileIdsRequest{IdentityId: identityID})
	if err != nil {
		return nil, err
	}
	return resp.GetProfileIds(), nil
}

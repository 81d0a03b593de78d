//go:build !protogen

package profiles

// NewRemoteDirectory is a no-op unless built with the protogen tag
// (requires generated gRPC stubs). Callers fall back to the pg-backed
// directory when it returns nil.
func NewRemoteDirectory(_ string) (Directory, error) {
	return nil, nil
}

package adapter

import (
	"context"

	"github.com/MKhiriev/go-doc-sync/models"
)

// ServerAdapter is the plain-HTTP surface of a sync server, used by the
// client before it dials the framed sync endpoint.
type ServerAdapter interface {
	// ServerInfo fetches the server's build and protocol versions.
	ServerInfo(ctx context.Context) (models.AppInfo, error)
	// CheckCompatibility verifies the server speaks our protocol.
	CheckCompatibility(ctx context.Context) error
}

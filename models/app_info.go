package models

// AppInfo describes a sync server build, as served by /api/version and
// checked by clients before they dial the sync endpoint.
type AppInfo struct {
	Version         string `json:"version"`
	ProtocolVersion int    `json:"protocol_version"`
}

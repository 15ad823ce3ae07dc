package models

// List views.
const (
	// ViewChain follows the first root and then always the first child.
	ViewChain = "chain"
	// ViewTree lists every snapshot in pre-order.
	ViewTree = "tree"
)

// SnapshotSummary is the record returned for a snapshot by list operations.
type SnapshotSummary struct {
	Name          string `json:"name"`
	CreateTime    string `json:"create_time"`
	SnapshotState string `json:"snapshot_state"`
	Description   string `json:"description"`
}

// SnapshotListResponse wraps the snapshots of one VM.
type SnapshotListResponse struct {
	VM        string            `json:"vm"`
	View      string            `json:"view"`
	Total     int               `json:"total"`
	Snapshots []SnapshotSummary `json:"snapshots"`
}

// CreateSnapshotResponse reports a completed create request.
type CreateSnapshotResponse struct {
	VM       string           `json:"vm"`
	Snapshot string           `json:"snapshot"`
	Memory   bool             `json:"memory"`
	Quiesce  bool             `json:"quiesce"`
	Current  *SnapshotSummary `json:"current,omitempty"`
}

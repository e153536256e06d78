// Package ops implements the intake operations shared by the web server,
// the CLI and the MCP tools.
package ops

// StorageKey names the draft snapshot format. It is stored with every draft
// so older snapshots can be told apart after a format change.
const StorageKey = "intake_draft"

// Pagination limits
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Pagination contains pagination metadata for list operations.
type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
	Total   int  `json:"total"`
}

// page applies limit defaults and bounds.
func page(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	return limit, max(offset, 0)
}

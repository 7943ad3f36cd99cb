package protocol

import "time"

// Asset is the server-shape asset record, including the checked projection
// joined from the inventory check table.
type Asset struct {
	ID        string     `json:"id"`
	Code      string     `json:"code"`
	Name      string     `json:"name"`
	Category  string     `json:"category,omitempty"`
	Location  string     `json:"location,omitempty"`
	Status    string     `json:"status,omitempty"`
	Checked   bool       `json:"checked"`
	CheckedBy string     `json:"checked_by,omitempty"`
	CheckedAt *time.Time `json:"checked_at,omitempty"`
	Notes     string     `json:"notes,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RowChanged is a coarse change notice: something in Table changed.
type RowChanged struct {
	Table string `json:"table"`
	Op    string `json:"op"`
	RowID string `json:"row_id,omitempty"`
}

// Relevant reports whether the change touches a table the asset snapshot is built from.
func (r *RowChanged) Relevant() bool {
	return r.Table == TableAssets || r.Table == TableChecks
}

package protocol

// Message type constants for change notices exchanged between terminals.
const (
	// TypeRowChanged announces that a row in a shared table changed.
	TypeRowChanged = "row.changed"
)

// Roles for Address.Role.
const (
	RoleTerminal = "terminal"
	RoleBackend  = "backend"
)

// Tables whose changes invalidate the asset snapshot.
const (
	TableAssets = "assets"
	TableChecks = "inventory_checks"
	TableScans  = "scan_records"
)

// Row operations carried in RowChanged.Op.
const (
	OpInsert = "INSERT"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// Protocol version.
const Version = 1

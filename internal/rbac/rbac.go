// Package rbac is the single role capability table consulted by every view
// and console decision. It decides which records and fields a viewer may see
// and which endpoint scope a log listing uses.
//
// The classification API enforces the same rules server-side; filtering here
// keeps hidden data out of rendering, it is not the only enforcement point.
package rbac

import (
	"alert-triage/internal/schema"
)

// Capability is a single allowed action.
type Capability string

const (
	CapViewOwnRecords Capability = "view_own_records"
	CapViewAllRecords Capability = "view_all_records"
	CapViewUserEmail  Capability = "view_user_email"
	CapViewAlerts     Capability = "view_alerts"
	CapResolveAlerts  Capability = "resolve_alerts"
	CapAnalyze        Capability = "analyze"
	CapViewStatistics Capability = "view_statistics"
	CapManageUsers    Capability = "manage_users"
	CapClearLogs      Capability = "clear_logs"
	CapExportReports  Capability = "export_reports"
)

var roleCapabilities = initRoleCapabilities()

// initRoleCapabilities sets up the role-capability mapping.
func initRoleCapabilities() map[schema.Role][]Capability {
	return map[schema.Role][]Capability{
		schema.RoleAdmin: {
			CapViewOwnRecords, CapViewAllRecords, CapViewUserEmail,
			CapViewAlerts, CapResolveAlerts, CapAnalyze, CapViewStatistics,
			CapExportReports, CapManageUsers, CapClearLogs,
		},
		schema.RoleSOCAnalyst: {
			CapViewOwnRecords, CapViewAllRecords, CapViewUserEmail,
			CapViewAlerts, CapResolveAlerts, CapAnalyze, CapViewStatistics,
			CapExportReports,
		},
		schema.RoleNormalUser: {
			CapViewOwnRecords, CapViewAlerts, CapResolveAlerts,
			CapAnalyze, CapViewStatistics,
		},
	}
}

// Capabilities returns the capabilities of a role. Unknown roles have none.
func Capabilities(role schema.Role) []Capability {
	caps := roleCapabilities[role]
	out := make([]Capability, len(caps))
	copy(out, caps)
	return out
}

// HasCapability checks if a role has a capability.
func HasCapability(role schema.Role, c Capability) bool {
	for _, have := range roleCapabilities[role] {
		if have == c {
			return true
		}
	}
	return false
}

// Field names a LogRecord field as rendered.
type Field string

const (
	FieldID         Field = "id"
	FieldEvent      Field = "event"
	FieldPrediction Field = "prediction"
	FieldScore      Field = "score"
	FieldTimestamp  Field = "timestamp"
	FieldUserEmail  Field = "user_email"
	FieldSequence   Field = "sequence"
)

var baseFields = []Field{
	FieldID, FieldEvent, FieldPrediction, FieldScore, FieldTimestamp, FieldSequence,
}

// FieldSet is a set of visible fields.
type FieldSet map[Field]bool

// Has reports whether f is in the set.
func (s FieldSet) Has(f Field) bool {
	return s[f]
}

// VisibleFields returns the fields a role may see rendered.
func VisibleFields(role schema.Role) FieldSet {
	if !role.IsValid() {
		return FieldSet{}
	}
	set := make(FieldSet, len(baseFields)+1)
	for _, f := range baseFields {
		set[f] = true
	}
	if HasCapability(role, CapViewUserEmail) {
		set[FieldUserEmail] = true
	}
	return set
}

// Viewer identifies who is looking at records.
type Viewer struct {
	Email string
	Role  schema.Role
}

// Visible reports whether a viewer may see a record at all.
func Visible(v Viewer, r schema.LogRecord) bool {
	switch {
	case HasCapability(v.Role, CapViewAllRecords):
		return true
	case HasCapability(v.Role, CapViewOwnRecords):
		return v.Email != "" && r.UserEmail == v.Email
	default:
		return false
	}
}

// Project returns a copy of r with every field the viewer's role may not see
// cleared.
func Project(v Viewer, r schema.LogRecord) schema.LogRecord {
	fields := VisibleFields(v.Role)
	if !fields.Has(FieldUserEmail) {
		r.UserEmail = ""
	}
	return r
}

// Filter keeps the records a viewer may see, projected, in their original order.
func Filter(v Viewer, records []schema.LogRecord) []schema.LogRecord {
	out := make([]schema.LogRecord, 0, len(records))
	for _, r := range records {
		if Visible(v, r) {
			out = append(out, Project(v, r))
		}
	}
	return out
}

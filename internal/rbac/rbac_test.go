package rbac

import (
	"testing"

	"alert-triage/internal/schema"
)

func TestHasCapability(t *testing.T) {
	tests := []struct {
		role schema.Role
		cap  Capability
		want bool
	}{
		{schema.RoleAdmin, CapManageUsers, true},
		{schema.RoleAdmin, CapClearLogs, true},
		{schema.RoleSOCAnalyst, CapViewAllRecords, true},
		{schema.RoleSOCAnalyst, CapManageUsers, false},
		{schema.RoleSOCAnalyst, CapClearLogs, false},
		{schema.RoleNormalUser, CapViewAllRecords, false},
		{schema.RoleNormalUser, CapClearLogs, false},
		{schema.RoleNormalUser, CapManageUsers, false},
		{schema.RoleNormalUser, CapViewOwnRecords, true},
		{schema.Role("root"), CapViewOwnRecords, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.cap), func(t *testing.T) {
			if got := HasCapability(tt.role, tt.cap); got != tt.want {
				t.Errorf("HasCapability(%s, %s) = %v, want %v", tt.role, tt.cap, got, tt.want)
			}
		})
	}
}

func TestAdminSupersetOfAnalyst(t *testing.T) {
	for _, c := range Capabilities(schema.RoleSOCAnalyst) {
		if !HasCapability(schema.RoleAdmin, c) {
			t.Errorf("admin missing analyst capability %s", c)
		}
	}
}

func TestVisibleFields(t *testing.T) {
	if VisibleFields(schema.RoleNormalUser).Has(FieldUserEmail) {
		t.Error("normal users must not see user_email")
	}
	if !VisibleFields(schema.RoleSOCAnalyst).Has(FieldUserEmail) {
		t.Error("analysts must see user_email")
	}
	if !VisibleFields(schema.RoleNormalUser).Has(FieldScore) {
		t.Error("normal users must see score")
	}
	if len(VisibleFields(schema.Role("root"))) != 0 {
		t.Error("unknown role must see nothing")
	}
}

func TestFilter_NormalUserSeesOnlyOwnRecords(t *testing.T) {
	viewer := Viewer{Email: "me@example.com", Role: schema.RoleNormalUser}
	records := []schema.LogRecord{
		{ID: "1", UserEmail: "me@example.com", Prediction: schema.PredictionMalicious},
		{ID: "2", UserEmail: "other@example.com", Prediction: schema.PredictionMalicious},
		{ID: "3", UserEmail: "", Prediction: schema.PredictionSuspicious},
		{ID: "4", UserEmail: "me@example.com", Prediction: schema.PredictionNormal},
	}

	got := Filter(viewer, records)
	if len(got) != 2 {
		t.Fatalf("expected 2 visible records, got %d", len(got))
	}
	if got[0].ID != "1" || got[1].ID != "4" {
		t.Errorf("expected order preserved, got %s, %s", got[0].ID, got[1].ID)
	}
	for _, r := range got {
		if r.UserEmail != "" {
			t.Errorf("record %s leaked user_email %q", r.ID, r.UserEmail)
		}
	}
	if records[0].UserEmail != "me@example.com" {
		t.Error("Filter must not mutate the input")
	}
}

func TestFilter_OthersOnlyYieldsNothing(t *testing.T) {
	viewer := Viewer{Email: "me@example.com", Role: schema.RoleNormalUser}
	records := []schema.LogRecord{
		{ID: "1", UserEmail: "a@example.com"},
		{ID: "2", UserEmail: "b@example.com"},
	}
	if got := Filter(viewer, records); len(got) != 0 {
		t.Errorf("expected zero visible records, got %d", len(got))
	}
}

func TestFilter_AnalystSeesEverything(t *testing.T) {
	viewer := Viewer{Email: "soc@example.com", Role: schema.RoleSOCAnalyst}
	records := []schema.LogRecord{
		{ID: "1", UserEmail: "a@example.com"},
		{ID: "2", UserEmail: "system"},
	}
	got := Filter(viewer, records)
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
	if got[0].UserEmail != "a@example.com" {
		t.Errorf("expected user_email kept for analysts, got %q", got[0].UserEmail)
	}
}

func TestFilter_EmptyViewerEmail(t *testing.T) {
	viewer := Viewer{Role: schema.RoleNormalUser}
	records := []schema.LogRecord{{ID: "1", UserEmail: ""}}
	if got := Filter(viewer, records); len(got) != 0 {
		t.Error("a viewer without an email must not match system records")
	}
}

func TestSelectEndpointScope(t *testing.T) {
	tests := []struct {
		name   string
		role   schema.Role
		filter schema.Prediction
		want   Scope
	}{
		{"normal user", schema.RoleNormalUser, "", Scope{Kind: ScopeOwn}},
		{"normal user with filter", schema.RoleNormalUser, schema.PredictionMalicious,
			Scope{Kind: ScopeOwn, Prediction: schema.PredictionMalicious}},
		{"analyst", schema.RoleSOCAnalyst, "", Scope{Kind: ScopeAll}},
		{"analyst with filter", schema.RoleSOCAnalyst, schema.PredictionSuspicious,
			Scope{Kind: ScopeFiltered, Prediction: schema.PredictionSuspicious}},
		{"admin", schema.RoleAdmin, "", Scope{Kind: ScopeAll}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SelectEndpointScope(tt.role, tt.filter); got != tt.want {
				t.Errorf("SelectEndpointScope() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestScopeMatches(t *testing.T) {
	viewer := Viewer{Email: "me@example.com", Role: schema.RoleNormalUser}
	scope := SelectEndpointScope(viewer.Role, schema.PredictionMalicious)

	if !scope.Matches(viewer, schema.LogRecord{UserEmail: "me@example.com", Prediction: schema.PredictionMalicious}) {
		t.Error("expected own malicious record to match")
	}
	if scope.Matches(viewer, schema.LogRecord{UserEmail: "me@example.com", Prediction: schema.PredictionNormal}) {
		t.Error("expected prediction filter to apply")
	}
	if scope.Matches(viewer, schema.LogRecord{UserEmail: "x@example.com", Prediction: schema.PredictionMalicious}) {
		t.Error("expected other users' records excluded")
	}
}

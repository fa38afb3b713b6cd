package rbac

import (
	"fmt"

	"alert-triage/internal/schema"
)

// ScopeKind selects which log listing endpoint serves a view.
type ScopeKind string

const (
	ScopeOwn      ScopeKind = "own"      // the viewer's own records only
	ScopeAll      ScopeKind = "all"      // every user's records
	ScopeFiltered ScopeKind = "filtered" // every user's records with one prediction
)

// Scope is a resolved listing scope.
type Scope struct {
	Kind ScopeKind
	// Prediction narrows the listing. For ScopeFiltered it is sent to the API;
	// for ScopeOwn it is applied locally after fetching.
	Prediction schema.Prediction
}

// String renders the scope for logs.
func (s Scope) String() string {
	if s.Prediction == "" {
		return string(s.Kind)
	}
	return fmt.Sprintf("%s(%s)", s.Kind, s.Prediction)
}

// Matches reports whether a fetched record falls inside the scope for viewer.
func (s Scope) Matches(v Viewer, r schema.LogRecord) bool {
	if s.Kind == ScopeOwn && r.UserEmail != v.Email {
		return false
	}
	if s.Prediction != "" && r.Prediction != s.Prediction {
		return false
	}
	return true
}

// SelectEndpointScope picks the listing scope for a role. Roles that may only
// see their own records always get ScopeOwn, whatever filter was requested.
// An empty filter means no prediction filter.
func SelectEndpointScope(role schema.Role, filter schema.Prediction) Scope {
	if HasCapability(role, CapViewAllRecords) {
		if filter == "" {
			return Scope{Kind: ScopeAll}
		}
		return Scope{Kind: ScopeFiltered, Prediction: filter}
	}
	return Scope{Kind: ScopeOwn, Prediction: filter}
}

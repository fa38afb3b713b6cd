package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   Kind
	}{
		{http.StatusUnauthorized, KindUnauthorized},
		{http.StatusForbidden, KindForbidden},
		{http.StatusBadRequest, KindValidation},
		{http.StatusUnprocessableEntity, KindValidation},
		{http.StatusNotFound, KindUpstream},
		{http.StatusInternalServerError, KindUpstream},
		{http.StatusBadGateway, KindUpstream},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			err := FromStatus("api.Test", tt.status, "")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := KindOf(err); got != tt.kind {
				t.Errorf("expected kind %s, got %s", tt.kind, got)
			}
		})
	}

	if err := FromStatus("api.Test", http.StatusOK, ""); err != nil {
		t.Errorf("expected nil for 200, got %v", err)
	}
}

func TestKindHelpersThroughWrapping(t *testing.T) {
	base := Unauthorized("api.ListLogs", "token expired")
	wrapped := fmt.Errorf("load alerts: %w", base)

	if !IsUnauthorized(wrapped) {
		t.Error("expected wrapped error to be unauthorized")
	}
	if IsForbidden(wrapped) {
		t.Error("unauthorized must not match forbidden")
	}

	var e *Error
	if !errors.As(wrapped, &e) {
		t.Fatal("expected errors.As to find *Error")
	}
	if e.Op != "api.ListLogs" {
		t.Errorf("expected op api.ListLogs, got %s", e.Op)
	}
}

func TestIsUpstream(t *testing.T) {
	if IsUpstream(nil) {
		t.Error("nil must not be upstream")
	}
	if !IsUpstream(errors.New("connection reset")) {
		t.Error("unclassified errors count as upstream")
	}
	if IsUpstream(Validation("x", "bad")) {
		t.Error("validation must not be upstream")
	}
}

func TestErrorMessage(t *testing.T) {
	err := Wrap("api.Login", KindUpstream, "login failed", errors.New("EOF"))
	want := "api.Login: login failed: EOF"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}
}

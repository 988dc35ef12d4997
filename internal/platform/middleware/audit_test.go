package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/triage/triage/internal/platform/auth"
)

func auditContext(e *echo.Echo, method, path, uid string, roles []string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, path, nil)
	ctx := req.Context()
	if uid != "" {
		ctx = context.WithValue(ctx, auth.UserIDKey, uid)
	}
	if roles != nil {
		ctx = context.WithValue(ctx, auth.UserRolesKey, roles)
	}
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-123")
	return c, rec
}

func TestAudit_RecordsAPIAccess(t *testing.T) {
	var recorded []AuditEntry
	recorder := AuditRecorderFunc(func(entry AuditEntry) error {
		recorded = append(recorded, entry)
		return nil
	})

	e := echo.New()
	c, _ := auditContext(e, http.MethodGet, "/api/v1/triage/sessions/abc", "user-1", []string{"clinician"})

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	mw := Audit(zerolog.Nop(), recorder)
	h := mw(handler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(recorded) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(recorded))
	}
	entry := recorded[0]
	if entry.UserID != "user-1" {
		t.Errorf("expected user-1, got %s", entry.UserID)
	}
	if entry.Action != "read" {
		t.Errorf("expected action read, got %s", entry.Action)
	}
	if entry.Resource != "triage" {
		t.Errorf("expected resource triage, got %s", entry.Resource)
	}
	if entry.RequestID != "req-123" {
		t.Errorf("expected request id req-123, got %s", entry.RequestID)
	}
}

func TestAudit_SkipsNonAPIRoutes(t *testing.T) {
	var recorded []AuditEntry
	recorder := AuditRecorderFunc(func(entry AuditEntry) error {
		recorded = append(recorded, entry)
		return nil
	})

	e := echo.New()
	c, _ := auditContext(e, http.MethodGet, "/health", "", nil)

	handler := func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	}

	mw := Audit(zerolog.Nop(), recorder)
	h := mw(handler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(recorded) != 0 {
		t.Errorf("expected no audit entries for /health, got %d", len(recorded))
	}
}

func TestAudit_RecorderErrorDoesNotFailRequest(t *testing.T) {
	recorder := AuditRecorderFunc(func(entry AuditEntry) error {
		return errors.New("store down")
	})

	e := echo.New()
	c, rec := auditContext(e, http.MethodPost, "/api/v1/feedback", "user-2", []string{"patient"})

	handler := func(c echo.Context) error {
		return c.String(http.StatusCreated, "created")
	}

	mw := Audit(zerolog.Nop(), recorder)
	h := mw(handler)
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

func TestAudit_PropagatesHandlerError(t *testing.T) {
	e := echo.New()
	c, _ := auditContext(e, http.MethodGet, "/api/v1/triage/sessions/missing", "user-1", nil)

	handler := func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "not found")
	}

	mw := Audit(zerolog.Nop())
	h := mw(handler)
	err := h(c)

	if err == nil {
		t.Fatal("expected error from handler")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", httpErr.Code)
	}
}

func TestHTTPMethodToAction(t *testing.T) {
	tests := []struct {
		method string
		want   string
	}{
		{http.MethodGet, "read"},
		{http.MethodHead, "read"},
		{http.MethodPost, "create"},
		{http.MethodPut, "update"},
		{http.MethodPatch, "update"},
		{http.MethodDelete, "delete"},
		{"OPTIONS", "read"},
	}

	for _, tt := range tests {
		if got := httpMethodToAction(tt.method); got != tt.want {
			t.Errorf("httpMethodToAction(%s) = %s, want %s", tt.method, got, tt.want)
		}
	}
}

func TestExtractResource(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/v1/triage/sessions", "triage"},
		{"/api/v1/triage/sessions/abc", "triage"},
		{"/api/v1/feedback", "feedback"},
		{"/api/v1/ml/models", "ml"},
		{"/api/v1/", "unknown"},
	}

	for _, tt := range tests {
		if got := extractResource(tt.path); got != tt.want {
			t.Errorf("extractResource(%s) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/V4T54L/postbus/internal/adapter/api/middleware"
	"github.com/V4T54L/postbus/internal/domain"
	"github.com/V4T54L/postbus/internal/pkg/auth"
	"github.com/V4T54L/postbus/internal/usecase"
)

type mockAdmitter struct {
	AdmitFunc func(ctx context.Context, req usecase.PostRequest, explicitKey string) (*usecase.Admission, error)
	calls     int
	lastKey   string
}

func (m *mockAdmitter) Admit(ctx context.Context, req usecase.PostRequest, explicitKey string) (*usecase.Admission, error) {
	m.calls++
	m.lastKey = explicitKey
	if m.AdmitFunc != nil {
		return m.AdmitFunc(ctx, req, explicitKey)
	}
	return &usecase.Admission{Body: []byte(`{"success":true,"data":{"queued":true}}`), JobID: "job-1"}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const validBody = `{"tenant":"club-a","template":"goal","channels":["yt","fb"],"data":{"player":"Kerr"}}`

func TestPostHandler(t *testing.T) {
	tenantClaims := &auth.Claims{TenantID: "club-a"}

	tests := []struct {
		name           string
		contentType    string
		body           string
		claims         *auth.Claims
		key            string
		admitErr       error
		duplicate      bool
		expectedStatus int
		expectedBody   string
		expectAdmit    bool
	}{
		{
			name:           "First admission",
			contentType:    "application/json",
			body:           validBody,
			claims:         tenantClaims,
			expectedStatus: http.StatusAccepted,
			expectedBody:   `{"success":true,"data":{"queued":true}}`,
			expectAdmit:    true,
		},
		{
			name:           "Duplicate returns cached body verbatim",
			contentType:    "application/json; charset=utf-8",
			body:           validBody,
			claims:         tenantClaims,
			key:            "abc",
			duplicate:      true,
			expectedStatus: http.StatusOK,
			expectedBody:   `{"success":true,"data":{"results":{"yt":{"status":"published"}}}}`,
			expectAdmit:    true,
		},
		{
			name:           "Validation failure",
			contentType:    "application/json",
			body:           `{"tenant":"club-a","template":"goal","channels":[],"data":{}}`,
			claims:         tenantClaims,
			admitErr:       &domain.ValidationError{Field: "channels", Message: "must contain at least one channel"},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"success":false,"error":{"code":"VALIDATION","message":"channels: must contain at least one channel"}}`,
			expectAdmit:    true,
		},
		{
			name:           "Malformed JSON",
			contentType:    "application/json",
			body:           `{"tenant":`,
			claims:         tenantClaims,
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Missing claims",
			contentType:    "application/json",
			body:           validBody,
			expectedStatus: http.StatusUnauthorized,
		},
		{
			name:           "Token for another tenant",
			contentType:    "application/json",
			body:           validBody,
			claims:         &auth.Claims{TenantID: "club-b"},
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "Admin token for any tenant",
			contentType:    "application/json",
			body:           validBody,
			claims:         &auth.Claims{Role: auth.RoleAdmin},
			expectedStatus: http.StatusAccepted,
			expectAdmit:    true,
		},
		{
			name:           "Unsupported content type",
			contentType:    "text/plain",
			body:           validBody,
			claims:         tenantClaims,
			expectedStatus: http.StatusUnsupportedMediaType,
		},
		{
			name:           "Payload too large",
			contentType:    "application/json",
			body:           `{"tenant":"club-a","template":"goal","channels":["yt"],"data":{"text":"` + strings.Repeat("x", 2048) + `"}}`,
			claims:         tenantClaims,
			expectedStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:           "Idempotency key too long",
			contentType:    "application/json",
			body:           validBody,
			claims:         tenantClaims,
			key:            strings.Repeat("k", 256),
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "Queue unavailable",
			contentType:    "application/json",
			body:           validBody,
			claims:         tenantClaims,
			admitErr:       fmt.Errorf("%w: connection refused", domain.ErrQueueUnavailable),
			expectedStatus: http.StatusServiceUnavailable,
			expectAdmit:    true,
		},
		{
			name:           "Unexpected error",
			contentType:    "application/json",
			body:           validBody,
			claims:         tenantClaims,
			admitErr:       errors.New("boom"),
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"success":false,"error":{"code":"INTERNAL","message":"internal server error"}}`,
			expectAdmit:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			admitter := &mockAdmitter{}
			if tt.admitErr != nil {
				admitter.AdmitFunc = func(context.Context, usecase.PostRequest, string) (*usecase.Admission, error) {
					return nil, tt.admitErr
				}
			}
			if tt.duplicate {
				admitter.AdmitFunc = func(context.Context, usecase.PostRequest, string) (*usecase.Admission, error) {
					return &usecase.Admission{Duplicate: true, Body: []byte(tt.expectedBody)}, nil
				}
			}
			h := NewPostHandler(admitter, testLogger(), 1024)

			req := httptest.NewRequest(http.MethodPost, "/post", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			if tt.key != "" {
				req.Header.Set(IdempotencyKeyHeader, tt.key)
			}
			if tt.claims != nil {
				req = req.WithContext(middleware.WithClaims(req.Context(), tt.claims))
			}
			rr := httptest.NewRecorder()

			h.ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("handler returned wrong status code: got %v want %v (body %s)", rr.Code, tt.expectedStatus, rr.Body.String())
			}
			if tt.expectedBody != "" && strings.TrimSpace(rr.Body.String()) != tt.expectedBody {
				t.Errorf("handler returned unexpected body: got %s want %s", rr.Body.String(), tt.expectedBody)
			}
			if got := rr.Header().Get("Content-Type"); got != "application/json" {
				t.Errorf("expected JSON content type, got %q", got)
			}
			if (admitter.calls > 0) != tt.expectAdmit {
				t.Errorf("admit called %d times, expectAdmit=%v", admitter.calls, tt.expectAdmit)
			}
			if tt.expectAdmit && admitter.lastKey != tt.key {
				t.Errorf("expected idempotency key %q to be forwarded, got %q", tt.key, admitter.lastKey)
			}
		})
	}
}

func TestPostHandler_SetsJobIDHeader(t *testing.T) {
	h := NewPostHandler(&mockAdmitter{}, testLogger(), 1024)
	req := httptest.NewRequest(http.MethodPost, "/post", strings.NewReader(validBody))
	req.Header.Set("Content-Type", "application/json")
	req = req.WithContext(middleware.WithClaims(req.Context(), &auth.Claims{TenantID: "club-a"}))
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)

	if rr.Header().Get("X-Job-ID") != "job-1" {
		t.Errorf("expected X-Job-ID header, got %q", rr.Header().Get("X-Job-ID"))
	}
}

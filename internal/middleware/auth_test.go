package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"box-claims-api/internal/authz"
	"box-claims-api/internal/models"
)

const testSecret = "test-secret"

type recordingDirectory struct {
	users []models.User
	err   error
}

func (d *recordingDirectory) UpsertUser(ctx context.Context, user models.User) error {
	d.users = append(d.users, user)
	return d.err
}

func TestAuth_ValidToken(t *testing.T) {
	dir := &recordingDirectory{}
	var got authz.Caller
	handler := Auth(testSecret, dir)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := CallerFromContext(r.Context())
		if !ok {
			t.Error("Expected caller in context")
		}
		got = caller
		w.WriteHeader(http.StatusNoContent)
	}))

	token, err := SignToken(testSecret, authz.Caller{ID: "u1", Username: "ana", IsStaff: true}, time.Hour)
	if err != nil {
		t.Fatalf("Failed to sign token: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", w.Code)
	}
	if got.ID != "u1" || got.Username != "ana" || !got.IsStaff {
		t.Errorf("Unexpected caller: %+v", got)
	}
	if len(dir.users) != 1 || dir.users[0].ID != "u1" {
		t.Errorf("Expected user to be recorded, got %+v", dir.users)
	}
}

func TestAuth_Rejections(t *testing.T) {
	expired, _ := SignToken(testSecret, authz.Caller{ID: "u1"}, -time.Minute)
	wrongKey, _ := SignToken("other-secret", authz.Caller{ID: "u1"}, time.Hour)
	noSubject, _ := SignToken(testSecret, authz.Caller{}, time.Hour)

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong scheme", "Basic abc"},
		{"garbage token", "Bearer not-a-token"},
		{"expired", "Bearer " + expired},
		{"wrong key", "Bearer " + wrongKey},
		{"no subject", "Bearer " + noSubject},
	}

	handler := Auth(testSecret, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("Handler should not be reached")
	}))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusUnauthorized {
				t.Errorf("Expected status 401, got %d", w.Code)
			}
		})
	}
}

func TestAuth_DirectoryFailureIsNotFatal(t *testing.T) {
	dir := &recordingDirectory{err: errors.New("db locked")}
	handler := Auth(testSecret, dir)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	token, _ := SignToken(testSecret, authz.Caller{ID: "u1"}, time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}

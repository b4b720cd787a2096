package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/mwork/credits-api/internal/config"
)

func TestMountCreditRoutes(t *testing.T) {
	root := chi.NewRouter()

	user := chi.NewRouter()
	user.Get("/balance", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	admin := chi.NewRouter()
	admin.Get("/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	func() {
		defer func() {
			if rec := recover(); rec != nil {
				t.Fatalf("mounting credit routes panicked: %v", rec)
			}
		}()
		mountCreditRoutes(root, creditRoutes{User: user, Admin: admin})
	}()

	tests := []struct {
		name string
		path string
		want int
	}{
		{"user route", "/api/v1/credits/balance", http.StatusOK},
		{"admin route", "/api/v1/admin/credits/users/123", http.StatusAccepted},
		{"admin path is not under user router", "/api/v1/credits/users/123", http.StatusNotFound},
		{"unknown", "/api/v1/wallet", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			rr := httptest.NewRecorder()
			root.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Fatalf("expected status %d, got %d", tt.want, rr.Code)
			}
		})
	}
}

func TestNewReceiptArchive_LocalFallback(t *testing.T) {
	dir := t.TempDir()

	archive := newReceiptArchive(&config.Config{ReceiptArchiveDir: dir})
	if archive == nil {
		t.Fatal("expected local archive")
	}

	if archive := newReceiptArchive(&config.Config{}); archive != nil {
		t.Fatalf("expected archiving disabled without a directory, got %T", archive)
	}
}

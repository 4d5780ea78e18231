package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"roomchat/backend/internal/devotp"
)

func TestGetOTP(t *testing.T) {
	store := devotp.NewMemoryStore()
	store.Put(context.Background(), 42, "424242", time.Now().UTC().Add(time.Minute))
	r := chi.NewRouter()
	r.Get("/dev/otp/{pendingId}", NewHandler(store).GetOTP)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"found", "/dev/otp/42", http.StatusOK},
		{"missing", "/dev/otp/43", http.StatusNotFound},
		{"not numeric", "/dev/otp/abc", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status != http.StatusOK {
				return
			}
			var resp otpResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.OTP != "424242" || resp.Note != devOTPNote {
				t.Errorf("unexpected response %+v", resp)
			}
		})
	}
}

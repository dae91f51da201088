package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/tendant/simple-blob/pkg/simpleblob"
	"github.com/tendant/simple-blob/pkg/simpleblob/api"
	"github.com/tendant/simple-blob/pkg/simpleblob/config"
)

func TestBlobRoutesMounted(t *testing.T) {
	cfg, err := config.Load(config.WithUploadFolder("uploads"))
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	svc, err := cfg.BuildService(simpleblob.WithEventSink(simpleblob.NewNoopEventSink()))
	if err != nil {
		t.Fatalf("failed to build service: %v", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(60 * time.Second))
	api.MountBlobRoutes(r, svc, api.NewRateLimiter(time.Minute, 100))

	testCases := []struct {
		method     string
		path       string
		wantStatus int
	}{
		{"GET", "/api/blobs", http.StatusOK},
		{"GET", "/api/blobs/", http.StatusOK},
		{"GET", "/api/blobs/uploads/missing.pdf/tags", http.StatusOK},
		{"GET", "/api/blobs/uploads/missing.pdf", http.StatusInternalServerError},
		{"DELETE", "/api/blobs/uploads/missing.pdf", http.StatusInternalServerError},
		{"POST", "/api/blobs", http.StatusBadRequest},
		{"GET", "/api/other", http.StatusNotFound},
	}

	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			if w.Code != tc.wantStatus {
				t.Errorf("expected status %d, got %d: %s", tc.wantStatus, w.Code, w.Body.String())
			}
		})
	}
}

package main

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"syscall"
	"testing"
	"time"
)

func TestWaitForExitReturnsOnServerError(t *testing.T) {
	t.Parallel()

	serverErr := make(chan error, 1)
	serverErr <- errors.New("listen tcp: address already in use")

	done := make(chan struct{})
	go func() {
		waitForExit(make(chan os.Signal), serverErr)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected waitForExit to return on a server error")
	}
}

func TestWaitForExitReturnsOnSignal(t *testing.T) {
	t.Parallel()

	stop := make(chan os.Signal, 1)
	stop <- syscall.SIGTERM

	done := make(chan struct{})
	go func() {
		waitForExit(stop, make(chan error))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected waitForExit to return on a signal")
	}
}

func TestLoggingMiddlewarePassesThrough(t *testing.T) {
	t.Parallel()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("brew"))
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)

	loggingMiddleware(inner).ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("expected status %d, got %d", http.StatusTeapot, rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "brew" {
		t.Fatalf("expected body %q, got %q", "brew", body)
	}
}

func TestStatusRecorderDefaultsToOK(t *testing.T) {
	t.Parallel()

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("implicit"))
	})

	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	inner.ServeHTTP(rec, req)

	if rec.status != http.StatusOK {
		t.Fatalf("expected recorded status 200, got %d", rec.status)
	}
}

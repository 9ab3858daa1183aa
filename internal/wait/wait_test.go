package wait

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestHTTP_PollsUntilReady(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := HTTP(context.Background(), HTTPConfig{URL: srv.URL + "/health", Timeout: 2 * time.Second, Interval: 20 * time.Millisecond}, nil)
	if err != nil {
		t.Fatalf("HTTP: %v", err)
	}
	if got := atomic.LoadInt32(&calls); got < 4 {
		t.Fatalf("expected at least 4 calls, got %d", got)
	}
}

func TestHTTP_DefaultsAndHead(t *testing.T) {
	var method atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method.Store(r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	if err := HTTP(context.Background(), HTTPConfig{URL: srv.URL}, nil); err != nil {
		t.Fatalf("HTTP: %v", err)
	}
	if m := method.Load(); m != http.MethodGet {
		t.Fatalf("default method = %v", m)
	}
	if err := HTTP(context.Background(), HTTPConfig{URL: srv.URL, Method: "head"}, nil); err != nil {
		t.Fatalf("HTTP: %v", err)
	}
	if m := method.Load(); m != http.MethodHead {
		t.Fatalf("method = %v", m)
	}
}

func TestHTTP_TimeoutReportsLastStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()

	err := HTTP(context.Background(), HTTPConfig{URL: srv.URL, Status: http.StatusNoContent, Timeout: 150 * time.Millisecond, Interval: 20 * time.Millisecond}, nil)
	if err == nil || !strings.Contains(err.Error(), "last=418") {
		t.Fatalf("expected timeout naming the last status, got %v", err)
	}
}

func TestHTTP_EmptyURLIsNoop(t *testing.T) {
	if err := HTTP(context.Background(), HTTPConfig{URL: "  "}, nil); err != nil {
		t.Fatalf("HTTP: %v", err)
	}
}

type flakyPinger struct {
	failures int32
	calls    int32
}

func (p *flakyPinger) Ping(context.Context) error {
	if atomic.AddInt32(&p.calls, 1) <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestDatabase_RetriesUntilReady(t *testing.T) {
	p := &flakyPinger{failures: 2}
	if err := Database(context.Background(), p, time.Second, 10*time.Millisecond, nil); err != nil {
		t.Fatalf("Database: %v", err)
	}
	if p.calls != 3 {
		t.Fatalf("calls = %d", p.calls)
	}
}

func TestDatabase_TimesOut(t *testing.T) {
	p := &flakyPinger{failures: 1 << 20}
	err := Database(context.Background(), p, 80*time.Millisecond, 10*time.Millisecond, nil)
	if err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Fatalf("expected timeout wrapping the ping error, got %v", err)
	}
}

func TestDatabase_ZeroTimeoutPingsOnce(t *testing.T) {
	p := &flakyPinger{failures: 1}
	if err := Database(context.Background(), p, 0, 0, nil); err == nil {
		t.Fatal("expected the single ping to fail")
	}
	if p.calls != 1 {
		t.Fatalf("calls = %d", p.calls)
	}
}

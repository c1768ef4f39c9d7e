package audit

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestHTTPSink_SignedDelivery(t *testing.T) {
	const secret = "whsec_test"
	var (
		mu       sync.Mutex
		body     []byte
		headers  http.Header
		received int
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		received++
		body, _ = io.ReadAll(r.Body)
		headers = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewHTTPSink("webhook", AcceptAll(), server.URL, secret)
	event := mustEvent(t, NewEvent(EventExport).
		WithActor(Actor{Kind: ActorUser, UserID: "U-9"}))

	if err := sink.Publish(context.Background(), &EnrichedEvent{Base: event}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if received != 1 {
		t.Fatalf("received %d requests, want 1", received)
	}
	if got := headers.Get("X-Audit-Event-Id"); got != event.ID {
		t.Errorf("X-Audit-Event-Id = %q, want %q", got, event.ID)
	}
	if headers.Get("X-Audit-Timestamp") == "" {
		t.Error("missing X-Audit-Timestamp")
	}
	if !VerifySignature(body, headers.Get("X-Audit-Signature"), secret) {
		t.Error("signature does not verify against the body")
	}

	var record Record
	if err := json.Unmarshal(body, &record); err != nil {
		t.Fatalf("body is not a record: %v", err)
	}
	if record.ID != event.ID || record.EventType != EventExport {
		t.Errorf("record = %+v", record)
	}
}

func TestHTTPSink_StatusClassification(t *testing.T) {
	tests := []struct {
		status        int
		wantErr       bool
		wantPermanent bool
	}{
		{status: 200, wantErr: false},
		{status: 204, wantErr: false},
		{status: 408, wantErr: true, wantPermanent: false},
		{status: 429, wantErr: true, wantPermanent: false},
		{status: 500, wantErr: true, wantPermanent: false},
		{status: 503, wantErr: true, wantPermanent: false},
		{status: 400, wantErr: true, wantPermanent: true},
		{status: 404, wantErr: true, wantPermanent: true},
		{status: 422, wantErr: true, wantPermanent: true},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tt.status)
		}))
		sink := NewHTTPSink("webhook", AcceptAll(), server.URL, "")
		event := mustEvent(t, NewEvent(EventExport))

		err := sink.Publish(context.Background(), &EnrichedEvent{Base: event})
		if tt.wantErr {
			if err == nil {
				t.Errorf("status %d: expected error", tt.status)
			} else if IsPermanent(err) != tt.wantPermanent {
				t.Errorf("status %d: permanent = %v, want %v", tt.status, IsPermanent(err), tt.wantPermanent)
			}
		} else if err != nil {
			t.Errorf("status %d: unexpected error %v", tt.status, err)
		}
		server.Close()
	}
}

// TestHTTPSink_TransientRecovery runs the full pipeline against an
// endpoint that fails twice before accepting.
func TestHTTPSink_TransientRecovery(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink := NewHTTPSink("webhook", AcceptAll(), server.URL, "")
	svc, err := NewService(ServiceConfig{Retry: fastRetry(5)}, nil, nil, testLogger(), sink)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.Start()
	svc.Submit(mustEvent(t, NewEvent(EventExport)))

	waitFor(t, 2*time.Second, func() bool { return svc.Stats().Sinks[0].Published == 1 })
	if err := svc.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	stats := svc.Stats().Sinks[0]
	if stats.TransientFailures != 2 || stats.PermanentFailures != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestComputeSignature_Stable(t *testing.T) {
	payload := []byte(`{"id":"x"}`)
	sig := ComputeSignature(payload, "secret")
	if sig != ComputeSignature(payload, "secret") {
		t.Error("signature not deterministic")
	}
	if VerifySignature(payload, sig, "other") {
		t.Error("signature verified with the wrong secret")
	}
	if VerifySignature([]byte(`{"id":"y"}`), sig, "secret") {
		t.Error("signature verified for a different payload")
	}
}

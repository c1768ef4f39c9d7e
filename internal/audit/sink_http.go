package audit

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

// ComputeSignature generates the hex HMAC-SHA256 of a webhook body with the
// configured signing secret. Receivers verify it against the
// X-Audit-Signature header.
func ComputeSignature(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether signature matches the payload under the
// shared secret. Comparison is constant time.
func VerifySignature(payload []byte, signature, secret string) bool {
	expected := ComputeSignature(payload, secret)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// HTTPSink POSTs each event as JSON to a configured endpoint. A 2xx
// response acknowledges delivery; 408, 429 and 5xx are transient; any other
// 4xx is permanent. Receivers can use X-Audit-Event-Id as an idempotency
// key under at-least-once delivery.
type HTTPSink struct {
	BaseSink
	name          string
	filter        Filter
	url           string
	signingSecret string
	client        *http.Client
	clock         Clock
}

// NewHTTPSink builds the webhook sink. An empty signingSecret disables the
// signature header.
func NewHTTPSink(name string, filter Filter, url, signingSecret string) *HTTPSink {
	return &HTTPSink{
		name:          name,
		filter:        filter,
		url:           url,
		signingSecret: signingSecret,
		client: &http.Client{
			// Per-attempt deadlines come from the publish context; this is
			// a backstop against a caller without one.
			Timeout: 30 * time.Second,
		},
		clock: SystemClock{},
	}
}

func (s *HTTPSink) Name() string    { return s.name }
func (s *HTTPSink) Filter() *Filter { return &s.filter }

func (s *HTTPSink) Publish(ctx context.Context, event *EnrichedEvent) error {
	body, err := NewRecord(event).MarshalLine()
	if err != nil {
		return PermanentErr("encode record", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return PermanentErr("build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Audit-Event-Id", event.Base.ID)
	req.Header.Set("X-Audit-Timestamp", strconv.FormatInt(s.clock.Now().Unix(), 10))
	if s.signingSecret != "" {
		req.Header.Set("X-Audit-Signature", ComputeSignature(body, s.signingSecret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return Transient("post audit event", err)
	}
	// Drain so the connection is reusable.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return Transient(fmt.Sprintf("endpoint returned %d", resp.StatusCode), nil)
	default:
		return PermanentErr(fmt.Sprintf("endpoint returned %d", resp.StatusCode), nil)
	}
}

// HealthCheck issues a HEAD request; any response at all means the endpoint
// is reachable again.
func (s *HTTPSink) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return PermanentErr("build health request", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Transient("health probe", err)
	}
	resp.Body.Close()
	return nil
}

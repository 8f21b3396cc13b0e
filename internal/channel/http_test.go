package channel

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

func signedRequest(t *testing.T, secret, body string) *http.Request {
	t.Helper()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + body))

	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

func newTestServer(bus *captureBus) *Server {
	return NewServer(ServerConfig{
		Addr:          ":0",
		SigningSecret: testSecret,
		Ingress:       NewIngress(bus, "UBOT", testLogger()),
		Logger:        testLogger(),
	})
}

func TestServer_URLVerification(t *testing.T) {
	srv := newTestServer(&captureBus{})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, signedRequest(t, testSecret, `{"type":"url_verification","challenge":"3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "3eZbrw1aBm2rZgRNFdxV2595E9CY3gmdALWMmHkvFXO7tYXAYM8P" {
		t.Fatalf("challenge not echoed: %q", rec.Body.String())
	}
}

func TestServer_CallbackPublished(t *testing.T) {
	bus := &captureBus{}
	srv := newTestServer(bus)
	rec := httptest.NewRecorder()
	body := string(callback(`{"type":"message","channel":"C1","user":"U1","text":"hi","ts":"1.1"}`))
	srv.Router().ServeHTTP(rec, signedRequest(t, testSecret, body))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(bus.published()) != 1 {
		t.Fatalf("expected event to be published, got %d", len(bus.published()))
	}
}

func TestServer_RejectsBadSignature(t *testing.T) {
	bus := &captureBus{}
	srv := newTestServer(bus)
	rec := httptest.NewRecorder()
	body := string(callback(`{"type":"message","channel":"C1","user":"U1","text":"hi","ts":"1.1"}`))
	srv.Router().ServeHTTP(rec, signedRequest(t, "wrong-secret", body))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if len(bus.published()) != 0 {
		t.Fatal("unsigned events must not reach the bus")
	}
}

func TestServer_RejectsMissingHeaders(t *testing.T) {
	srv := newTestServer(&captureBus{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(`{}`))
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestServer_IgnoresRetries(t *testing.T) {
	bus := &captureBus{}
	srv := newTestServer(bus)
	rec := httptest.NewRecorder()
	req := signedRequest(t, testSecret, string(callback(`{"type":"message","channel":"C1","user":"U1","text":"hi","ts":"1.1"}`)))
	req.Header.Set("X-Slack-Retry-Num", "1")
	req.Header.Set("X-Slack-Retry-Reason", "http_timeout")
	srv.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(bus.published()) != 0 {
		t.Fatal("retried deliveries should be acked without processing")
	}
}

func TestServer_HealthAndMetrics(t *testing.T) {
	srv := newTestServer(&captureBus{})

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("healthz: %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "relaybot_messages_total") {
		t.Fatalf("metrics: %d %s", rec.Code, rec.Body.String())
	}
}

func TestServer_NoEventsRouteInSocketMode(t *testing.T) {
	srv := NewServer(ServerConfig{Addr: ":0", Logger: testLogger()})
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(`{}`)))
	if rec.Code == http.StatusOK {
		t.Fatal("events route should not exist without a signing secret")
	}
}

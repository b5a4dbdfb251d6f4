package gateway

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lkarlslund/vertexgate/pkg/config"
)

func okUpstream(calls *atomic.Int32) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","choices":[]}`))
	})
}

func TestChatForwardsToRegionalHost(t *testing.T) {
	g := newTestGateway(t, okUpstream(nil), nil)
	body := []byte(`{ "model" : "google/gemini-2.5-pro",  "messages": [{"role":"user","content":"hi"}] }`)

	rec := g.do(http.MethodPost, "/v1/chat/completions", body, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	seen := g.transport.requests()
	if len(seen) != 1 {
		t.Fatalf("expected one upstream request, got %d", len(seen))
	}
	want := "https://us-central1-aiplatform.googleapis.com/v1beta1/projects/proj-1/locations/us-central1/endpoints/openapi/chat/completions"
	if seen[0].URL != want {
		t.Fatalf("unexpected upstream url %s", seen[0].URL)
	}
	if seen[0].Method != http.MethodPost {
		t.Fatalf("expected POST upstream, got %s", seen[0].Method)
	}
	if !bytes.Equal(seen[0].Body, body) {
		t.Fatalf("body must be forwarded byte for byte, got %q", seen[0].Body)
	}
}

func TestChatGemini3UsesGlobalHost(t *testing.T) {
	g := newTestGateway(t, okUpstream(nil), nil)
	rec := g.do(http.MethodPost, "/chat/completions", []byte(`{"model":"google/gemini-3-pro-preview","messages":[]}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	seen := g.transport.requests()
	want := "https://aiplatform.googleapis.com/v1beta1/projects/proj-1/locations/global/endpoints/openapi/chat/completions"
	if len(seen) != 1 || seen[0].URL != want {
		t.Fatalf("expected global url, got %+v", seen)
	}
}

func TestChatHeaderForwarding(t *testing.T) {
	g := newTestGateway(t, okUpstream(nil), nil)
	inbound := http.Header{}
	inbound.Set("Authorization", "Bearer client-key")
	inbound.Set("Content-Type", "text/plain")
	inbound.Set("X-Goog-Api-Key", "leak")
	inbound.Set("x-goog-user-project", "someone-else")
	inbound.Set("X-Request-Tag", "abc")
	inbound.Add("Accept", "text/event-stream")

	rec := g.do(http.MethodPost, "/v1/chat/completions", []byte(`{"model":"gemini-2.5-flash"}`), inbound)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	h := g.transport.requests()[0].Header

	if got := h.Values("Authorization"); len(got) != 1 || got[0] != "Bearer upstream-token" {
		t.Fatalf("unexpected authorization %v", got)
	}
	if got := h.Values("X-Goog-User-Project"); len(got) != 1 || got[0] != testProjectID {
		t.Fatalf("unexpected project header %v", got)
	}
	if got := h.Values("Content-Type"); len(got) != 1 || got[0] != "application/json" {
		t.Fatalf("unexpected content-type %v", got)
	}
	if got := h.Get("X-Goog-Api-Key"); got != "" {
		t.Fatalf("x-goog-* headers must not be forwarded, got %q", got)
	}
	if got := h.Get("X-Request-Tag"); got != "abc" {
		t.Fatalf("custom header not forwarded, got %q", got)
	}
	if got := h.Get("Accept"); got != "text/event-stream" {
		t.Fatalf("accept header not forwarded, got %q", got)
	}
}

func TestApplyUpstreamHeaders(t *testing.T) {
	inbound := http.Header{
		"Host":             {"client.local"},
		"Content-Length":   {"12"},
		"X-GOOG-something": {"x"},
		"User-Agent":       {"test-agent"},
	}
	dst := http.Header{}
	applyUpstreamHeaders(dst, inbound, "", "p")

	if _, ok := dst["Authorization"]; ok {
		t.Fatalf("empty authorization must not be sent")
	}
	for _, name := range []string{"Host", "Content-Length", "X-Goog-Something"} {
		if v := dst.Get(name); v != "" {
			t.Fatalf("%s should be dropped, got %q", name, v)
		}
	}
	if dst.Get("User-Agent") != "test-agent" {
		t.Fatalf("expected user agent forwarded")
	}
	if dst.Get("X-Goog-User-Project") != "p" {
		t.Fatalf("expected project header")
	}
}

func TestChatDropsHopByHopHeaders(t *testing.T) {
	g := newTestGateway(t, okUpstream(nil), nil)
	inbound := http.Header{}
	inbound.Set("Connection", "upgrade, X-Hop-Scoped")
	inbound.Set("Upgrade", "h2c")
	inbound.Set("Keep-Alive", "timeout=5")
	inbound.Set("Te", "trailers")
	inbound.Set("Proxy-Connection", "keep-alive")
	inbound.Set("X-Hop-Scoped", "1")
	inbound.Set("X-End-To-End", "1")

	rec := g.do(http.MethodPost, "/v1/chat/completions", []byte(`{"model":"gemini-2.5-flash"}`), inbound)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	h := g.transport.requests()[0].Header
	for _, name := range []string{"Connection", "Upgrade", "Keep-Alive", "Te", "Proxy-Connection", "X-Hop-Scoped"} {
		if v := h.Get(name); v != "" {
			t.Fatalf("%s must not be forwarded, got %q", name, v)
		}
	}
	if h.Get("X-End-To-End") != "1" {
		t.Fatalf("end-to-end header not forwarded")
	}
}

func TestChatStreamsResponse(t *testing.T) {
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("X-Upstream-Trace", "t-1")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("data: {\"id\":\"1\"}\n\n"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	})
	g := newTestGateway(t, upstream, nil)

	rec := g.do(http.MethodPost, "/v1/chat/completions", []byte(`{"model":"gemini-2.5-pro","stream":true}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("unexpected content-type %q", got)
	}
	if got := rec.Header().Get("X-Upstream-Trace"); got != "t-1" {
		t.Fatalf("upstream headers must be copied, got %q", got)
	}
	if !rec.Flushed {
		t.Fatalf("expected response to be flushed")
	}
	want := "data: {\"id\":\"1\"}\n\ndata: [DONE]\n\n"
	if got := rec.Body.String(); got != want {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestChatPassesUpstreamErrorThrough(t *testing.T) {
	upstream := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":429,"message":"quota"}}`))
	})
	g := newTestGateway(t, upstream, nil)

	rec := g.do(http.MethodPost, "/v1/chat/completions", []byte(`{"model":"gemini-2.5-pro"}`), nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected upstream status, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "7" {
		t.Fatalf("expected Retry-After to be copied")
	}
	if got := rec.Body.String(); got != `{"error":{"code":429,"message":"quota"}}` {
		t.Fatalf("unexpected body %q", got)
	}
}

func TestChatRejectsMalformedBody(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   []byte
	}{
		{name: "array", method: http.MethodPost, body: []byte(`[{"model":"gemini"}]`)},
		{name: "invalid json", method: http.MethodPost, body: []byte(`{"model":`)},
		{name: "scalar", method: http.MethodPost, body: []byte(`"hello"`)},
		{name: "empty get", method: http.MethodGet, body: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			g := newTestGateway(t, okUpstream(&calls), nil)
			rec := g.do(tc.method, "/v1/chat/completions", tc.body, nil)
			if rec.Code != http.StatusInternalServerError {
				t.Fatalf("expected 500, got %d", rec.Code)
			}
			if calls.Load() != 0 {
				t.Fatalf("nothing should be forwarded, got %d calls", calls.Load())
			}
		})
	}
}

func TestChatModelNotStringStillForwards(t *testing.T) {
	g := newTestGateway(t, okUpstream(nil), nil)
	rec := g.do(http.MethodPost, "/v1/chat/completions", []byte(`{"model":42}`), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if u := g.transport.requests()[0].URL; !strings.Contains(u, "/locations/us-central1/") {
		t.Fatalf("expected default region, got %s", u)
	}
}

func TestChatBodyTooLarge(t *testing.T) {
	var calls atomic.Int32
	g := newTestGateway(t, okUpstream(&calls), func(c *config.ServerConfig) {
		c.Server.MaxRequestBodyBytes = 16
	})
	rec := g.do(http.MethodPost, "/v1/chat/completions", []byte(`{"model":"gemini-2.5-pro","messages":[]}`), nil)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if calls.Load() != 0 {
		t.Fatalf("oversized body must not be forwarded")
	}
}

func TestChatTokenFailure(t *testing.T) {
	var calls atomic.Int32
	g := newTestGateway(t, okUpstream(&calls), nil)
	g.state.Tokens = failingTokens()

	rec := g.do(http.MethodPost, "/v1/chat/completions", []byte(`{"model":"gemini-2.5-pro"}`), nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "metadata") {
		t.Fatalf("credential error details leaked to client: %q", rec.Body.String())
	}
	if calls.Load() != 0 {
		t.Fatalf("no upstream call expected")
	}
}

func TestChatTransportFailure(t *testing.T) {
	g := newTestGateway(t, okUpstream(nil), nil)
	g.state.HTTP = &http.Client{Transport: failingTransport{}, Timeout: time.Second}

	rec := g.do(http.MethodPost, "/v1/chat/completions", []byte(`{"model":"gemini-2.5-pro"}`), nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
}

func TestRelayResponseWithoutFlusher(t *testing.T) {
	resp := &http.Response{
		StatusCode: http.StatusCreated,
		Header:     http.Header{"X-A": {"1", "2"}},
		Body:       io.NopCloser(strings.NewReader(strings.Repeat("x", streamChunkSize+10))),
	}
	w := &plainWriter{header: http.Header{}}
	if err := relayResponse(w, resp); err != nil {
		t.Fatalf("relay: %v", err)
	}
	if w.status != http.StatusCreated || len(w.header.Values("X-A")) != 2 {
		t.Fatalf("unexpected status/header %d %v", w.status, w.header)
	}
	if w.buf.Len() != streamChunkSize+10 {
		t.Fatalf("unexpected body length %d", w.buf.Len())
	}
}

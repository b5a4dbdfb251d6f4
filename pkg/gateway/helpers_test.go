package gateway

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/lkarlslund/vertexgate/pkg/config"
	"github.com/lkarlslund/vertexgate/pkg/credentials"
)

const testProjectID = "proj-1"

type capturedRequest struct {
	URL    string
	Method string
	Header http.Header
	Body   []byte
}

// rewriteTransport sends every request to target while remembering the URL
// the gateway actually built.
type rewriteTransport struct {
	target *url.URL

	mu   sync.Mutex
	seen []capturedRequest
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var body []byte
	if req.Body != nil {
		body, _ = io.ReadAll(req.Body)
		_ = req.Body.Close()
	}
	rt.mu.Lock()
	rt.seen = append(rt.seen, capturedRequest{
		URL:    req.URL.String(),
		Method: req.Method,
		Header: req.Header.Clone(),
		Body:   body,
	})
	rt.mu.Unlock()

	out := req.Clone(req.Context())
	out.URL.Scheme = rt.target.Scheme
	out.URL.Host = rt.target.Host
	out.Host = ""
	out.Body = io.NopCloser(bytes.NewReader(body))
	out.ContentLength = int64(len(body))
	return http.DefaultTransport.RoundTrip(out)
}

func (rt *rewriteTransport) requests() []capturedRequest {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]capturedRequest(nil), rt.seen...)
}

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func bearerSource(value string) credentials.Source {
	return credentials.SourceFunc(func(context.Context) (credentials.Result, error) {
		h := http.Header{}
		h.Set(credentials.HeaderAuthorization, value)
		return credentials.New(h), nil
	})
}

func testConfig() config.ServerConfig {
	cfg := *config.NewDefaultServerConfig()
	cfg.Backend.ProjectID = testProjectID
	cfg.Backend.Region = "us-central1"
	return cfg
}

type testGateway struct {
	server    *Server
	state     *State
	transport *rewriteTransport
	clock     *fakeClock
}

// newTestGateway wires a gateway whose backend calls, chat and catalog alike,
// land on upstream.
func newTestGateway(t *testing.T, upstream http.Handler, mutate func(*config.ServerConfig)) *testGateway {
	t.Helper()
	backend := httptest.NewServer(upstream)
	t.Cleanup(backend.Close)
	target, err := url.Parse(backend.URL)
	if err != nil {
		t.Fatalf("parse backend url: %v", err)
	}
	rt := &rewriteTransport{target: target}
	clock := newFakeClock()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	state, err := NewState(cfg, bearerSource("Bearer upstream-token"),
		WithHTTPClient(&http.Client{Transport: rt, Timeout: 5 * time.Second}),
		WithClock(clock.Now),
	)
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	return &testGateway{server: NewServer(state), state: state, transport: rt, clock: clock}
}

func (g *testGateway) do(method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	g.server.Handler().ServeHTTP(rec, req)
	return rec
}

func failingTokens() *credentials.TokenManager {
	return credentials.NewTokenManager(credentials.SourceFunc(func(context.Context) (credentials.Result, error) {
		return credentials.Result{}, errors.New("metadata server unreachable")
	}))
}

// plainWriter is a ResponseWriter without http.Flusher.
type plainWriter struct {
	header http.Header
	status int
	buf    bytes.Buffer
}

func (w *plainWriter) Header() http.Header { return w.header }

func (w *plainWriter) WriteHeader(status int) { w.status = status }

func (w *plainWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

package gateway

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/lkarlslund/vertexgate/pkg/cache"
	"github.com/lkarlslund/vertexgate/pkg/catalog"
	"github.com/lkarlslund/vertexgate/pkg/config"
	"github.com/lkarlslund/vertexgate/pkg/credentials"
)

// ModelsCacheKey is the single key the model list is stored under.
const ModelsCacheKey = "vertex_models"

// State is built once at startup and shared by every handler. Only the token
// slot and the model cache synchronize internally.
type State struct {
	Config  config.ServerConfig
	HTTP    *http.Client
	Tokens  *credentials.TokenManager
	Models  *cache.TTLMap[string, []catalog.Model]
	Catalog *catalog.Client

	now func() time.Time
}

type Option func(*State)

// WithHTTPClient replaces the pooled client built from the [http] section.
func WithHTTPClient(c *http.Client) Option {
	return func(s *State) {
		if c != nil {
			s.HTTP = c
		}
	}
}

// WithClock overrides time.Now for cache expiry and model timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		if now != nil {
			s.now = now
		}
	}
}

func NewState(cfg config.ServerConfig, source credentials.Source, opts ...Option) (*State, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if source == nil {
		return nil, fmt.Errorf("credential source is required")
	}
	s := &State{
		Config: cfg,
		Tokens: credentials.NewTokenManager(source),
		Models: cache.NewBoundedTTLMap[string, []catalog.Model](cfg.Models.CacheCapacity),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.HTTP == nil {
		s.HTTP = NewHTTPClient(cfg.HTTP)
	}
	s.Catalog = catalog.NewClient(cfg.Backend.CatalogURL, cfg.Backend.ProjectID, s.HTTP)
	return s, nil
}

// NewHTTPClient builds the shared pooled client. The total timeout covers
// streamed responses too.
func NewHTTPClient(h config.HTTPConfig) *http.Client {
	dialer := &net.Dialer{
		Timeout:   h.ConnectTimeout(),
		KeepAlive: h.KeepAlive(),
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.MaxIdleConnsPerHost = h.MaxIdleConnsPerHost
	transport.IdleConnTimeout = h.IdleConnTimeout()
	transport.ForceAttemptHTTP2 = true
	return &http.Client{
		Timeout:   h.Timeout(),
		Transport: transport,
	}
}

func (s *State) Now() time.Time {
	return s.now()
}

package credentials

import (
	"context"
	"strings"
	"sync"

	"github.com/lkarlslund/vertexgate/pkg/metrics"
	"golang.org/x/net/http/httpguts"
)

// TokenManager caches the last authorization value a Source handed out.
// The slot lock is held only while reading or swapping the value, never
// across the Source call, so concurrent refreshes may both hit the Source.
// Whichever New answer is stored last wins.
type TokenManager struct {
	source Source

	mu   sync.RWMutex
	auth string
}

func NewTokenManager(source Source) *TokenManager {
	return &TokenManager{source: source}
}

// Authorization returns the value for the outbound Authorization header.
// Before the first New result it returns the empty string.
func (m *TokenManager) Authorization(ctx context.Context) (string, error) {
	if m == nil || m.source == nil {
		return "", &Error{Op: "authorization", Err: ErrInvalidResult}
	}
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := m.source.Headers(ctx)
	if err != nil {
		metrics.CredentialRefreshes.WithLabelValues("error").Inc()
		return "", &Error{Op: "fetch", Err: err}
	}
	switch {
	case res.IsNotModified():
		metrics.CredentialRefreshes.WithLabelValues("not_modified").Inc()
		return m.Current(), nil
	case res.IsNew():
		value := strings.TrimSpace(res.Headers().Get(HeaderAuthorization))
		if !httpguts.ValidHeaderFieldValue(value) {
			metrics.CredentialRefreshes.WithLabelValues("error").Inc()
			return "", &Error{Op: "parse", Err: ErrMalformed}
		}
		m.mu.Lock()
		m.auth = value
		m.mu.Unlock()
		metrics.CredentialRefreshes.WithLabelValues("new").Inc()
		return value, nil
	default:
		metrics.CredentialRefreshes.WithLabelValues("error").Inc()
		return "", &Error{Op: "fetch", Err: ErrInvalidResult}
	}
}

// Current returns the cached value without consulting the Source.
func (m *TokenManager) Current() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.auth
}

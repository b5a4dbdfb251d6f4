package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CloudPlatformScope is the OAuth scope Vertex AI accepts.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

var errEmptyAccessToken = errors.New("token source returned an empty access token")

// OAuth2Source turns an oauth2.TokenSource into a Source. It reports New only
// when the access token differs from the one it handed out last.
type OAuth2Source struct {
	ts oauth2.TokenSource

	mu   sync.Mutex
	last string
}

func NewOAuth2Source(ts oauth2.TokenSource) *OAuth2Source {
	return &OAuth2Source{ts: oauth2.ReuseTokenSource(nil, ts)}
}

// NewGoogleSource resolves Application Default Credentials: the
// GOOGLE_APPLICATION_CREDENTIALS file, the gcloud ADC file, then the GCE/GKE
// metadata server.
func NewGoogleSource(ctx context.Context, scopes ...string) (*OAuth2Source, error) {
	if len(scopes) == 0 {
		scopes = []string{CloudPlatformScope}
	}
	creds, err := google.FindDefaultCredentials(ctx, scopes...)
	if err != nil {
		return nil, fmt.Errorf("find default credentials: %w", err)
	}
	return NewOAuth2Source(creds.TokenSource), nil
}

func (s *OAuth2Source) Headers(_ context.Context) (Result, error) {
	tok, err := s.ts.Token()
	if err != nil {
		return Result{}, fmt.Errorf("token: %w", err)
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return Result{}, errEmptyAccessToken
	}
	value := tok.Type() + " " + tok.AccessToken

	s.mu.Lock()
	defer s.mu.Unlock()
	if value == s.last {
		return NotModified(), nil
	}
	s.last = value
	h := http.Header{}
	h.Set(HeaderAuthorization, value)
	return New(h), nil
}

package gateway

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/charmbracelet/log"
	"github.com/lkarlslund/vertexgate/pkg/catalog"
	"github.com/lkarlslund/vertexgate/pkg/metrics"
	"github.com/tidwall/gjson"
)

const (
	streamChunkSize = 32 * 1024

	reservedHeaderPrefix = "x-goog-"
)

// Inbound headers that are never copied: the gateway sets its own, and
// hop-by-hop ones belong to the client connection.
var droppedInboundHeaders = map[string]struct{}{
	"Host":                {},
	"Authorization":       {},
	"Content-Length":      {},
	"Content-Type":        {},
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Connection":    {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	auth, err := s.state.Tokens.Authorization(r.Context())
	if err != nil {
		log.Error("chat: authorization failed", "err", err)
		writeError(w, err)
		return
	}

	body, err := readBody(w, r, s.state.Config.Server.MaxRequestBodyBytes)
	if err != nil {
		log.Warn("chat: rejecting request body", "err", err)
		writeError(w, err)
		return
	}
	model, err := requestModel(body)
	if err != nil {
		log.Warn("chat: rejecting request body", "err", err)
		writeError(w, err)
		return
	}

	region := ResolveRegion(s.state.Config.Backend.Region, model)
	target := ChatCompletionsURL(s.state.Config.Backend, region)
	log.Debug("chat: forwarding", "model", model, "region", region, "url", target)

	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		log.Error("chat: build upstream request", "err", err)
		writeError(w, err)
		return
	}
	applyUpstreamHeaders(req.Header, r.Header, auth, s.state.Config.Backend.ProjectID)

	started := time.Now()
	resp, err := s.state.HTTP.Do(req)
	if err != nil {
		metrics.ObserveUpstream("chat", region, 0, 0)
		err = fmt.Errorf("%w: %v", ErrUpstreamTransport, err)
		log.Error("chat: upstream request failed", "region", region, "err", err)
		writeError(w, err)
		return
	}
	defer resp.Body.Close()
	metrics.ObserveUpstream("chat", region, resp.StatusCode, time.Since(started))
	if resp.StatusCode >= http.StatusBadRequest {
		log.Warn("chat: upstream returned error status", "status", resp.StatusCode, "model", model, "region", region)
	}

	if err := relayResponse(w, resp); err != nil {
		log.Warn("chat: stream interrupted", "model", model, "err", err)
	}
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	if limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, fmt.Errorf("%w: limit %d bytes", ErrBodyTooLarge, maxErr.Limit)
		}
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return body, nil
}

// requestModel checks that body is a JSON object and returns its model
// field, or "" when absent or not a string.
func requestModel(body []byte) (string, error) {
	if !gjson.ValidBytes(body) {
		return "", ErrMalformedInput
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return "", ErrMalformedInput
	}
	model := parsed.Get("model")
	if model.Type != gjson.String {
		return "", nil
	}
	return model.Str, nil
}

// applyUpstreamHeaders writes the gateway's own headers and then copies the
// inbound ones, skipping those the gateway owns and any x-goog-* header.
func applyUpstreamHeaders(dst, inbound http.Header, authorization, projectID string) {
	if authorization != "" {
		dst.Set("Authorization", authorization)
	}
	dst.Set(catalog.HeaderUserProject, projectID)
	dst.Set("Content-Type", "application/json")
	// Headers named in Connection are hop-by-hop as well.
	connScoped := map[string]struct{}{}
	for _, v := range inbound.Values("Connection") {
		for _, f := range strings.Split(v, ",") {
			if f = strings.TrimSpace(f); f != "" {
				connScoped[http.CanonicalHeaderKey(f)] = struct{}{}
			}
		}
	}
	for name, values := range inbound {
		canonical := http.CanonicalHeaderKey(name)
		if _, hop := connScoped[canonical]; hop {
			continue
		}
		if _, drop := droppedInboundHeaders[canonical]; drop {
			continue
		}
		if strings.HasPrefix(strings.ToLower(name), reservedHeaderPrefix) {
			continue
		}
		for _, v := range values {
			dst.Add(canonical, v)
		}
	}
}

// relayResponse copies status and headers verbatim and streams the body with
// a flush after every chunk.
func relayResponse(w http.ResponseWriter, resp *http.Response) error {
	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}
	buf := make([]byte, streamChunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if errors.Is(readErr, io.EOF) {
			return nil
		}
		if readErr != nil {
			return readErr
		}
	}
}

package gateway

import (
	"errors"
	"net/http"

	"github.com/lkarlslund/vertexgate/pkg/catalog"
	"github.com/lkarlslund/vertexgate/pkg/credentials"
)

var (
	ErrMalformedInput    = errors.New("request body is not a JSON object")
	ErrUpstreamTransport = errors.New("upstream transport failure")
	ErrBodyTooLarge      = errors.New("request body too large")
)

// statusForError maps gateway failures to the status the client sees.
// Upstream non-2xx on the models path is a bad gateway; chat statuses never
// reach here since they are relayed verbatim.
func statusForError(err error) int {
	var credErr *credentials.Error
	var statusErr *catalog.StatusError
	var maxErr *http.MaxBytesError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &credErr):
		return http.StatusInternalServerError
	case errors.Is(err, ErrBodyTooLarge), errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrMalformedInput):
		return http.StatusInternalServerError
	case errors.Is(err, ErrUpstreamTransport), errors.Is(err, catalog.ErrTransport):
		return http.StatusBadGateway
	case errors.As(err, &statusErr):
		return http.StatusBadGateway
	case errors.Is(err, catalog.ErrMalformedPayload):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// writeError sends the status text only; details stay in the log.
func writeError(w http.ResponseWriter, err error) int {
	status := statusForError(err)
	http.Error(w, http.StatusText(status), status)
	return status
}

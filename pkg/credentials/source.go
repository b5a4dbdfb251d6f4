// Package credentials resolves the bearer token sent to the backend.
//
// A Source answers "reuse what you have" or "here is a new value" on every
// call; TokenManager keeps the last new value and hands it to concurrent
// request handlers.
package credentials

import (
	"context"
	"net/http"
)

// HeaderAuthorization is the field a Source sets on a New result.
const HeaderAuthorization = "authorization"

type resultKind uint8

const (
	kindNotModified resultKind = iota + 1
	kindNew
)

// Result is the outcome of a Source lookup. The zero value is invalid; build
// one with NotModified or New.
type Result struct {
	kind    resultKind
	headers http.Header
}

// NotModified tells the caller to keep using the value it already holds.
func NotModified() Result {
	return Result{kind: kindNotModified}
}

// New carries replacement headers; the caller must drop its cached value.
func New(headers http.Header) Result {
	return Result{kind: kindNew, headers: headers.Clone()}
}

func (r Result) IsNotModified() bool { return r.kind == kindNotModified }

func (r Result) IsNew() bool { return r.kind == kindNew }

// Headers returns the headers of a New result, nil otherwise.
func (r Result) Headers() http.Header {
	if r.kind != kindNew {
		return nil
	}
	return r.headers
}

// Source produces authorization headers for outbound backend calls.
type Source interface {
	Headers(ctx context.Context) (Result, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context) (Result, error)

func (f SourceFunc) Headers(ctx context.Context) (Result, error) {
	return f(ctx)
}

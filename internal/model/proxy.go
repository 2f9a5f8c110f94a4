// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest represents an inbound client request to be translated
// into an origin request. Its lifetime is one request/response cycle.
type ProxyRequest struct {
	Ctx      context.Context
	Method   string
	Path     string
	RawQuery string
	Header   http.Header
	Body     io.ReadCloser
}

// OutboundRequest is the origin-side request built from a ProxyRequest.
// A fresh value is constructed per inbound request and never reused.
type OutboundRequest struct {
	Method string
	URL    string
	Host   string
	Header http.Header
	Body   io.Reader
}

// ProxyResponse represents the origin response to be relayed back.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

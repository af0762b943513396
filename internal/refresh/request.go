package refresh

import (
	"net/http"
	"net/url"

	"github.com/MrEthical07/goAuthClient/internal/transport"
)

// Request describes one logical request. It is passed by value; a replay is a
// copy with Attempt incremented.
type Request struct {
	ID      string
	Method  string
	Path    string
	Query   url.Values
	Header  http.Header
	Body    any
	Attempt int
}

// Retried reports whether the request already went through a refresh cycle.
func (r Request) Retried() bool {
	return r.Attempt > 0
}

func (r Request) retry() Request {
	r.Attempt++
	return r
}

// attach builds the wire request, adding the bearer credential unless the
// caller supplied an explicit Authorization header.
func (r Request) attach(token string) transport.Request {
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if header.Get("Authorization") == "" && token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return transport.Request{
		Method: r.Method,
		Path:   r.Path,
		Query:  r.Query,
		Header: header,
		Body:   r.Body,
	}
}

package actor

import "net/url"

// HTTPRequest is a request routed to an actor's HTTP handler map via the
// transport's "/<actor>/<path>" multiplexing.
type HTTPRequest struct {
	Method string
	Path   string
	Query  url.Values
	Body   []byte
}

// HTTPResponse is what an HTTP handler produces; the transport writes it
// back on the originating connection.
type HTTPResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// HTTPHandler runs on the owning actor's goroutine, so it may read actor
// state without synchronization.
type HTTPHandler func(ctx *Context, req *HTTPRequest) (*HTTPResponse, error)

// OK builds a 200 response.
func OK(contentType string, body []byte) *HTTPResponse {
	return &HTTPResponse{Status: 200, ContentType: contentType, Body: body}
}

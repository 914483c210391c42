// Package httpmw adapts the generic rate limit pipeline to net/http handler
// chains. The request type is *http.Request and the response type is
// *Response, a buffered response that is flushed to the real writer once the
// pipeline completes. Buffering is what lets success and unruled handlers
// mutate headers after the downstream handler ran, matching the pipeline's
// ordering; it makes the adapter a fit for API-sized responses, not for
// streaming bodies.
package httpmw

import (
	"bytes"
	"net/http"
)

// Response is a buffered http.ResponseWriter. The downstream handler writes
// into it; pipeline handlers may still adjust status and headers afterwards,
// until Flush copies everything to the real writer.
type Response struct {
	status int
	header http.Header
	body   bytes.Buffer
}

// NewResponse creates an empty buffered response.
func NewResponse() *Response {
	return &Response{header: make(http.Header)}
}

// Header implements http.ResponseWriter.
func (r *Response) Header() http.Header {
	return r.header
}

// WriteHeader implements http.ResponseWriter. Like the real writer, only the
// first call sticks.
func (r *Response) WriteHeader(status int) {
	if r.status == 0 {
		r.status = status
	}
}

// Write implements http.ResponseWriter.
func (r *Response) Write(b []byte) (int, error) {
	return r.body.Write(b)
}

// SetStatus overrides the buffered status code. Unlike WriteHeader it always
// takes effect; it exists for pipeline handlers that shape an already
// produced response.
func (r *Response) SetStatus(status int) {
	r.status = status
}

// Status returns the buffered status code, defaulting to 200 like net/http.
func (r *Response) Status() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// Flush copies status, headers and body to the real writer. Call it exactly
// once, after the pipeline returned.
func (r *Response) Flush(w http.ResponseWriter) error {
	for k, vs := range r.header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(r.Status())
	_, err := w.Write(r.body.Bytes())
	return err
}

package cqlstore

import "net/http"

// HTTPSink adapts an http.ResponseWriter to Sink
type HTTPSink struct {
	w http.ResponseWriter
}

// NewHTTPSink wraps w
func NewHTTPSink(w http.ResponseWriter) *HTTPSink {
	return &HTTPSink{w: w}
}

func (s *HTTPSink) SetContentType(contentType string) {
	s.w.Header().Set("Content-Type", contentType)
}

func (s *HTTPSink) Write(p []byte) (int, error) {
	return s.w.Write(p)
}

func (s *HTTPSink) NotFound() {
	http.Error(s.w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
}

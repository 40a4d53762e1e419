package idempotency

import (
	"bytes"
	"net/http"
)

// capture buffers a handler's response so it can be stored before the client sees it.
type capture struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newCapture() *capture {
	return &capture{header: make(http.Header), status: http.StatusOK}
}

func (c *capture) Header() http.Header { return c.header }

func (c *capture) WriteHeader(status int) {
	if status > 0 {
		c.status = status
	}
}

func (c *capture) Write(p []byte) (int, error) {
	return c.body.Write(p)
}

func (c *capture) flush(w http.ResponseWriter) {
	dst := w.Header()
	for name, values := range c.header {
		dst[name] = values
	}
	w.WriteHeader(c.status)
	if c.body.Len() > 0 {
		_, _ = w.Write(c.body.Bytes())
	}
}

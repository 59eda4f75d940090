package httpclient

import (
	"bytes"
	"io"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	RequestTracing bool
	Timeout        time.Duration
}

func NewConfig() (Config, error) {
	c := Config{
		Timeout: 30 * time.Second,
	}

	if os.Getenv("DAYBREAK_REQUEST_TRACING") != "" {
		c.RequestTracing = true
	}

	return c, nil
}

// tracingTransport buffers response bodies so they can be logged when request tracing is enabled.
type tracingTransport struct {
	l    *zap.Logger
	c    Config
	next http.RoundTripper
}

func (t *tracingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r, e := t.next.RoundTrip(req)
	if r != nil && t.c.RequestTracing {
		data, _ := io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewBuffer(data))

		t.l.Debug("request complete",
			zap.String("method", req.Method),
			zap.String("url", req.URL.Redacted()),
			zap.Int("status", r.StatusCode),
			zap.String("payload", string(data)),
		)
	}
	return r, e
}

// New returns the *http.Client shared by outbound API clients.
func New(c Config, l *zap.Logger) *http.Client {
	return &http.Client{
		Timeout: c.Timeout,
		Transport: &tracingTransport{
			l:    l.Named("http-client"),
			c:    c,
			next: http.DefaultTransport,
		},
	}
}

package transport

import (
	"log/slog"
	"net/http"
)

const (
	userAgent = "upload-manager/0.1"

	// maxResponseBytes bounds how much of a reply is buffered for decoding.
	maxResponseBytes = 10 << 20
)

// Client issues upload requests. It is safe for concurrent use; each
// prepared request carries its own cancellation and timeouts.
type Client struct {
	httpClient *http.Client
	jar        http.CookieJar
	logger     *slog.Logger
}

// NewClient creates a transport client. httpClient defaults to
// http.DefaultClient; its own Jar is ignored so that cookies only flow for
// requests sent with Options.WithCredentials, through jar. jar may be nil.
func NewClient(httpClient *http.Client, jar http.CookieJar, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	hc := *httpClient
	hc.Jar = nil

	return &Client{
		httpClient: &hc,
		jar:        jar,
		logger:     logger,
	}
}

// Prepare builds an unsent request. Nothing happens on the wire until
// Send is called on the returned handle.
func (c *Client) Prepare(url string, body Body, opts Options) Handle {
	return &Request{
		client: c,
		url:    url,
		body:   body,
		opts:   opts.withDefaults(),
	}
}

package stream

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// Dialer opens a live byte stream. Closing the returned body unblocks any
// pending Read.
type Dialer interface {
	Dial(ctx context.Context, url string) (io.ReadCloser, error)
}

// HTTPDialer streams the body of a GET request.
type HTTPDialer struct {
	Client    *http.Client
	UserAgent string
}

// Dial implements Dialer. The request lives as long as ctx.
func (d HTTPDialer) Dial(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid stream URL %s: %w", url, err)
	}

	ua := d.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	// Interleaved ICY metadata would corrupt the raw audio bytes.
	req.Header.Set("Icy-MetaData", "0")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("failed to connect to %s: %s", url, resp.Status)
	}
	return resp.Body, nil
}

package delivery

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
)

// ContentType matches the blob type pages use for beacon payloads.
const ContentType = "application/x-www-form-urlencoded"

// Transport performs one transmission of payload to url.
type Transport interface {
	Send(ctx context.Context, url string, payload []byte) error
}

// HTTPTransport posts payloads over HTTP.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport returns a transport using client, or http.DefaultClient
// when client is nil.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{client: client}
}

func (t *HTTPTransport) Send(ctx context.Context, url string, payload []byte) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	request.Header.Set("Content-Type", ContentType)

	response, err := t.client.Do(request)
	if err != nil {
		return err
	}
	defer response.Body.Close()
	_, _ = io.Copy(io.Discard, response.Body)

	if response.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("collector responded %s", response.Status)
	}
	return nil
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, url string, payload []byte) error

func (f TransportFunc) Send(ctx context.Context, url string, payload []byte) error {
	return f(ctx, url, payload)
}

package sender

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// maxBodyBytes bounds how much of a response body is kept
const maxBodyBytes = 64 * 1024

// HTTPConfig holds the configuration needed to create an HTTP sender
type HTTPConfig struct {
	URL     string
	Token   string
	Headers map[string]string
}

// HTTPSender posts JSON bodies to a serving endpoint
type HTTPSender struct {
	url        string
	header     http.Header
	httpClient *http.Client
}

// NewHTTPSender creates a new HTTP sender
func NewHTTPSender(cfg HTTPConfig) (*HTTPSender, error) {
	if cfg.URL == "" {
		return nil, errors.New("target url is required")
	}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")
	for k, v := range cfg.Headers {
		header.Set(k, v)
	}
	if cfg.Token != "" {
		header.Set("Authorization", "Bearer "+cfg.Token)
	}

	// One request in flight at a time, keep the connection warm between iterations
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        16,
		MaxIdleConnsPerHost: 16,
		IdleConnTimeout:     90 * time.Second,
		DisableKeepAlives:   false,
	}

	return &HTTPSender{
		url:        cfg.URL,
		header:     header,
		httpClient: &http.Client{Transport: transport},
	}, nil
}

// Send posts body and returns status and body; the deadline comes from ctx
func (s *HTTPSender) Send(ctx context.Context, body []byte) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header = s.header.Clone()

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	// Drain the rest so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)
	if err != nil {
		return Response{StatusCode: resp.StatusCode}, fmt.Errorf("failed to read response: %w", err)
	}

	return Response{StatusCode: resp.StatusCode, Body: respBody}, nil
}

// CloseIdleConnections releases pooled connections
func (s *HTTPSender) CloseIdleConnections() {
	s.httpClient.CloseIdleConnections()
}

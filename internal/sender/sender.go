package sender

import (
	"context"
	"fmt"
	"strings"
)

// Response is what came back from the endpoint
type Response struct {
	StatusCode int
	Body       []byte
}

// Success reports whether the status code is in the 2xx range
func (r Response) Success() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Sender sends one request body and returns the endpoint's response. A
// returned error means no response was received.
type Sender interface {
	Send(ctx context.Context, body []byte) (Response, error)
}

// Func adapts a plain function to Sender
type Func func(ctx context.Context, body []byte) (Response, error)

// Send calls f
func (f Func) Send(ctx context.Context, body []byte) (Response, error) {
	return f(ctx, body)
}

// ServingURL builds the invocations URL of a model serving endpoint
func ServingURL(host, endpointName string) (string, error) {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if host == "" {
		return "", fmt.Errorf("serving host is empty")
	}
	if endpointName == "" {
		return "", fmt.Errorf("serving endpoint name is empty")
	}
	return fmt.Sprintf("%s/serving-endpoints/%s/invocations", host, endpointName), nil
}

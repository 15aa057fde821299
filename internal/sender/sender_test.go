package sender

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServingURL(t *testing.T) {
	u, err := ServingURL("https://dbc-123.cloud.databricks.com/", "energy-prod")
	require.NoError(t, err)
	assert.Equal(t, "https://dbc-123.cloud.databricks.com/serving-endpoints/energy-prod/invocations", u)

	_, err = ServingURL("", "energy-prod")
	assert.Error(t, err)

	_, err = ServingURL("https://host", "")
	assert.Error(t, err)
}

func TestHTTPSenderPostsJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "probe", r.Header.Get("X-Client"))

		b, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"a":1}`, string(b))

		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"predictions":[0.5]}`))
	}))
	defer server.Close()

	s, err := NewHTTPSender(HTTPConfig{URL: server.URL, Token: "secret", Headers: map[string]string{"X-Client": "probe"}})
	require.NoError(t, err)
	defer s.CloseIdleConnections()

	resp, err := s.Send(context.Background(), []byte(`{"a":1}`))
	require.NoError(t, err)
	assert.True(t, resp.Success())
	assert.Equal(t, `{"predictions":[0.5]}`, string(resp.Body))
}

func TestHTTPSenderReturnsNon2xxAsResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`missing column radius`))
	}))
	defer server.Close()

	s, err := NewHTTPSender(HTTPConfig{URL: server.URL})
	require.NoError(t, err)

	resp, err := s.Send(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	assert.False(t, resp.Success())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "missing column radius", string(resp.Body))
}

func TestHTTPSenderTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	s, err := NewHTTPSender(HTTPConfig{URL: server.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = s.Send(ctx, []byte(`{}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewHTTPSenderRequiresURL(t *testing.T) {
	_, err := NewHTTPSender(HTTPConfig{})
	assert.Error(t, err)
}

type fakeInvoker struct {
	input *bedrockruntime.InvokeModelInput
	out   *bedrockruntime.InvokeModelOutput
	err   error
}

func (f *fakeInvoker) InvokeModel(_ context.Context, params *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = params
	return f.out, f.err
}

type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string       { return e.err.Error() }
func (e *statusError) Unwrap() error       { return e.err }
func (e *statusError) HTTPStatusCode() int { return e.status }

func TestBedrockSenderSuccess(t *testing.T) {
	fake := &fakeInvoker{out: &bedrockruntime.InvokeModelOutput{Body: []byte(`{"ok":true}`)}}
	s, err := NewBedrockSenderWithClient(fake, "anthropic.claude-3-haiku")
	require.NoError(t, err)

	resp, err := s.Send(context.Background(), []byte(`{"x":1}`))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "anthropic.claude-3-haiku", *fake.input.ModelId)
	assert.Equal(t, []byte(`{"x":1}`), fake.input.Body)
}

func TestBedrockSenderMapsServiceErrors(t *testing.T) {
	apiErr := &smithy.GenericAPIError{Code: "ThrottlingException", Message: "Too many requests"}
	fake := &fakeInvoker{err: &statusError{status: 429, err: apiErr}}
	s, err := NewBedrockSenderWithClient(fake, "model")
	require.NoError(t, err)

	resp, err := s.Send(context.Background(), []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 429, resp.StatusCode)
	assert.Equal(t, "ThrottlingException: Too many requests", string(resp.Body))
}

func TestBedrockSenderTransportError(t *testing.T) {
	fake := &fakeInvoker{err: errors.New("dial tcp: connection refused")}
	s, err := NewBedrockSenderWithClient(fake, "model")
	require.NoError(t, err)

	_, err = s.Send(context.Background(), []byte(`{}`))
	assert.Error(t, err)
}

func TestCategorizeErrorFallback(t *testing.T) {
	assert.Equal(t, "ThrottlingError", categorizeError(errors.New("Throttling: rate exceeded")))
	assert.Equal(t, "TimeoutError", categorizeError(errors.New("i/o timeout")))
}

func TestNewBedrockSenderValidation(t *testing.T) {
	_, err := NewBedrockSenderWithClient(nil, "model")
	assert.Error(t, err)

	_, err = NewBedrockSenderWithClient(&fakeInvoker{}, "")
	assert.Error(t, err)
}

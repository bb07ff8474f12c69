package teams

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func graphStub(t *testing.T, status int, header map[string]string, body string) *GraphClient {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		for k, v := range header {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return NewGraphClient(srv.Client(), srv.URL)
}

func TestNormalizeSuccess(t *testing.T) {
	c := graphStub(t, http.StatusCreated, nil, `{"id":"msg-1"}`)
	body, err := c.GetResource(context.Background(), c.base+"/x", "tok")
	require.NoError(t, err)
	assert.Equal(t, "msg-1", body["id"])
}

func TestNormalizeMalformedSuccessIsEmpty(t *testing.T) {
	c := graphStub(t, http.StatusOK, nil, `not json`)
	body, err := c.GetResource(context.Background(), c.base+"/x", "tok")
	require.NoError(t, err)
	assert.Empty(t, body)
}

func TestNormalizeErrorMessages(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "graph error object", status: 403, body: `{"error":{"code":"Forbidden","message":"no access"}}`, want: "no access"},
		{name: "top level message", status: 400, body: `{"message":"bad thing"}`, want: "bad thing"},
		{name: "reason phrase", status: 404, body: ``, want: "Not Found"},
		{name: "malformed body", status: 500, body: `<html>`, want: "Internal Server Error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := graphStub(t, tt.status, nil, tt.body)
			_, err := c.GetResource(context.Background(), c.base+"/x", "tok")
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.want, apiErr.Message)
			assert.Equal(t, tt.status, apiErr.Status)
			assert.Nil(t, apiErr.RetryAfter)
		})
	}
}

func TestNormalizeRetryAfter(t *testing.T) {
	c := graphStub(t, http.StatusTooManyRequests, map[string]string{"Retry-After": "60"}, `{}`)
	_, err := c.PostMessage(context.Background(), c.base+"/x", "tok", MessagePayload{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.NotNil(t, apiErr.RetryAfter)
	assert.Equal(t, 60, *apiErr.RetryAfter)
	assert.Equal(t, http.StatusTooManyRequests, apiErr.HTTPStatus())
}

func TestRetryAfterIgnoresDates(t *testing.T) {
	h := http.Header{}
	h.Set("Retry-After", "Wed, 21 Oct 2015 07:28:00 GMT")
	assert.Nil(t, retryAfter(h))
}

func TestAPIErrorStatusFallback(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, (&APIError{Status: 302}).HTTPStatus())
	assert.Equal(t, http.StatusServiceUnavailable, (&APIError{Status: 503}).HTTPStatus())
}

func TestGraphTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewGraphClient(nil, url)
	_, err := c.GetResource(context.Background(), url+"/x", "tok")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
}

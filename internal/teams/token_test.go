package teams

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testCreds = Credentials{TenantID: "tenant-1", ClientID: "client-1", ClientSecret: "s3cret"}

func TestAcquireTokenMissingCredentials(t *testing.T) {
	ts := NewTokenSource(nil, "http://127.0.0.1:1")
	_, err := ts.AcquireToken(context.Background(), Credentials{TenantID: "t", ClientID: "c"})
	var cfgErr *ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "missing Teams OAuth credentials", cfgErr.Reason)
}

func TestAcquireTokenSendsClientCredentials(t *testing.T) {
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/tenant-1/oauth2/v2.0/token", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "s3cret", r.PostForm.Get("client_secret"))
		assert.Equal(t, GraphScope, r.PostForm.Get("scope"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc","token_type":"Bearer","expires_in":3599}`))
	}))
	defer srv.Close()

	ts := NewTokenSource(srv.Client(), srv.URL)
	for range 2 {
		tok, err := ts.AcquireToken(context.Background(), testCreds)
		require.NoError(t, err)
		assert.Equal(t, "abc", tok)
	}
	assert.Equal(t, 2, hits, "tokens are not cached")
}

func TestAcquireTokenErrors(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
		body        string
		want        string
		wantStatus  int
	}{
		{name: "description", status: 401, body: `{"error":"invalid_client","error_description":"bad secret"}`, want: "bad secret", wantStatus: 401},
		{name: "description as text", status: 400, contentType: "text/plain", body: `{"error":"invalid_scope","error_description":"bad scope"}`, want: "bad scope", wantStatus: 400},
		{name: "no description", status: 400, body: `{}`, want: "failed to obtain access token: Bad Request", wantStatus: 400},
		{name: "throttled", status: 429, body: `{}`, want: "failed to obtain access token: Too Many Requests", wantStatus: 429},
		{name: "malformed", status: 500, body: `oops`, want: "failed to obtain access token: Internal Server Error", wantStatus: 500},
		{name: "no token", status: 200, body: `{"token_type":"Bearer"}`, want: "missing access_token in response", wantStatus: 502},
		{name: "malformed success", status: 200, body: `oops`, want: "missing access_token in response", wantStatus: 502},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				ct := tt.contentType
				if ct == "" {
					ct = "application/json"
				}
				w.Header().Set("Content-Type", ct)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewTokenSource(srv.Client(), srv.URL).AcquireToken(context.Background(), testCreds)
			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.want, apiErr.Message)
			assert.Equal(t, tt.wantStatus, apiErr.Status)
			assert.Nil(t, apiErr.RetryAfter)
			assert.NotContains(t, err.Error(), "s3cret")
		})
	}
}

func TestAcquireTokenTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := NewTokenSource(nil, base).AcquireToken(context.Background(), testCreds)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Contains(t, apiErr.Message, "token request failed")
	assert.NotContains(t, apiErr.Message, "s3cret")
}

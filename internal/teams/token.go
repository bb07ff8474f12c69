package teams

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	DefaultLoginBaseURL = "https://login.microsoftonline.com"
	GraphScope          = "https://graph.microsoft.com/.default"

	maxBodyBytes = 1 << 20
)

// Credentials identify the relay's app registration. Never log them.
type Credentials struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

func (c Credentials) complete() bool {
	return strings.TrimSpace(c.TenantID) != "" &&
		strings.TrimSpace(c.ClientID) != "" &&
		strings.TrimSpace(c.ClientSecret) != ""
}

// TokenSource exchanges client credentials for a Graph bearer token.
// One request per call; tokens are not cached.
type TokenSource struct {
	http      *http.Client
	loginBase string
}

func NewTokenSource(hc *http.Client, loginBase string) *TokenSource {
	if hc == nil {
		hc = http.DefaultClient
	}
	loginBase = strings.TrimRight(strings.TrimSpace(loginBase), "/")
	if loginBase == "" {
		loginBase = DefaultLoginBaseURL
	}
	return &TokenSource{http: hc, loginBase: loginBase}
}

func (s *TokenSource) config(creds Credentials) *clientcredentials.Config {
	return &clientcredentials.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", s.loginBase, url.PathEscape(strings.TrimSpace(creds.TenantID))),
		Scopes:       []string{GraphScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
}

// AcquireToken calls Config.Token directly, which always hits the endpoint.
func (s *TokenSource) AcquireToken(ctx context.Context, creds Credentials) (string, error) {
	if !creds.complete() {
		return "", &ConfigError{Reason: "missing Teams OAuth credentials"}
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, s.http)
	tok, err := s.config(creds).Token(ctx)
	if err != nil {
		return "", tokenError(err)
	}
	if strings.TrimSpace(tok.AccessToken) == "" {
		return "", &APIError{Message: "missing access_token in response", Status: http.StatusBadGateway}
	}
	return tok.AccessToken, nil
}

func tokenError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		status := http.StatusBadGateway
		if re.Response != nil && (re.Response.StatusCode < 200 || re.Response.StatusCode > 299) {
			status = re.Response.StatusCode
		}
		msg := strings.TrimSpace(re.ErrorDescription)
		if msg == "" {
			msg = describeTokenBody(re.Body)
		}
		if msg == "" {
			msg = "failed to obtain access token: " + http.StatusText(status)
		}
		return &APIError{Message: msg, Status: status}
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		return &APIError{Message: "token request failed: " + ue.Err.Error(), Status: http.StatusBadGateway}
	}
	// 2xx that did not parse or carried no access_token.
	return &APIError{Message: "missing access_token in response", Status: http.StatusBadGateway}
}

// describeTokenBody reads error_description from a JSON body served under a
// non-JSON content type, which oauth2 does not decode.
func describeTokenBody(body []byte) string {
	if len(body) == 0 || len(body) > maxBodyBytes {
		return ""
	}
	var v struct {
		ErrorDescription string `json:"error_description"`
	}
	if json.Unmarshal(body, &v) != nil {
		return ""
	}
	return strings.TrimSpace(v.ErrorDescription)
}

package teams

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"teamsrelay/internal/eventbus"
	logx "teamsrelay/pkg/logx"
)

// fakeTeams serves both the token endpoint and the Graph endpoints.
type fakeTeams struct {
	mu       sync.Mutex
	tokenHit int
	posts    []captured
	graph    http.HandlerFunc
}

type captured struct {
	Path    string
	Auth    string
	Payload MessagePayload
}

func newFakeTeams(t *testing.T, graph http.HandlerFunc) (*fakeTeams, *httptest.Server) {
	t.Helper()
	f := &fakeTeams{graph: graph}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/oauth2/v2.0/token") {
			f.mu.Lock()
			f.tokenHit++
			f.mu.Unlock()
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"graph-token"}`))
			return
		}
		if r.Method == http.MethodPost {
			var p MessagePayload
			_ = json.NewDecoder(r.Body).Decode(&p)
			f.mu.Lock()
			f.posts = append(f.posts, captured{Path: r.URL.EscapedPath(), Auth: r.Header.Get("Authorization"), Payload: p})
			f.mu.Unlock()
		}
		f.graph(w, r)
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestRelay(srv *httptest.Server, creds Credentials, bus eventbus.Bus) *Relay {
	return New(Settings{
		Credentials:  creds,
		Defaults:     Defaults{TeamID: "team-default", ChannelID: "chan-default", Format: FormatText},
		GraphBaseURL: srv.URL + "/v1.0",
		LoginBaseURL: srv.URL,
	}, srv.Client(), logx.Nop(), bus)
}

func TestNotifyChannelSuccess(t *testing.T) {
	f, srv := newFakeTeams(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"msg-789"}`))
	})
	bus := eventbus.New()
	sent, unsub := bus.Subscribe(1, EventMessageSent)
	defer unsub()

	r := newTestRelay(srv, testCreds, bus)
	res := r.Notify(ContextWithRequestID(context.Background(), "req-1"), NotificationRequest{
		ChannelType: TypeChannel,
		TeamID:      "team-1",
		ChannelID:   "19:chan",
		Subject:     "Deploy",
		Format:      FormatMarkdown,
		Message:     "**done**",
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, "msg-789", res.MessageID)
	assert.Regexp(t, regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}Z$`), res.DeliveredAt)
	assert.Empty(t, res.Error)

	require.Len(t, f.posts, 1)
	assert.Equal(t, "/v1.0/teams/team-1/channels/19:chan/messages", f.posts[0].Path)
	assert.Equal(t, "Bearer graph-token", f.posts[0].Auth)
	assert.Equal(t, "Deploy", f.posts[0].Payload.Subject)
	assert.Equal(t, MessageBody{ContentType: ContentHTML, Content: "<strong>done</strong>"}, f.posts[0].Payload.Body)

	select {
	case e := <-sent:
		d, ok := e.Data.(Delivery)
		require.True(t, ok)
		assert.Equal(t, "req-1", d.RequestID)
		assert.Equal(t, "msg-789", d.MessageID)
		assert.True(t, d.HasSubject)
	case <-time.After(time.Second):
		t.Fatal("no delivery event")
	}
}

func TestNotifyChatUsesDefaultFormat(t *testing.T) {
	f, srv := newFakeTeams(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"m-2"}`))
	})
	r := newTestRelay(srv, testCreds, nil)

	res := r.Notify(context.Background(), NotificationRequest{ChannelType: TypeChat, ChatID: "19:chat", Message: "<b>x</b>"})
	require.True(t, res.Success)
	require.Len(t, f.posts, 1)
	assert.Equal(t, "/v1.0/chats/19:chat/messages", f.posts[0].Path)
	assert.Equal(t, ContentText, f.posts[0].Payload.Body.ContentType)
	assert.Equal(t, "&lt;b&gt;x&lt;/b&gt;", f.posts[0].Payload.Body.Content)
}

func TestNotifyInvalidRequestMakesNoCalls(t *testing.T) {
	f, srv := newFakeTeams(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("graph must not be called")
	})
	r := newTestRelay(srv, testCreds, nil)

	res := r.Notify(context.Background(), NotificationRequest{ChannelType: TypeChat, Message: "hi"})
	assert.False(t, res.Success)
	assert.Equal(t, "chat_id is required", res.Error)
	assert.Equal(t, KindInvalidRequest, res.Kind)
	assert.Equal(t, http.StatusBadRequest, res.Status)
	assert.Zero(t, f.tokenHit)
}

func TestNotifyMissingCredentials(t *testing.T) {
	_, srv := newFakeTeams(t, func(w http.ResponseWriter, r *http.Request) {})
	r := newTestRelay(srv, Credentials{}, nil)

	res := r.Notify(context.Background(), NotificationRequest{ChannelType: TypeChat, ChatID: "c", Message: "hi"})
	assert.False(t, res.Success)
	assert.Equal(t, KindConfiguration, res.Kind)
	assert.Equal(t, "missing Teams OAuth credentials", res.Error)
}

func TestNotifyThrottled(t *testing.T) {
	_, srv := newFakeTeams(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":"TooManyRequests","message":"slow down"}}`))
	})
	bus := eventbus.New()
	failed, unsub := bus.Subscribe(1, EventMessageFailed)
	defer unsub()
	r := newTestRelay(srv, testCreds, bus)

	res := r.Notify(context.Background(), NotificationRequest{ChannelType: TypeChat, ChatID: "c", Message: "hi"})
	assert.False(t, res.Success)
	assert.Equal(t, "Teams API error: slow down", res.Error)
	require.NotNil(t, res.RetryAfter)
	assert.Equal(t, 60, *res.RetryAfter)
	assert.Equal(t, http.StatusTooManyRequests, res.Status)
	assert.Equal(t, KindRemote, res.Kind)

	e := <-failed
	assert.Equal(t, KindRemote, e.Data.(Failure).Kind)
}

func TestNotifyRecoversPanic(t *testing.T) {
	_, srv := newFakeTeams(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"x"}`))
	})
	r := newTestRelay(srv, testCreds, nil)
	r.now = func() time.Time { panic("clock broke") }

	res := r.Notify(context.Background(), NotificationRequest{ChannelType: TypeChat, ChatID: "c", Message: "hi"})
	assert.False(t, res.Success)
	assert.Equal(t, "internal server error", res.Error)
	assert.Equal(t, KindInternal, res.Kind)
}

func TestValidateNotFound(t *testing.T) {
	_, srv := newFakeTeams(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NotFound","message":"Channel not found"}}`))
	})
	r := newTestRelay(srv, testCreds, nil)

	res := r.Validate(context.Background(), ValidationRequest{ChannelType: TypeChannel, TeamID: "t", ChannelID: "missing"})
	assert.False(t, res.Valid)
	assert.Equal(t, "Teams API error: Channel not found", res.Error)
	assert.Equal(t, KindRemote, res.Kind)
}

func TestValidateIsIdempotent(t *testing.T) {
	var gets int
	var mu sync.Mutex
	_, srv := newFakeTeams(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1.0/teams/team-default/channels/chan-default", r.URL.EscapedPath())
		mu.Lock()
		gets++
		mu.Unlock()
		_, _ = w.Write([]byte(`{"id":"chan-default"}`))
	})
	r := newTestRelay(srv, testCreds, nil)

	req := ValidationRequest{ChannelType: TypeChannel}
	first := r.Validate(context.Background(), req)
	second := r.Validate(context.Background(), req)
	assert.Equal(t, first, second)
	assert.True(t, first.Valid)
	assert.Equal(t, "configuration is valid", first.Message)
	assert.Equal(t, 2, gets)
}

func TestValidateChecksCredentialsFirst(t *testing.T) {
	_, srv := newFakeTeams(t, func(w http.ResponseWriter, r *http.Request) {})
	r := newTestRelay(srv, Credentials{}, nil)

	res := r.Validate(context.Background(), ValidationRequest{ChannelType: "bogus"})
	assert.False(t, res.Valid)
	assert.Equal(t, KindConfiguration, res.Kind)
}

func TestApplySwapsSettings(t *testing.T) {
	f, srv := newFakeTeams(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"m"}`))
	})
	r := newTestRelay(srv, Credentials{}, nil)
	res := r.Notify(context.Background(), NotificationRequest{ChannelType: TypeChat, ChatID: "c", Message: "hi"})
	require.False(t, res.Success)

	r.Apply(Settings{Credentials: testCreds, GraphBaseURL: srv.URL + "/v1.0", LoginBaseURL: srv.URL})
	res = r.Notify(context.Background(), NotificationRequest{ChannelType: TypeChat, ChatID: "c", Message: "hi"})
	assert.True(t, res.Success)
	assert.Equal(t, 1, f.tokenHit)
}

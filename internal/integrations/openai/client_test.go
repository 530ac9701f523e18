package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wattsup/internal/domain"
)

// ---------------------------------------------------------------------------
// chatURL helper
// ---------------------------------------------------------------------------

func TestChatURL(t *testing.T) {
	cases := []struct {
		base string
		want string
	}{
		{"https://api.openai.com/v1", "https://api.openai.com/v1/chat/completions"},
		{"https://api.openai.com/v1/", "https://api.openai.com/v1/chat/completions"},
		{"https://generativelanguage.googleapis.com/v1beta/openai/", "https://generativelanguage.googleapis.com/v1beta/openai/chat/completions"},
		{"http://localhost:8080", "http://localhost:8080/v1/chat/completions"},
		{"", "https://generativelanguage.googleapis.com/v1beta/openai/chat/completions"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, chatURL(tc.base), "base=%q", tc.base)
	}
}

// ---------------------------------------------------------------------------
// NewClient
// ---------------------------------------------------------------------------

// fakeGetter is a minimal Getter stub for use within this package.
type fakeGetter struct {
	vals   map[string]string
	err    error
	calls  int
	failN  int
	lastIn []string
}

func (f *fakeGetter) GetParameters(_ context.Context, names ...string) (map[string]string, error) {
	f.calls++
	f.lastIn = names
	if f.failN > 0 {
		f.failN--
		return nil, errors.New("ssm throttled")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.vals, nil
}

func validGetter() *fakeGetter {
	return &fakeGetter{vals: map[string]string{
		"/wattsup/fallback-token":        `{"token":"sk-from-ssm"}`,
		"/wattsup/config/fallback_model": "gemini-flash-latest",
	}}
}

func TestNewClient_RequiresCredentialsSource(t *testing.T) {
	_, err := NewClient()
	require.Error(t, err)

	_, err = NewClient(WithAPIKey("sk"))
	require.Error(t, err)

	_, err = NewClient(WithParamStore(validGetter(), " / "))
	require.ErrorContains(t, err, "prefix")
}

func TestNewClient_Defaults(t *testing.T) {
	c, err := NewClient(WithParamStore(validGetter(), "/wattsup/"))
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL, c.baseURL)
	require.Equal(t, "/wattsup", c.paramPrefix)

	c, err = NewClient(WithAPIKey("sk"), WithModel("m"), WithBaseURL("  "))
	require.NoError(t, err)
	require.Equal(t, DefaultBaseURL, c.baseURL)
}

// ---------------------------------------------------------------------------
// resolveConfig — SSM caching behaviour
// ---------------------------------------------------------------------------

func TestResolveConfig_FetchedOnce(t *testing.T) {
	g := validGetter()
	c, err := NewClient(WithParamStore(g, "/wattsup"))
	require.NoError(t, err)

	key, model, err := c.resolveConfig(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)
	require.Equal(t, "gemini-flash-latest", model)
	require.Equal(t, []string{"/wattsup/fallback-token", "/wattsup/config/fallback_model"}, g.lastIn)

	_, _, _ = c.resolveConfig(context.Background())
	_, _, _ = c.resolveConfig(context.Background())
	require.Equal(t, 1, g.calls, "SSM must only be read once per process lifetime")
}

func TestResolveConfig_RetriedAfterFailure(t *testing.T) {
	g := validGetter()
	g.failN = 1
	c, err := NewClient(WithParamStore(g, "/wattsup"))
	require.NoError(t, err)

	_, _, err = c.resolveConfig(context.Background())
	require.ErrorContains(t, err, "ssm throttled")

	key, _, err := c.resolveConfig(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-from-ssm", key)
	require.Equal(t, 2, g.calls)
}

func TestResolveConfig_DirectValuesSkipSSM(t *testing.T) {
	g := validGetter()
	c, err := NewClient(WithParamStore(g, "/wattsup"), WithAPIKey("sk-direct"), WithModel("gpt-4o-mini"))
	require.NoError(t, err)

	key, model, err := c.resolveConfig(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sk-direct", key)
	require.Equal(t, "gpt-4o-mini", model)
	require.Zero(t, g.calls)
}

func TestResolveConfig_BadParameters(t *testing.T) {
	cases := []struct {
		name string
		vals map[string]string
		want string
	}{
		{name: "missing token", vals: map[string]string{"/wattsup/config/fallback_model": "m"}, want: "token parameter is empty"},
		{name: "malformed token", vals: map[string]string{"/wattsup/fallback-token": `{"broken`, "/wattsup/config/fallback_model": "m"}, want: "unmarshal"},
		{name: "empty token field", vals: map[string]string{"/wattsup/fallback-token": `{"other":"x"}`, "/wattsup/config/fallback_model": "m"}, want: "API token is empty"},
		{name: "missing model", vals: map[string]string{"/wattsup/fallback-token": `{"token":"sk"}`}, want: "model is empty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := NewClient(WithParamStore(&fakeGetter{vals: tc.vals}, "/wattsup"))
			require.NoError(t, err)
			_, _, err = c.resolveConfig(context.Background())
			require.ErrorContains(t, err, tc.want)
		})
	}
}

// ---------------------------------------------------------------------------
// Client.Generate
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	c, err := NewClient(append([]Option{
		WithParamStore(validGetter(), "/wattsup"),
		WithBaseURL(srv.URL),
		WithHTTPClient(&http.Client{Timeout: 2 * time.Second}),
	}, opts...)...)
	require.NoError(t, err)
	return c
}

func completion(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":      "chatcmpl-123",
		"object":  "chat.completion",
		"created": 1670000000,
		"choices": []map[string]any{{"index": 0, "message": map[string]string{"role": "assistant", "content": content}}},
	})
	return string(b)
}

func TestClient_Generate_HappyPath(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sk-from-ssm", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(completion("Try reducing AC usage.")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	resp, err := c.Generate(context.Background(), "asdkjhasd random gibberish")
	require.NoError(t, err)
	require.Equal(t, "Try reducing AC usage.", resp)
	require.Equal(t, "gemini-flash-latest", got.Model)
	require.Equal(t, []domain.ChatMessage{{Role: "user", Content: "asdkjhasd random gibberish"}}, got.Messages)
}

func TestClient_Generate_SystemPrompt(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(completion("ok")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithSystemPrompt("You are an energy advisor."))
	_, err := c.Generate(context.Background(), "why is my meter spinning?")
	require.NoError(t, err)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Equal(t, "why is my meter spinning?", got.Messages[1].Content)
}

func TestClient_Generate_ConfigError(t *testing.T) {
	c, err := NewClient(WithParamStore(&fakeGetter{err: errors.New("ssm unavailable")}, "/wattsup"))
	require.NoError(t, err)
	_, err = c.Generate(context.Background(), "hello")
	require.ErrorContains(t, err, "ssm unavailable")
}

func TestClient_Generate_Failures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "bad request", status: 400, body: `{"error":"bad request"}`, want: "unexpected status 400"},
		{name: "rate limited", status: 429, body: `{"error":"rate limited"}`, want: "429"},
		{name: "server error", status: 500, body: `{"error":"internal"}`, want: "500"},
		{name: "invalid json", status: 200, body: `not-a-json`, want: "decode response"},
		{name: "no choices", status: 200, body: `{"choices":[]}`, want: "no choices"},
		{name: "empty content", status: 200, body: completion("   "), want: "empty completion"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			c := newTestClient(t, srv)
			_, err := c.Generate(context.Background(), "hi")
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestClient_Generate_StatusErrorIsTyped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Generate(context.Background(), "hi")
	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestClient_Generate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(completion("late")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	c.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	_, err := c.Generate(context.Background(), "hello")
	require.Error(t, err)
}

func TestClient_Generate_ContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(completion("late")))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.Generate(ctx, "hello")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Generate_NetworkError(t *testing.T) {
	c, err := NewClient(WithAPIKey("sk"), WithModel("m"), WithBaseURL("http://127.0.0.1:1"))
	require.NoError(t, err)
	c.httpClient = &http.Client{Timeout: 100 * time.Millisecond}

	_, err = c.Generate(context.Background(), "hello")
	require.ErrorContains(t, err, "request failed")
}

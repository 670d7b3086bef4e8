package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comigor/relaychat/internal/chat"
	"github.com/comigor/relaychat/internal/config"
	"github.com/comigor/relaychat/internal/llm"
	"github.com/comigor/relaychat/internal/logger"
	"github.com/comigor/relaychat/internal/ratelimit"
	"github.com/comigor/relaychat/internal/relay"
	"github.com/comigor/relaychat/internal/store"
)

func TestMain(m *testing.M) {
	logger.Discard()
	os.Exit(m.Run())
}

const helloStream = `data: {"choices":[{"delta":{"content":"Hel"}}]}` + "\n\n" +
	`data: {"choices":[{"delta":{"content":"lo"}}]}` + "\n\n" +
	`data: {"choices":[{"delta":{"content":" world"}}]}` + "\n\n" +
	"data: [DONE]\n\n"

const policyBody = `{"error":{"code":"content_policy_violation","message":"Your request was rejected as a result of our safety system.","type":"invalid_request_error"}}`

// fakeProvider is an OpenAI-compatible upstream.
type fakeProvider struct {
	imageCalls atomic.Int32
	image      http.HandlerFunc
}

func (p *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/chat/completions":
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, helloStream)
	case "/images/generations":
		p.imageCalls.Add(1)
		p.image(w, r)
	default:
		http.NotFound(w, r)
	}
}

func imageOK(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, `{"created":1,"data":[{"url":"https://img.example/fox.png","revised_prompt":"a red fox, illustrated"}]}`)
}

func newTestHandler(t *testing.T, baseURL string, limiter *ratelimit.Limiter) (http.Handler, *store.Memory) {
	t.Helper()
	st := store.NewMemory()
	client := llm.NewClient(config.LLMConfig{
		BaseURL:      baseURL,
		APIKey:       "sk-test",
		Model:        "gpt-test",
		ImageModel:   "dall-e-3",
		ImageSize:    "1024x1024",
		ImageQuality: "standard",
		Timeout:      5 * time.Second,
	})
	engine := relay.NewEngine(client, st, relay.Options{Timeout: 5 * time.Second})
	svc := chat.NewService(st, engine, client,
		config.ChatConfig{MaxMessageLength: 4000},
		config.ImageConfig{
			MinPromptLength: 3,
			MaxPromptLength: 1000,
			Alternatives:    []string{"A cartoon of %s", "A watercolor of %s"},
			BlockedTerms:    []string{"nsfw"},
		})
	srv := New(config.ServerConfig{Host: "127.0.0.1", Port: "0", AllowedOrigin: "*"}, svc, limiter)
	return srv.Handler(), st
}

func newProvider(t *testing.T, image http.HandlerFunc) (*fakeProvider, string) {
	t.Helper()
	p := &fakeProvider{image: image}
	srv := httptest.NewServer(p)
	t.Cleanup(srv.Close)
	return p, srv.URL
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestChatText_StreamsAndPersists(t *testing.T) {
	_, url := newProvider(t, imageOK)
	h, st := newTestHandler(t, url, nil)

	rec := do(h, http.MethodPost, "/chat-text", `{"message":"say hello"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	chatID := rec.Header().Get("X-Chat-Id")
	require.NotEmpty(t, chatID)
	assert.Equal(t,
		`data: {"content":"Hel"}`+"\n\n"+
			`data: {"content":"lo"}`+"\n\n"+
			`data: {"content":" world"}`+"\n\n"+
			"data: [DONE]\n\n",
		rec.Body.String())

	msgs, err := st.ListMessages(context.Background(), chatID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "say hello", msgs[0].Content)
	assert.Equal(t, "Hello world", msgs[1].Content)
}

func TestChatText_ReusesSession(t *testing.T) {
	_, url := newProvider(t, imageOK)
	h, st := newTestHandler(t, url, nil)

	first := do(h, http.MethodPost, "/chat-text", `{"message":"one"}`)
	chatID := first.Header().Get("X-Chat-Id")
	sess, err := st.GetSession(context.Background(), chatID)
	require.NoError(t, err)

	second := do(h, http.MethodPost, "/chat-text", `{"message":"two","chatId":"`+chatID+`"}`)
	assert.Equal(t, chatID, second.Header().Get("X-Chat-Id"))

	after, err := st.GetSession(context.Background(), chatID)
	require.NoError(t, err)
	assert.True(t, after.UpdatedAt.After(sess.UpdatedAt))
	assert.Equal(t, "one", after.Title)

	msgs, err := st.ListMessages(context.Background(), chatID)
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
}

func TestChatText_UpstreamDownFallsBack(t *testing.T) {
	down := httptest.NewServer(http.NotFoundHandler())
	url := down.URL
	down.Close()
	h, st := newTestHandler(t, url, nil)

	rec := do(h, http.MethodPost, "/chat-text", `{"message":"hello?"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.HasSuffix(body, "data: [DONE]\n\n"))

	var text strings.Builder
	for _, frame := range strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n") {
		payload := strings.TrimPrefix(frame, "data: ")
		if payload == "[DONE]" {
			continue
		}
		var f struct {
			Content string `json:"content"`
		}
		require.NoError(t, json.Unmarshal([]byte(payload), &f))
		text.WriteString(f.Content)
	}
	assert.Equal(t, relay.FallbackMessage(&llm.UpstreamError{Kind: llm.KindNetwork}), text.String())

	msgs, err := st.ListMessages(context.Background(), rec.Header().Get("X-Chat-Id"))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)
	assert.Equal(t, text.String(), msgs[1].Content)
}

func TestChatText_BadRequests(t *testing.T) {
	_, url := newProvider(t, imageOK)
	h, _ := newTestHandler(t, url, nil)

	rec := do(h, http.MethodPost, "/chat-text", `{"message":"   "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[errorResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, chat.ErrEmptyMessage.Error(), resp.Error)

	rec = do(h, http.MethodPost, "/chat-text", `{"message":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	rec = do(h, http.MethodGet, "/chat-text", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST", rec.Header().Get("Allow"))
	assert.False(t, decode[errorResponse](t, rec).Success)
}

func TestChatImage_Success(t *testing.T) {
	p, url := newProvider(t, imageOK)
	h, st := newTestHandler(t, url, nil)

	rec := do(h, http.MethodPost, "/chat-image", `{"message":"a red fox"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[imageResponse](t, rec)
	assert.True(t, resp.Success)
	assert.Equal(t, "https://img.example/fox.png", resp.ImageURL)
	assert.Equal(t, "a red fox", resp.Prompt)
	assert.Equal(t, "a red fox, illustrated", resp.RevisedPrompt)
	assert.EqualValues(t, 1, p.imageCalls.Load())

	msgs, err := st.ListMessages(context.Background(), resp.ChatID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.TypeImage, msgs[1].Type)
	assert.Equal(t, resp.ImageURL, msgs[1].ImageURL)
}

func TestChatImage_PolicyExhaustion(t *testing.T) {
	p, url := newProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, policyBody)
	})
	h, st := newTestHandler(t, url, nil)

	rec := do(h, http.MethodPost, "/chat-image", `{"message":"a knight in battle"}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[errorResponse](t, rec)
	assert.False(t, resp.Success)
	assert.Equal(t, "a knight in battle", resp.Prompt)
	assert.EqualValues(t, 3, p.imageCalls.Load())

	sessions, err := st.ListSessions(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	msgs, err := st.ListMessages(context.Background(), sessions[0].ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
}

func TestChatImage_UpstreamFailure(t *testing.T) {
	p, url := newProvider(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"overloaded","type":"server_error"}}`, http.StatusServiceUnavailable)
	})
	h, _ := newTestHandler(t, url, nil)

	rec := do(h, http.MethodPost, "/chat-image", `{"message":"a lighthouse"}`)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.False(t, decode[errorResponse](t, rec).Success)
	assert.EqualValues(t, 1, p.imageCalls.Load())
}

func TestChatImage_Validation(t *testing.T) {
	p, url := newProvider(t, imageOK)
	h, _ := newTestHandler(t, url, nil)

	for _, body := range []string{`{"message":"ab"}`, `{"message":"nsfw poster"}`} {
		rec := do(h, http.MethodPost, "/chat-image", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Zero(t, p.imageCalls.Load())
}

func TestHistory(t *testing.T) {
	_, url := newProvider(t, imageOK)
	h, _ := newTestHandler(t, url, nil)

	empty := decode[sessionsResponse](t, do(h, http.MethodGet, "/get-chat-history", ""))
	assert.NotNil(t, empty.Sessions)
	assert.Empty(t, empty.Sessions)

	chatID := do(h, http.MethodPost, "/chat-text", `{"message":"hello"}`).Header().Get("X-Chat-Id")

	sessions := decode[sessionsResponse](t, do(h, http.MethodPost, "/get-chat-history", ""))
	require.Len(t, sessions.Sessions, 1)
	assert.Equal(t, chatID, sessions.Sessions[0].ID)

	byQuery := decode[messagesResponse](t, do(h, http.MethodGet, "/get-chat-history?chatId="+chatID, ""))
	require.Len(t, byQuery.Messages, 2)
	assert.Equal(t, store.RoleUser, byQuery.Messages[0].Role)

	byBody := decode[messagesResponse](t, do(h, http.MethodPost, "/get-chat-history", `{"chatId":"`+chatID+`"}`))
	assert.Equal(t, byQuery.Messages, byBody.Messages)

	rec := do(h, http.MethodDelete, "/get-chat-history", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST", rec.Header().Get("Allow"))
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestHandler(t, "http://127.0.0.1:1", nil)

	rec := do(h, http.MethodOptions, "/chat-text", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "POST")
	assert.Equal(t, "X-Chat-Id", rec.Header().Get("Access-Control-Expose-Headers"))
}

func TestHealthAndNotFound(t *testing.T) {
	h, _ := newTestHandler(t, "http://127.0.0.1:1", nil)

	rec := do(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	assert.Equal(t, http.StatusNotFound, do(h, http.MethodGet, "/nope", "").Code)
}

func TestRateLimit(t *testing.T) {
	limiter := ratelimit.NewLimiter(ratelimit.NewFixedWindow(time.Minute), 2)
	h, _ := newTestHandler(t, "http://127.0.0.1:1", limiter)

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/get-chat-history", "").Code)
	}
	rec := do(h, http.MethodGet, "/get-chat-history", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.False(t, decode[errorResponse](t, rec).Success)

	assert.Equal(t, http.StatusOK, do(h, http.MethodGet, "/healthz", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/get-chat-history", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	other := httptest.NewRecorder()
	h.ServeHTTP(other, req)
	assert.Equal(t, http.StatusOK, other.Code)
}

func TestRecoverer(t *testing.T) {
	h := recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := do(h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.False(t, decode[errorResponse](t, rec).Success)
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	assert.Equal(t, "198.51.100.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", " 203.0.113.1 , 10.0.0.1")
	assert.Equal(t, "203.0.113.1", clientIP(req))
}

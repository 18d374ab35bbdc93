package responder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"relay/internal/app/store"
)

func TestOpenAIGenerate(t *testing.T) {
	req := require.New(t)

	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req.Equal("/chat/completions", r.URL.Path)
		req.Equal("Bearer sk-test", r.Header.Get("Authorization"))
		req.NoError(json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"test-model",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":" pong "}}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "sk-test", Model: "test-model", BaseURL: srv.URL + "/", BotID: "assistant"})
	window := []store.Message{
		{AuthorID: "alice", Body: "hello"},
		{AuthorID: "assistant", Body: "hi alice"},
	}

	reply, err := o.Generate(context.Background(), "@ai ping", window)
	req.NoError(err)
	req.Equal("pong", reply)

	req.Equal("test-model", got.Model)
	req.Len(got.Messages, 4)
	req.Equal("system", got.Messages[0].Role)
	req.Equal("alice: hello", got.Messages[1].Content)
	req.Equal("assistant", got.Messages[2].Role)
	req.Equal("@ai ping", got.Messages[3].Content)
}

func TestOpenAIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	o := NewOpenAI(OpenAIConfig{APIKey: "k", Model: "m", BaseURL: srv.URL + "/"})
	_, err := o.Generate(context.Background(), "q", nil)
	require.Error(t, err)
}

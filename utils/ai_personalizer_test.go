package utils

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach/models"
)

// completionServer answers chat completions with reply, or with HTTP 500 when
// reply is empty. It records the last request it received.
func completionServer(t *testing.T, reply string, last *openai.ChatCompletionRequest, calls *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		if last != nil {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(last))
		}
		if reply == "" {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream down","type":"server_error"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]string{"role": "assistant", "content": "  " + reply + "  "},
			}},
		})
	}))
}

func aiRequest(user *models.User) PersonalizationRequest {
	return PersonalizationRequest{
		Prompt:         "Write a subject for {{firstName}} at {{company}}",
		Contact:        &models.Contact{FirstName: "Ada", Company: "Engines", Email: "ada@engines.io"},
		Account:        &models.EmailAccount{FromName: "Charles"},
		User:           user,
		WebsiteURL:     "https://engines.io",
		WebsiteContent: "We build analytical engines.",
	}
}

func TestAIPersonalizerOpenAI(t *testing.T) {
	var last openai.ChatCompletionRequest
	var calls int32
	server := completionServer(t, "Engines, meet automation", &last, &calls)
	defer server.Close()

	p := NewAIPersonalizer(AIPersonalizerConfig{OpenAIBaseURL: server.URL}, nil)
	user := &models.User{AIProvider: models.AIProviderOpenAI, OpenAIAPIKey: "sk-test"}

	res := p.Generate(context.Background(), aiRequest(user))
	assert.False(t, res.Fallback)
	assert.NoError(t, res.Err)
	assert.Equal(t, "Engines, meet automation", res.Text)
	assert.Equal(t, models.AIProviderOpenAI, res.Provider)
	assert.Equal(t, DefaultOpenAIModel, res.Model)

	assert.Equal(t, DefaultOpenAIModel, last.Model)
	assert.Equal(t, aiMaxTokens, last.MaxTokens)
	require.Len(t, last.Messages, 2)
	assert.Equal(t, aiSystemPrompt, last.Messages[0].Content)
	assert.Contains(t, last.Messages[1].Content, "We build analytical engines.")
	assert.Contains(t, last.Messages[1].Content, "Prompt: Write a subject for {{firstName}}")
}

func TestAIPersonalizerDeepSeek(t *testing.T) {
	var last openai.ChatCompletionRequest
	var calls int32
	server := completionServer(t, "Hello Ada", &last, &calls)
	defer server.Close()

	p := NewAIPersonalizer(AIPersonalizerConfig{DeepSeekBaseURL: server.URL}, nil)
	user := &models.User{AIProvider: models.AIProviderDeepSeek, DeepSeekAPIKey: "sk-test"}

	res := p.Generate(context.Background(), aiRequest(user))
	assert.False(t, res.Fallback)
	assert.Equal(t, models.AIProviderDeepSeek, res.Provider)
	assert.Equal(t, DefaultDeepSeekModel, last.Model)
}

func TestAIPersonalizerFallback(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		p := NewAIPersonalizer(AIPersonalizerConfig{}, nil)
		res := p.Generate(context.Background(), aiRequest(&models.User{}))

		assert.True(t, res.Fallback)
		assert.Error(t, res.Err)
		assert.Equal(t, "Write a subject for Ada at Engines", res.Text)
	})

	t.Run("provider error then open breaker", func(t *testing.T) {
		var calls int32
		server := completionServer(t, "", nil, &calls)
		defer server.Close()

		p := NewAIPersonalizer(AIPersonalizerConfig{OpenAIBaseURL: server.URL}, nil)
		user := &models.User{OpenAIAPIKey: "sk-test"}

		for i := 0; i < aiBreakerFailures+2; i++ {
			res := p.Generate(context.Background(), aiRequest(user))
			assert.True(t, res.Fallback)
			assert.Equal(t, "Write a subject for Ada at Engines", res.Text)
		}
		assert.Equal(t, int32(aiBreakerFailures), atomic.LoadInt32(&calls))
	})
}

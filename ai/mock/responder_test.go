package mock

import (
	"context"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var messages = []openai.ChatCompletionMessage{
	{Role: openai.ChatMessageRoleSystem, Content: "12345678"},
	{Role: openai.ChatMessageRoleUser, Content: "1234"},
}

func TestRespond_Shape(t *testing.T) {
	r := New()

	for i := 0; i < 20; i++ {
		resp := r.Respond("deepseek-chat", messages)

		assert.True(t, strings.HasPrefix(resp.ID, "mock-response-"))
		assert.Len(t, resp.ID, len("mock-response-")+8)
		assert.Equal(t, "chat.completion", resp.Object)
		assert.Equal(t, "deepseek-chat-mock", resp.Model)
		assert.NotZero(t, resp.Created)
		require.Len(t, resp.Choices, 1)
		assert.Equal(t, openai.ChatMessageRoleAssistant, resp.Choices[0].Message.Role)
		assert.Equal(t, openai.FinishReasonStop, resp.Choices[0].FinishReason)
		assert.Contains(t, DefaultPool, resp.Choices[0].Message.Content)
		assert.Equal(t, 3, resp.Usage.PromptTokens)
		assert.Equal(t, resp.Usage.PromptTokens+resp.Usage.CompletionTokens, resp.Usage.TotalTokens)
	}
}

func TestRespond_ConstrainedPool(t *testing.T) {
	r := New(WithPool("```json\n[]\n```"))

	resp := r.Respond("m", nil)
	assert.Equal(t, "```json\n[]\n```", resp.Choices[0].Message.Content)
	assert.Zero(t, resp.Usage.PromptTokens)
	assert.Equal(t, 3, resp.Usage.CompletionTokens)
}

func TestRespond_EmptyPoolIgnored(t *testing.T) {
	r := New(WithPool())
	assert.Equal(t, DefaultPool, r.pool)
}

func TestRespond_SeedIsReproducible(t *testing.T) {
	a := New(WithSeed(7))
	b := New(WithSeed(7))
	for i := 0; i < 10; i++ {
		assert.Equal(t,
			a.Respond("m", nil).Choices[0].Message.Content,
			b.Respond("m", nil).Choices[0].Message.Content)
	}
}

func TestRespond_UniqueIDs(t *testing.T) {
	r := New()
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := r.Respond("m", nil).ID
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestComplete(t *testing.T) {
	r := New(WithPool("ok"))
	resp, err := r.Complete(context.Background(), openai.ChatCompletionRequest{Model: "gpt-3.5-turbo", Messages: messages})
	require.NoError(t, err)
	assert.Equal(t, "gpt-3.5-turbo-mock", resp.Model)
	assert.Equal(t, "mock", r.Name())
}

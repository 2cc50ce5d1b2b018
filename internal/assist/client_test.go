package assist

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codecollab-dev/syncengine/internal/testutil"
)

type stubAPI struct {
	responses map[string]string
	errs      map[string]error
	models    []string
}

func (s *stubAPI) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	s.models = append(s.models, req.Model)
	if err, ok := s.errs[req.Model]; ok {
		return openai.ChatCompletionResponse{}, err
	}
	content := s.responses[req.Model]
	if content == "" {
		return openai.ChatCompletionResponse{}, nil
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: content}},
		},
	}, nil
}

func newTestClient(t *testing.T, api *stubAPI, models ...string) *Client {
	t.Helper()
	return &Client{
		log:      testutil.TestLogger(t),
		api:      api,
		provider: testutil.NopStats{},
		models:   models,
	}
}

func TestClient_ChatResponse(t *testing.T) {
	api := &stubAPI{responses: map[string]string{"m1": "  use a map here  "}}
	c := newTestClient(t, api, "m1")

	got, err := c.ChatResponse(context.Background(), "how do I dedupe a slice?")
	require.NoError(t, err)
	assert.Equal(t, "use a map here", got)
}

func TestClient_GenerateDocumentationStripsFencesAndEcho(t *testing.T) {
	code := "func add(a, b int) int { return a + b }"
	api := &stubAPI{responses: map[string]string{
		"m1": "```go\n" + code + "\n```\nAdds two integers.",
	}}
	c := newTestClient(t, api, "m1")

	got, err := c.GenerateDocumentation(context.Background(), code, "go")
	require.NoError(t, err)
	assert.Equal(t, "Adds two integers.", got)
	assert.NotContains(t, got, "```")
}

func TestClient_FallsBackAcrossModels(t *testing.T) {
	api := &stubAPI{
		errs:      map[string]error{"m1": errors.New("overloaded")},
		responses: map[string]string{"m2": "answer"},
	}
	c := newTestClient(t, api, "m1", "m2")

	got, err := c.ChatResponse(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "answer", got)
	assert.Equal(t, []string{"m1", "m2"}, api.models)
}

func TestClient_AllModelsFail(t *testing.T) {
	api := &stubAPI{errs: map[string]error{
		"m1": errors.New("overloaded"),
		"m2": errors.New("unavailable"),
	}}
	c := newTestClient(t, api, "m1", "m2")

	_, err := c.ChatResponse(context.Background(), "hi")
	require.Error(t, err)
}

func TestClient_FixCode(t *testing.T) {
	t.Run("fixed on fallback model", func(t *testing.T) {
		api := &stubAPI{
			errs:      map[string]error{"m1": errors.New("overloaded")},
			responses: map[string]string{"m2": "```python\nprint('hi')\n```"},
		}
		c := newTestClient(t, api, "m1", "m2")

		res, err := c.FixCode(context.Background(), "print('hi'")
		require.NoError(t, err)
		assert.True(t, res.Fixed)
		assert.Equal(t, "print('hi')", res.FixedCode)
	})

	t.Run("original returned when nothing usable", func(t *testing.T) {
		api := &stubAPI{errs: map[string]error{"m1": errors.New("down")}}
		c := newTestClient(t, api, "m1")

		res, err := c.FixCode(context.Background(), "print('hi'")
		require.NoError(t, err)
		assert.False(t, res.Fixed)
		assert.Equal(t, "print('hi'", res.FixedCode)
		assert.NotEmpty(t, res.Message)
	})
}

func TestCleanResponse(t *testing.T) {
	tests := []struct {
		name, in, removeOriginal, want string
	}{
		{"plain text", " hello ", "", "hello"},
		{"fenced block", "```go\nx := 1\n```", "", "x := 1"},
		{"stray fence", "text```", "", "text"},
		{"echoed input removed", "original()\nexplanation", "original()", "explanation"},
		{"empty", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanResponse(tt.in, tt.removeOriginal))
		})
	}
}

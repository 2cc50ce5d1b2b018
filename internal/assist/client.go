package assist

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/codecollab-dev/syncengine/internal/stats"
)

// DefaultModels are tried in order until one produces a completion.
var DefaultModels = []string{
	openai.GPT4oMini,
	openai.GPT4o,
	openai.GPT3Dot5Turbo,
}

var ErrNoCompletion = errors.New("assist: no completion produced")

// completionAPI is the slice of the OpenAI client the assistant needs.
type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Client answers documentation, auto-complete, code-fix and chat
// requests. Every method degrades to an error rather than blocking the
// editing session; callers treat failures as non-fatal.
type Client struct {
	log      *log.Logger
	api      completionAPI
	provider stats.StatsProvider
	models   []string
}

func NewClient(logger *log.Logger, provider stats.StatsProvider, apiKey, baseURL string, models []string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if len(models) == 0 {
		models = DefaultModels
	}
	return &Client{
		log:      logger,
		api:      openai.NewClientWithConfig(cfg),
		provider: provider,
		models:   models,
	}
}

// ChatResponse answers a chat message addressed to the workspace
// assistant.
func (c *Client) ChatResponse(ctx context.Context, message string) (string, error) {
	prompt := fmt.Sprintf("You are a coding assistant embedded in a collaborative editor. "+
		"Your response is shown directly as a chat message, so answer like a chat. "+
		"If asked to generate code, generate it with predefined inputs instead of asking the user for input. "+
		"If the message is not related to coding or technical topics, reply that you are a coding assistant "+
		"and can only help with coding. Be concise; if the message is unclear, ask for clarity instead of assuming.\n\n"+
		"Message: %s", message)

	text, err := c.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// GenerateDocumentation produces plain-text documentation for the given
// code. The response is scrubbed of markdown fences and of any echo of
// the input.
func (c *Client) GenerateDocumentation(ctx context.Context, code, language string) (string, error) {
	prompt := fmt.Sprintf("Generate detailed documentation for the following code.\n"+
		"The documentation should be in plain text format, NOT as code comments.\n"+
		"Do not include code blocks or markdown formatting, just clean text.\n"+
		"Explain the purpose, functionality, and key components of the code.\n"+
		"Do not include the original code in the response.\n"+
		"Code:\n%s", code)

	text, err := c.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	doc := cleanResponse(text, code)
	if language != "" {
		doc = strings.TrimSpace(strings.ReplaceAll(doc, language, ""))
	}
	return doc, nil
}

// AutoComplete produces end-of-file commentary for the given code,
// including complexity notes where useful, in the comment syntax of the
// code's language.
func (c *Client) AutoComplete(ctx context.Context, code, language string) (string, error) {
	prompt := fmt.Sprintf("Generate clear and concise documentation in the form of comments to be "+
		"added at the end of the code file. Add time and space complexity where useful. "+
		"Use the appropriate comment format for %s.\nCode:\n%s", language, code)

	text, err := c.generate(ctx, prompt)
	if err != nil {
		return "", err
	}
	return cleanResponse(text, code), nil
}

// FixResult reports the outcome of a code-fix request. Fixed is false
// when no model produced a usable correction, in which case FixedCode
// carries the input unchanged.
type FixResult struct {
	FixedCode string `json:"fixed_code"`
	Fixed     bool   `json:"fixed"`
	Message   string `json:"message,omitempty"`
}

// FixCode asks the models, in order, to correct syntax errors in code.
// A model that errors or returns an empty correction is skipped; if all
// are exhausted the original code comes back untouched.
func (c *Client) FixCode(ctx context.Context, code string) (FixResult, error) {
	prompt := fmt.Sprintf("Fix the syntax errors in the following code:\n\n%s\n\n"+
		"Return only the corrected code without any comments or markdown formatting. "+
		"Preserve any existing comments.", code)

	c.provider.Incr(stats.AssistRequests)
	for _, model := range c.models {
		text, err := c.complete(ctx, model, prompt)
		if err != nil {
			c.log.Printf("assist: fix with %s: %v", model, err)
			continue
		}
		if fixed := cleanResponse(text, ""); fixed != "" {
			return FixResult{FixedCode: fixed, Fixed: true}, nil
		}
	}

	c.provider.Incr(stats.AssistErrors)
	return FixResult{
		FixedCode: code,
		Fixed:     false,
		Message:   "No fixes needed or could not determine fixes",
	}, nil
}

func (c *Client) generate(ctx context.Context, prompt string) (string, error) {
	c.provider.Incr(stats.AssistRequests)

	var lastErr error
	for _, model := range c.models {
		text, err := c.complete(ctx, model, prompt)
		if err != nil {
			c.log.Printf("assist: completion with %s: %v", model, err)
			lastErr = err
			continue
		}
		return text, nil
	}

	c.provider.Incr(stats.AssistErrors)
	if lastErr != nil {
		return "", fmt.Errorf("assist: all models failed: %w", lastErr)
	}
	return "", ErrNoCompletion
}

func (c *Client) complete(ctx context.Context, model, prompt string) (string, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", ErrNoCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

var fenceRe = regexp.MustCompile("(?i)```[a-z]*\n?")

// cleanResponse strips markdown code fences and, when removeOriginal is
// set, any verbatim echo of the input.
func cleanResponse(text, removeOriginal string) string {
	cleaned := fenceRe.ReplaceAllString(strings.TrimSpace(text), "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	if removeOriginal != "" {
		cleaned = strings.ReplaceAll(cleaned, removeOriginal, "")
	}
	return strings.TrimSpace(cleaned)
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements Provider for OpenAI and compatible APIs. The
// backend has no web search, so grounded calls return no sources.
type OpenAIProvider struct {
	model  string
	client *openai.Client
}

func newOpenAIProvider(apiKey, model, endpoint string, httpClient *http.Client) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if endpoint != "" {
		cfg.BaseURL = endpoint
	}
	cfg.HTTPClient = httpClient
	return &OpenAIProvider{model: model, client: openai.NewClientWithConfig(cfg)}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Generate(ctx context.Context, r Request) (Response, error) {
	req := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: r.System},
			{Role: openai.ChatMessageRoleUser, Content: r.Prompt},
		},
		Temperature: float32(r.Temperature),
	}
	if r.MaxTokens > 0 {
		req.MaxCompletionTokens = r.MaxTokens
	}
	if r.Schema != nil {
		schema, err := json.Marshal(r.Schema)
		if err != nil {
			return Response{}, fmt.Errorf("marshal schema: %w", err)
		}
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "threat_actor_profile",
				Schema: json.RawMessage(schema),
			},
		}
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return Response{}, fmt.Errorf("openai API error %d: %s", apiErr.HTTPStatusCode, truncateAPIError([]byte(apiErr.Message)))
		}
		return Response{}, fmt.Errorf("openai: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("empty response from openai")
	}

	choice := resp.Choices[0]
	return Response{
		Text:      choice.Message.Content,
		Truncated: choice.FinishReason == openai.FinishReasonLength,
	}, nil
}

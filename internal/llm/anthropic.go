package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// AnthropicProvider implements Provider for Claude. Schema output is enforced
// with a forced tool_use; grounding uses the server-side web search tool.
type AnthropicProvider struct {
	apiKey   string
	model    string
	endpoint string
	maxUses  int
	client   *http.Client
}

const recordTool = "record_profile"

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Generate(ctx context.Context, r Request) (Response, error) {
	maxTokens := r.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	body := map[string]interface{}{
		"model":       p.model,
		"max_tokens":  maxTokens,
		"temperature": r.Temperature,
		"system":      r.System,
		"messages": []map[string]interface{}{
			{"role": "user", "content": r.Prompt},
		},
	}

	var tools []map[string]interface{}
	if r.Grounding {
		tools = append(tools, map[string]interface{}{
			"type":     "web_search_20250305",
			"name":     "web_search",
			"max_uses": p.maxUses,
		})
	}
	if r.Schema != nil {
		tools = append(tools, map[string]interface{}{
			"name":         recordTool,
			"description":  "Record the threat actor profile as structured JSON",
			"input_schema": r.Schema,
		})
		body["tool_choice"] = map[string]string{"type": "tool", "name": recordTool}
	}
	if len(tools) > 0 {
		body["tools"] = tools
	}

	data, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint+"/messages", bytes.NewReader(data))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("anthropic API error %d: %s", resp.StatusCode, truncateAPIError(respBody))
	}

	var result anthropicResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Response{}, fmt.Errorf("parse response: %w", err)
	}
	if len(result.Content) == 0 {
		return Response{}, fmt.Errorf("empty response from anthropic")
	}

	out := Response{Truncated: result.StopReason == "max_tokens"}
	var text strings.Builder
	var toolInput string
	var sources []Source
	for _, block := range result.Content {
		switch block.Type {
		case "tool_use":
			if block.Name == recordTool && len(block.Input) > 0 && toolInput == "" {
				toolInput = string(block.Input)
			}
		case "text":
			if text.Len() > 0 {
				text.WriteString("\n")
			}
			text.WriteString(block.Text)
			for _, c := range block.Citations {
				sources = append(sources, Source{Title: c.Title, URL: c.URL})
			}
		case "web_search_tool_result":
			// content is an array of results, or an error object
			var results []struct {
				Type  string `json:"type"`
				Title string `json:"title"`
				URL   string `json:"url"`
			}
			if json.Unmarshal(block.Content, &results) == nil {
				for _, sr := range results {
					if sr.Type == "web_search_result" {
						sources = append(sources, Source{Title: sr.Title, URL: sr.URL})
					}
				}
			}
		}
	}

	// Prefer the tool_use block (structured output) over text.
	if toolInput != "" {
		out.Text = toolInput
	} else {
		out.Text = text.String()
	}
	if out.Text == "" {
		return Response{}, fmt.Errorf("no usable content block in anthropic response")
	}
	out.Sources = dedupeSources(sources)
	return out, nil
}

type anthropicResponse struct {
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type      string          `json:"type"`
		Name      string          `json:"name"`
		Text      string          `json:"text"`
		Input     json.RawMessage `json:"input"`
		Content   json.RawMessage `json:"content"`
		Citations []struct {
			Type  string `json:"type"`
			Title string `json:"title"`
			URL   string `json:"url"`
		} `json:"citations"`
	} `json:"content"`
}

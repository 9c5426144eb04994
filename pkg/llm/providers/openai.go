// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package providers contains concrete implementations of LLM providers.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/autoflow/pkg/errors"
	"github.com/tombee/autoflow/pkg/httpclient"
	"github.com/tombee/autoflow/pkg/llm"
)

const (
	// defaultOpenAIURL is the public OpenAI endpoint. Any server speaking the
	// chat completions protocol (Ollama, vLLM, LiteLLM) can be used instead.
	defaultOpenAIURL = "https://api.openai.com/v1"

	defaultOpenAIModel = "gpt-4o-mini"
)

// OpenAIConfig configures an OpenAI compatible provider.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string

	// HTTPClient overrides the client built from httpclient defaults.
	HTTPClient *http.Client
}

// OpenAIProvider talks to a chat completions endpoint.
type OpenAIProvider struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIProvider creates an OpenAI compatible provider. An API key is
// only required for the public endpoint.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIURL
	}
	if baseURL == defaultOpenAIURL && cfg.APIKey == "" {
		return nil, &errors.ConfigError{
			Key:    "llm.api_key",
			Reason: "API key is required for the OpenAI endpoint",
		}
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	client := cfg.HTTPClient
	if client == nil {
		hc := httpclient.DefaultConfig()
		hc.Timeout = 120 * time.Second
		hc.UserAgent = "autoflow-openai/1.0"
		var err error
		client, err = httpclient.New(hc)
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP client: %w", err)
		}
	}

	return &OpenAIProvider{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		model:      model,
		httpClient: client,
	}, nil
}

// Name returns the provider identifier.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Complete sends a chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	requestID := uuid.NewString()
	if len(req.Messages) == 0 {
		return nil, &errors.ValidationError{
			Field:   "messages",
			Message: "completion request must have at least one message",
		}
	}

	apiReq := openAIRequest{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if apiReq.Model == "" {
		apiReq.Model = p.model
	}
	if req.JSON {
		apiReq.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}
	for _, m := range req.Messages {
		apiReq.Messages = append(apiReq.Messages, openAIMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &errors.ProviderError{Provider: "openai", Message: fmt.Sprintf("failed to marshal request: %v", err), RequestID: requestID}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, &errors.ProviderError{Provider: "openai", Message: fmt.Sprintf("failed to create request: %v", err), RequestID: requestID}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Request-ID", requestID)
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &errors.ProviderError{Provider: "openai", Message: fmt.Sprintf("request failed: %v", err), RequestID: requestID, Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.ProviderError{
			Provider:   "openai",
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("failed to read response: %v", err),
			RequestID:  requestID,
		}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp openAIErrorResponse
		msg := fmt.Sprintf("API request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			msg = errResp.Error.Message
		}
		return nil, &errors.ProviderError{
			Provider:   "openai",
			StatusCode: resp.StatusCode,
			Message:    msg,
			Suggestion: suggestionForStatus(resp.StatusCode),
			RequestID:  requestID,
		}
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, &errors.ProviderError{Provider: "openai", Message: fmt.Sprintf("failed to parse response: %v", err), RequestID: requestID}
	}
	if len(apiResp.Choices) == 0 {
		return nil, &errors.ProviderError{Provider: "openai", Message: "response contained no choices", RequestID: requestID}
	}

	choice := apiResp.Choices[0]
	return &llm.CompletionResponse{
		Content:      choice.Message.Content,
		FinishReason: mapOpenAIFinishReason(choice.FinishReason),
		Usage: llm.TokenUsage{
			InputTokens:  apiResp.Usage.PromptTokens,
			OutputTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:  apiResp.Usage.TotalTokens,
		},
		Model:     apiResp.Model,
		RequestID: requestID,
		Created:   time.Now(),
	}, nil
}

func mapOpenAIFinishReason(reason string) llm.FinishReason {
	switch reason {
	case "length":
		return llm.FinishReasonLength
	case "content_filter":
		return llm.FinishReasonContentFilter
	default:
		return llm.FinishReasonStop
	}
}

// suggestionForStatus returns a hint for common failure statuses.
func suggestionForStatus(statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized:
		return "Check that your API key is valid and correctly configured"
	case http.StatusForbidden:
		return "Your API key may not have access to this model"
	case http.StatusNotFound:
		return "Check the model name and base URL"
	case http.StatusTooManyRequests:
		return "Rate limit exceeded. Retry after a short delay"
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable:
		return "The provider is experiencing issues. Retry after a short delay"
	default:
		return ""
	}
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	Temperature    *float64              `json:"temperature,omitempty"`
	MaxTokens      *int                  `json:"max_tokens,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

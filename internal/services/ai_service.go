package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"tgchat/internal/models"
)

// ErrResponseUnavailable indicates the generation call failed or timed out.
// The user's message has already been persisted by the time this surfaces.
var ErrResponseUnavailable = errors.New("response client unavailable")

const (
	generateTimeout = 60 * time.Second
	maxTokens       = 1000
	temperature     = 0.7
)

// AIService calls an OpenAI-compatible chat-completions endpoint
type AIService struct {
	baseURL    string
	apiKey     string
	model      string
	provider   string
	httpClient *http.Client
}

// NewAIService creates an AI service for the configured provider
func NewAIService(provider, baseURL, apiKey, model string) *AIService {
	return &AIService{
		baseURL:  baseURL,
		apiKey:   apiKey,
		model:    model,
		provider: provider,
		httpClient: &http.Client{
			Timeout: generateTimeout,
		},
	}
}

// Model returns the configured model name
func (s *AIService) Model() string {
	return s.model
}

// Provider returns the configured provider name
func (s *AIService) Provider() string {
	return s.provider
}

// Generate sends the assembled prompt to the chat-completions endpoint and
// returns the generated text. Failures wrap ErrResponseUnavailable; the
// caller decides how to surface them to the chat.
func (s *AIService) Generate(ctx context.Context, messages []models.PromptMessage) (*models.AIResponse, error) {
	requestBody := map[string]interface{}{
		"model":       s.model,
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": temperature,
		"stream":      false,
	}

	reqBody, err := json.Marshal(requestBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.baseURL+"/chat/completions", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrResponseUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrResponseUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		log.Printf("⚠️ [AI] API error (status %d): %s", resp.StatusCode, truncateForLog(string(body), 200))
		return nil, fmt.Errorf("%w: API error (status %d)", ErrResponseUnavailable, resp.StatusCode)
	}

	var apiResponse struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			TotalTokens int `json:"total_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, fmt.Errorf("%w: failed to parse API response: %v", ErrResponseUnavailable, err)
	}

	if len(apiResponse.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in response", ErrResponseUnavailable)
	}

	return &models.AIResponse{
		Content:    apiResponse.Choices[0].Message.Content,
		TokensUsed: apiResponse.Usage.TotalTokens,
		Model:      s.model,
	}, nil
}

// HealthCheck verifies the endpoint answers at all. Used by the scheduled
// provider health job; a 401/404 still proves reachability.
func (s *AIService) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrResponseUnavailable, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	return nil
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

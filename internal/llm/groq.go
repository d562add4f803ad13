package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"family-meal-planner/internal/config"
	"family-meal-planner/internal/shared"
)

const groqAPIURL = "https://api.groq.com/openai/v1/chat/completions"

// groqClient is a client for the Groq API.
type groqClient struct {
	apiKey      string
	endpoint    string
	model       string
	visionModel string
	temperature float32
	httpClient  *http.Client
}

// NewGroqClient creates a new Groq API client.
// Requests carry no client-side timeout; callers bound them through ctx.
func NewGroqClient(cfg *config.Config) TextGenerator {
	return &groqClient{
		apiKey:      cfg.GroqAPIKey,
		endpoint:    groqAPIURL,
		model:       cfg.GroqModel,
		visionModel: cfg.GroqVisionModel,
		temperature: cfg.LLMTemperature,
		httpClient:  &http.Client{},
	}
}

// groqMessage content is a string, or a list of groqPart for vision requests.
type groqMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type groqPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *groqImageURL `json:"image_url,omitempty"`
}

type groqImageURL struct {
	URL string `json:"url"`
}

type groqRequest struct {
	Model          string            `json:"model"`
	Messages       []groqMessage     `json:"messages"`
	Temperature    float32           `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format"`
}

type groqResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// GenerateContent sends a prompt to the Groq model and returns the generated text.
func (c *groqClient) GenerateContent(ctx context.Context, prompt string) (ContentResponse, error) {
	return c.send(ctx, c.model, groqMessage{Role: "user", Content: prompt})
}

// GenerateFromImage sends a prompt and an inline data-URL image to the vision model.
func (c *groqClient) GenerateFromImage(ctx context.Context, prompt string, image []byte, mimeType string) (ContentResponse, error) {
	if !strings.HasPrefix(mimeType, "image/") {
		return ContentResponse{}, fmt.Errorf("unsupported image type %q", mimeType)
	}
	url := "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(image)
	return c.send(ctx, c.visionModel, groqMessage{Role: "user", Content: []groqPart{
		{Type: "text", Text: prompt},
		{Type: "image_url", ImageURL: &groqImageURL{URL: url}},
	}})
}

func (c *groqClient) send(ctx context.Context, model string, msg groqMessage) (ContentResponse, error) {
	jsonBody, err := json.Marshal(groqRequest{
		Model:          model,
		Messages:       []groqMessage{msg},
		Temperature:    c.temperature,
		ResponseFormat: map[string]string{"type": "json_object"},
	})
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(jsonBody))
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return ContentResponse{}, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return ContentResponse{}, fmt.Errorf("groq api error: status=%d body=%s", resp.StatusCode, string(bodyBytes))
	}

	var groqResp groqResponse
	if err := json.NewDecoder(resp.Body).Decode(&groqResp); err != nil {
		return ContentResponse{}, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(groqResp.Choices) == 0 {
		return ContentResponse{}, fmt.Errorf("no content generated")
	}

	if groqResp.Model != "" {
		model = groqResp.Model
	}
	return ContentResponse{
		Content: groqResp.Choices[0].Message.Content,
		Usage: shared.TokenUsage{
			PromptTokens:     groqResp.Usage.PromptTokens,
			CompletionTokens: groqResp.Usage.CompletionTokens,
			TotalTokens:      groqResp.Usage.TotalTokens,
			Model:            model,
		},
	}, nil
}

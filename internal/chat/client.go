// Package chat предоставляет клиент внешней языковой модели для чат-помощника.
package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultEndpoint задаёт адрес метода generateContent по умолчанию.
const DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-flash:generateContent"

// FallbackReply возвращается, если модель не прислала текст ответа.
const FallbackReply = "Sorry, I couldn't generate a response. Please try again."

const systemPrompt = `You are Pulse Bot, an AI assistant for Pulse Bank - a blood donation platform. You are friendly, helpful, and knowledgeable about:

1. Blood donation guidelines and eligibility
2. Blood type compatibility
3. Hospital services and blood inventory management
4. Blood donation frequency and health precautions
5. Donor motivation and impact stories
6. Location-based blood donor matching
7. Emergency blood requests
8. General health and safety information

Always provide accurate, helpful information. Be empathetic when discussing health concerns. Encourage blood donation as a life-saving act. Keep responses concise and clear.`

var (
	// ErrNotConfigured возвращается, если не задан ключ API.
	ErrNotConfigured = errors.New("chat client not configured")
	// ErrUpstream возвращается при ошибочном ответе модели.
	ErrUpstream = errors.New("chat upstream error")
)

// Sender обозначает автора сообщения в истории переписки.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message описывает одно сообщение истории переписки.
type Message struct {
	Sender Sender `json:"sender"`
	Text   string `json:"text"`
}

// Client инкапсулирует HTTP-взаимодействие с языковой моделью.
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewClient создаёт клиент для указанного адреса и ключа API.
func NewClient(endpoint, apiKey string) *Client {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Client{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents          []content `json:"contents"`
	SystemInstruction content   `json:"systemInstruction"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Reply отправляет сообщение вместе с историей и возвращает текст ответа модели.
func (c *Client) Reply(ctx context.Context, message string, history []Message) (string, error) {
	if c == nil || c.apiKey == "" {
		return "", ErrNotConfigured
	}

	contents := make([]content, 0, len(history)+1)
	for _, m := range history {
		role := "model"
		if m.Sender == SenderUser {
			role = "user"
		}
		contents = append(contents, content{Role: role, Parts: []part{{Text: m.Text}}})
	}
	contents = append(contents, content{Role: "user", Parts: []part{{Text: message}}})

	body, err := json.Marshal(generateRequest{
		Contents:          contents,
		SystemInstruction: content{Parts: []part{{Text: systemPrompt}}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: do request: %w", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("%w: %s: %s", ErrUpstream, resp.Status, strings.TrimSpace(string(payload)))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrUpstream, err)
	}

	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 ||
		result.Candidates[0].Content.Parts[0].Text == "" {
		return FallbackReply, nil
	}

	return result.Candidates[0].Content.Parts[0].Text, nil
}

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/pavelanni/simpatient/internal/llm/prompts"
	"github.com/pavelanni/simpatient/internal/model"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrNoChoices is returned when the API answers without any completion.
	ErrNoChoices = errors.New("LLM returned no choices")
	// ErrUnparseable is returned when an evaluation reply is not valid JSON.
	ErrUnparseable = errors.New("failed to parse evaluation")
)

// Evaluation is the scoring model's verdict as it appears on the wire: the
// category scores sit at the top level next to the lists and feedback.
type Evaluation struct {
	model.Scores
	Strengths           []string `json:"strengths"`
	AreasForImprovement []string `json:"areas_for_improvement"`
	Feedback            string   `json:"feedback"`
}

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	maxHistory  int
	prompts     *prompts.Set
}

// Option configures a Client.
type Option func(*Client)

// WithTemperature sets the sampling temperature for patient replies.
func WithTemperature(t float32) Option {
	return func(c *Client) { c.temperature = t }
}

// WithMaxHistory caps how many earlier turns are sent with each patient
// request. Zero sends the whole conversation.
func WithMaxHistory(n int) Option {
	return func(c *Client) { c.maxHistory = n }
}

// WithPrompts replaces the embedded prompt templates.
func WithPrompts(p *prompts.Set) Option {
	return func(c *Client) { c.prompts = p }
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string, opts ...Option) (*Client, error) {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	c := &Client{
		api:         openai.NewClientWithConfig(config),
		model:       modelName,
		temperature: 0.7,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.prompts == nil {
		p, err := prompts.Default()
		if err != nil {
			return nil, fmt.Errorf("load prompts: %w", err)
		}
		c.prompts = p
	}
	return c, nil
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// PatientReply asks the model to answer message in the role of the case's
// patient, given the conversation so far.
func (c *Client) PatientReply(ctx context.Context, cs model.Case, history []model.Turn, message string) (string, error) {
	systemPrompt, err := c.prompts.Patient(cs)
	if err != nil {
		return "", fmt.Errorf("build patient prompt: %w", err)
	}

	if c.maxHistory > 0 && len(history) > c.maxHistory {
		history = history[len(history)-c.maxHistory:]
	}
	chatMsgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	for _, t := range history {
		chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{Role: chatRole(t.Role), Content: t.Content})
	}
	chatMsgs = append(chatMsgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: prompts.SanitizeInput(message),
	})

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    chatMsgs,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoices
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("patient reply", "case_id", cs.ID, "chars", len(reply))
	return reply, nil
}

// Evaluate asks the model to score a finished interview.
func (c *Client) Evaluate(ctx context.Context, cs model.Case, turns []model.Turn) (*Evaluation, error) {
	prompt, err := c.prompts.Evaluation(cs, turns)
	if err != nil {
		return nil, fmt.Errorf("build evaluation prompt: %w", err)
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.1,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM evaluation API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrNoChoices
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("LLM evaluation response", "raw", raw)
	return ParseEvaluation(raw)
}

// Ping checks that the API is reachable and the key is accepted.
func (c *Client) Ping(ctx context.Context) error {
	if _, err := c.api.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

// ParseEvaluation decodes a JSON evaluation, tolerating a surrounding
// markdown code fence.
func ParseEvaluation(raw string) (*Evaluation, error) {
	cleaned := stripFence(raw)
	var ev Evaluation
	if err := json.Unmarshal([]byte(cleaned), &ev); err != nil {
		return nil, fmt.Errorf("%w: %w (raw: %s)", ErrUnparseable, err, raw)
	}
	return &ev, nil
}

func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if rest, ok := strings.CutPrefix(s, "```json"); ok {
		s = rest
	} else if rest, ok := strings.CutPrefix(s, "```"); ok {
		s = rest
	}
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func chatRole(r model.Role) string {
	if r == model.RolePatient {
		return openai.ChatMessageRoleAssistant
	}
	return openai.ChatMessageRoleUser
}

package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// FallbackReply is sent when the model gives no answer.
const FallbackReply = "Maaf, tidak ada respons dari Gemini."

const maxPromptRunes = 2000

var ErrEmptyPrompt = errors.New("empty prompt")

const assistantInstruction = "Kamu adalah asisten Herbit untuk pembuatan eco-enzyme. " +
	"Jawab singkat dalam bahasa Indonesia. Eco-enzyme dibuat dengan perbandingan " +
	"1 gula : 3 sampah organik : 10 air dan difermentasi selama 90 hari."

// Generator produces a text reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// GeminiGenerator calls the Gemini API.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(assistantInstruction, genai.RoleUser),
		MaxOutputTokens:   1024,
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	return resp.Text(), nil
}

// AssistantService answers free-form questions about eco-enzyme.
type AssistantService struct {
	gen Generator
	log *zap.Logger
}

// NewAssistantService accepts a nil generator; Ask then reports the assistant as
// unavailable.
func NewAssistantService(gen Generator, log *zap.Logger) *AssistantService {
	return &AssistantService{gen: gen, log: log}
}

func (s *AssistantService) Enabled() bool {
	return s.gen != nil
}

// Ask returns the model's reply. Model failures are logged and answered with an
// apology so callers always have something to show.
func (s *AssistantService) Ask(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	if utf8.RuneCountInString(prompt) > maxPromptRunes {
		prompt = string([]rune(prompt)[:maxPromptRunes])
	}
	if s.gen == nil {
		return "⚠️ Asisten belum dikonfigurasi.", nil
	}

	reply, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		s.log.Warn("assistant request failed", zap.Error(err))
		return fmt.Sprintf("⚠️ Error dari Gemini: %s", err.Error()), nil
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return FallbackReply, nil
	}
	return reply, nil
}

// Package chat backs the recommendation assistant with Gemini.
package chat

import (
	"context"
	"fmt"
	"strings"

	"guitar-practice/utils"

	"google.golang.org/genai"
)

const systemPrompt = `You are the practice assistant for a guitar store and online lesson platform.
You help learners with:
- Choosing guitars, strings, picks and accessories for their level and budget
- Picking the right course or lesson for their goals
- Interpreting practice scores (pitch, rhythm, technique) and what to work on next
- General guitar technique and practice-routine questions

Recommend concrete products or lessons when asked, but never invent prices or stock.
Keep responses conversational and under 200 words unless more detail is specifically requested.`

const modelName = "gemini-2.5-flash"

// Assistant wraps the Gemini client with the platform's coaching persona.
type Assistant struct {
	client *genai.Client
	ctx    context.Context
}

// NewAssistant builds the assistant from GEMINI_API_KEY.
func NewAssistant() (*Assistant, error) {
	apiKey := utils.GetEnv("GEMINI_API_KEY", "")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required")
	}

	ctx := context.Background()
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %v", err)
	}

	return &Assistant{client: client, ctx: ctx}, nil
}

func generationConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleModel),
		Temperature:       genai.Ptr(float32(0.7)),
		TopP:              genai.Ptr(float32(0.8)),
		TopK:              genai.Ptr(float32(40)),
		MaxOutputTokens:   int32(300),
	}
}

// Recommend answers a single user message.
func (a *Assistant) Recommend(message string) (string, error) {
	userContent := genai.NewContentFromText(message, genai.RoleUser)

	resp, err := a.client.Models.GenerateContent(
		a.ctx,
		modelName,
		[]*genai.Content{userContent},
		generationConfig(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %v", err)
	}

	text := resp.Text()
	if text == "" {
		return "I'm sorry, I couldn't come up with a recommendation. Please try rephrasing your question.", nil
	}

	return strings.ReplaceAll(text, "*", ""), nil
}

// RecommendStream streams the answer chunk by chunk through onChunk.
func (a *Assistant) RecommendStream(message string, onChunk func(string) error) error {
	userContent := genai.NewContentFromText(message, genai.RoleUser)

	stream := a.client.Models.GenerateContentStream(
		a.ctx,
		modelName,
		[]*genai.Content{userContent},
		generationConfig(),
	)

	for resp, err := range stream {
		if err != nil {
			return fmt.Errorf("stream error: %v", err)
		}

		text := strings.ReplaceAll(resp.Text(), "*", "")
		if text != "" {
			if err := onChunk(text); err != nil {
				return fmt.Errorf("chunk callback error: %v", err)
			}
		}
	}

	return nil
}

// Copyright (C) 2025 Glasswing AI (oss@glasswing.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generator

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/glasswing-ai/aviary/services/persona/artifact"
)

// =============================================================================
// OpenAI-backed Generator
// =============================================================================

// OpenAIGenerator produces artifacts via the OpenAI API: chat completions
// for the text kinds and the image API for avatars.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying client is stateless per call.
type OpenAIGenerator struct {
	client     *openai.Client
	chatModel  string
	imageModel string
}

// NewOpenAIGenerator creates a generator from the environment.
//
// # Description
//
// Reads OPENAI_API_KEY (with a container-secret fallback at
// /run/secrets/openai_api_key), OPENAI_MODEL, and OPENAI_IMAGE_MODEL.
//
// # Outputs
//
//   - *OpenAIGenerator: Ready for use.
//   - error: Non-nil if no API key is available.
func NewOpenAIGenerator() (*OpenAIGenerator, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		secretPath := "/run/secrets/openai_api_key"
		apiKeyBytes, err := os.ReadFile(secretPath)
		if err == nil {
			apiKey = strings.TrimSpace(string(apiKeyBytes))
			slog.Info("generator.openai: read API key from container secret")
		} else {
			slog.Error("generator.openai: OPENAI_API_KEY not set and secret not found", "path", secretPath)
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	}

	chatModel := os.Getenv("OPENAI_MODEL")
	if chatModel == "" {
		chatModel = "gpt-4o-mini"
		slog.Warn("generator.openai: OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	imageModel := os.Getenv("OPENAI_IMAGE_MODEL")
	if imageModel == "" {
		imageModel = openai.CreateImageModelDallE3
	}

	return &OpenAIGenerator{
		client:     openai.NewClient(apiKey),
		chatModel:  chatModel,
		imageModel: imageModel,
	}, nil
}

// NewOpenAIGeneratorWithClient creates a generator with an injected
// client, for tests against a fake API server.
func NewOpenAIGeneratorWithClient(client *openai.Client, chatModel, imageModel string) *OpenAIGenerator {
	return &OpenAIGenerator{client: client, chatModel: chatModel, imageModel: imageModel}
}

// Generate implements Generator.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (artifact.Value, error) {
	switch req.Kind.Shape {
	case artifact.ShapeBlob:
		return g.generateImage(ctx, req)
	case artifact.ShapeTextList:
		text, err := g.complete(ctx, req)
		if err != nil {
			return artifact.Value{}, err
		}
		items := splitList(text)
		if len(items) == 0 {
			return artifact.Value{}, fmt.Errorf("generator produced no usable list items")
		}
		return artifact.ListValue(items), nil
	default:
		text, err := g.complete(ctx, req)
		if err != nil {
			return artifact.Value{}, err
		}
		if text == "" {
			return artifact.Value{}, fmt.Errorf("generator produced empty text")
		}
		return artifact.TextValue(text), nil
	}
}

// complete runs a single chat completion for a text-shaped artifact.
func (g *OpenAIGenerator) complete(ctx context.Context, req Request) (string, error) {
	prompt, ok := textPrompts[req.Kind.Kind]
	if !ok {
		return "", fmt.Errorf("no prompt template for artifact kind %q", req.Kind.Kind)
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: prompt},
			{Role: openai.ChatMessageRoleUser, Content: req.Charter},
		},
	})
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// generateImage renders the avatar from the visual description, falling
// back to the charter when the prerequisite has not been produced yet.
func (g *OpenAIGenerator) generateImage(ctx context.Context, req Request) (artifact.Value, error) {
	prompt := req.Prerequisite.Text
	if prompt == "" {
		prompt = "A simple, friendly avatar for an assistant described as: " + req.Charter
	}

	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Model:          g.imageModel,
		Prompt:         prompt,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return artifact.Value{}, fmt.Errorf("openai image generation: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return artifact.Value{}, fmt.Errorf("openai returned no image data")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return artifact.Value{}, fmt.Errorf("decode image payload: %w", err)
	}
	return artifact.BlobValue(data, "image/png"), nil
}

// textPrompts holds the system prompt per text-shaped artifact kind.
var textPrompts = map[artifact.Kind]string{
	artifact.KindShortDescription: "Write a single-sentence description of the assistant whose charter follows. Respond with the sentence only.",
	artifact.KindLabel:            "Write a 2-3 word label naming the assistant whose charter follows. Respond with the label only.",
	artifact.KindTags:             "List 3-6 short classification tags for the assistant whose charter follows, one per line. Respond with the tags only.",
	artifact.KindVisualDescription: "Describe a stable visual identity (appearance, palette, mood) for an avatar representing the assistant " +
		"whose charter follows. Two sentences, concrete and renderable.",
}

// splitList parses generator output into tag items, accepting newline or
// comma separation and stripping common list bullets.
func splitList(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return r == '\n' || r == ','
	})
	items := make([]string, 0, len(fields))
	for _, f := range fields {
		item := strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(f), "-*•0123456789. "))
		if item != "" {
			items = append(items, item)
		}
	}
	return items
}

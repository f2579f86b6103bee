// Package content turns media into a caption: one vision call to describe the
// media, then one text call to write the caption.
package content

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/maheshrc27/seriesflow/internal/media"
)

const (
	FallbackDescription = "Image analysis not available"
	FallbackCaption     = "New post from our series. Stay tuned for more! #content #socialmedia #newpost"
)

const describeInstruction = `You describe images for a social media copywriter.
Write two or three plain sentences about what the image shows: subject, setting, mood, colours.
Do not use headings, labels, lists, markdown or quotation marks.`

const captionInstruction = `You write social media captions.
Follow the creator's instructions below. Reply with the caption text only, as plain prose,
optionally followed by hashtags. Never include labels such as "Caption:", markdown, headings,
quotation marks around the whole text, or any commentary about the instructions.

Creator instructions:
%s

Target platforms: %s`

type Config struct {
	BaseURL     string
	APIKey      string
	VisionModel string
	TextModel   string
	Timeout     time.Duration
}

// Generator is the content generation adapter. Neither call retries.
type Generator struct {
	client      openai.Client
	visionModel string
	textModel   string
}

func NewGenerator(cfg Config) *Generator {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &Generator{
		client:      openai.NewClient(opts...),
		visionModel: cfg.VisionModel,
		textModel:   cfg.TextModel,
	}
}

// Describe never fails: any error yields FallbackDescription so captioning can proceed.
func (g *Generator) Describe(ctx context.Context, data []byte, mimeType string) string {
	if media.KindFromMime(mimeType) != media.KindImage {
		slog.Info("skipping vision analysis for non-image media", "mime_type", mimeType)
		return FallbackDescription
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.visionModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(describeInstruction),
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart("Describe this image."),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
			}),
		},
	}

	text, err := g.complete(ctx, params)
	if err != nil {
		slog.Warn("image description failed, using fallback", "error", err)
		return FallbackDescription
	}
	return text
}

// Caption never returns the raw prompt: failures yield FallbackCaption.
func (g *Generator) Caption(ctx context.Context, description, prompt string, platforms []string) string {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.textModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(fmt.Sprintf(captionInstruction, prompt, strings.Join(platforms, ", "))),
			openai.UserMessage("Media description: " + description),
		},
	}

	text, err := g.complete(ctx, params)
	if err != nil {
		slog.Warn("caption generation failed, using fallback", "error", err)
		return FallbackCaption
	}
	return text
}

func (g *Generator) complete(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	completion, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(completion.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	text := Sanitize(completion.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("empty content in response")
	}
	return text, nil
}

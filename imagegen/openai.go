package imagegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI images backend.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // default https://api.openai.com/v1
	Model   string // default dall-e-3
	// HTTPClient overrides the default client, mostly for tests.
	HTTPClient *http.Client
}

// OpenAIBackend generates through the OpenAI images API. Steps, guidance,
// seeds and LoRAs have no equivalent there and are ignored.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

// NewOpenAIBackend builds a client for cfg.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("imagegen: OpenAI API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	model := cfg.Model
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	return &OpenAIBackend{client: openai.NewClientWithConfig(clientCfg), model: model}, nil
}

func (b *OpenAIBackend) Name() string { return KindOpenAI }

func (b *OpenAIBackend) Generate(ctx context.Context, req Request) (*Image, error) {
	prompt := req.Prompt
	if req.NegativePrompt != "" {
		prompt += "\nAvoid: " + req.NegativePrompt
	}
	size := NearestSize(b.model, req.Width, req.Height)

	imgReq := openai.ImageRequest{
		Prompt:         prompt,
		Model:          b.model,
		N:              1,
		Size:           size,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	}
	if b.model == openai.CreateImageModelDallE3 {
		imgReq.Style = openai.CreateImageStyleVivid
	}

	resp, err := b.client.CreateImage(ctx, imgReq)
	if err != nil {
		return nil, fmt.Errorf("imagegen: OpenAI image generation failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, ErrEmptyResponse
	}
	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOutput, err)
	}

	var w, h int
	fmt.Sscanf(size, "%dx%d", &w, &h)
	return &Image{PNG: data, Width: w, Height: h, Seed: -1}, nil
}

// NearestSize maps a requested size onto one the model supports, by
// aspect ratio.
func NearestSize(model string, width, height int) string {
	if model == openai.CreateImageModelDallE2 {
		switch longest := max(width, height); {
		case longest <= 256:
			return openai.CreateImageSize256x256
		case longest <= 512:
			return openai.CreateImageSize512x512
		default:
			return openai.CreateImageSize1024x1024
		}
	}
	ratio := float64(width) / float64(height)
	switch {
	case ratio >= 1.4:
		return openai.CreateImageSize1792x1024
	case ratio <= 1/1.4:
		return openai.CreateImageSize1024x1792
	default:
		return openai.CreateImageSize1024x1024
	}
}

var _ Backend = (*OpenAIBackend)(nil)

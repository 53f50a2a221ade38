package model

import (
	"fmt"
	"time"
)

// Models accepted by the remote generation API.
var Models = []string{
	"black-forest-labs/flux-schnell",
	"black-forest-labs/flux-pro",
	"black-forest-labs/flux-1.1-pro",
	"ideogram-ai/ideogram-v2",
	"recraft-ai/recraft-v3-svg",
}

// AspectRatios lists the aspect ratios offered for generation.
var AspectRatios = []string{"1:1", "2:3", "3:2", "3:4", "4:3", "4:5", "5:4", "9:16", "16:9"}

// OutputFormats lists the encodings the generation API can return.
var OutputFormats = []string{"png", "jpg", "webp"}

const (
	DefaultModel         = "black-forest-labs/flux-schnell"
	DefaultAspectRatio   = "1:1"
	DefaultOutputFormat  = "webp"
	DefaultOutputQuality = 80
)

// GenerationInput holds the parameters a generated image was requested with.
type GenerationInput struct {
	Model         string `json:"model"`
	Prompt        string `json:"prompt"`
	Style         string `json:"style,omitempty"`
	AspectRatio   string `json:"aspectRatio,omitempty"`
	OutputFormat  string `json:"outputFormat,omitempty"`
	OutputQuality int    `json:"outputQuality,omitempty"`
}

// WithDefaults fills unset optional fields.
func (in GenerationInput) WithDefaults() GenerationInput {
	if in.Model == "" {
		in.Model = DefaultModel
	}
	if in.AspectRatio == "" {
		in.AspectRatio = DefaultAspectRatio
	}
	if in.OutputFormat == "" {
		in.OutputFormat = DefaultOutputFormat
	}
	if in.OutputQuality == 0 {
		in.OutputQuality = DefaultOutputQuality
	}
	return in
}

// Validate checks the input against the supported option sets.
func (in GenerationInput) Validate() error {
	if in.Prompt == "" {
		return fmt.Errorf("prompt is required")
	}
	if !contains(Models, in.Model) {
		return fmt.Errorf("unsupported model: %s", in.Model)
	}
	if in.AspectRatio != "" && !contains(AspectRatios, in.AspectRatio) {
		return fmt.Errorf("unsupported aspect ratio: %s", in.AspectRatio)
	}
	if in.OutputFormat != "" && !contains(OutputFormats, in.OutputFormat) {
		return fmt.Errorf("unsupported output format: %s", in.OutputFormat)
	}
	if in.OutputQuality < 0 || in.OutputQuality > 100 {
		return fmt.Errorf("output quality must be between 1 and 100")
	}
	return nil
}

// GeneratedImage is a result of the remote generation API. The raster itself
// lives in blob storage under ID.
type GeneratedImage struct {
	ID          string          `json:"id"`
	Input       GenerationInput `json:"input"`
	Seed        int64           `json:"seed"`
	IsPreview   bool            `json:"isPreview"`
	ContentType string          `json:"contentType"`
	ParentID    string          `json:"parentId,omitempty"`
	MediaID     int             `json:"mediaId,omitempty"`
	Created     time.Time       `json:"created"`
}

// Extension returns the file extension used when saving the image.
func (g *GeneratedImage) Extension() string {
	if g.Input.OutputFormat != "" {
		return g.Input.OutputFormat
	}
	switch g.ContentType {
	case "image/png":
		return "png"
	case "image/jpeg":
		return "jpg"
	case "image/svg+xml":
		return "svg"
	}
	return "webp"
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

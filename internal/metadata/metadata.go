// Package metadata generates alt text, captions, titles and descriptions for
// media library images and optionally writes them back to the attachment.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leca/yodel-image/internal/genapi"
	"github.com/leca/yodel-image/internal/model"
	"github.com/leca/yodel-image/internal/wordpress"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/text/language"
)

// ErrInvalidInput is returned for bad media ids, fields or languages.
var ErrInvalidInput = errors.New("invalid input")

// Languages the metadata model can write in.
var Languages = []language.Tag{
	language.English, language.Spanish, language.Chinese, language.Hindi,
	language.Arabic, language.French, language.Bengali, language.Portuguese,
	language.Russian, language.Japanese, language.German, language.Korean,
	language.Turkish, language.Italian, language.Vietnamese,
}

var matcher = language.NewMatcher(Languages)

// API is the part of the generation API the service calls.
type API interface {
	GenerateMetadata(ctx context.Context, req genapi.MetadataRequest) (*model.Metadata, error)
	CreatePrediction(ctx context.Context, req genapi.MetadataRequest) (*model.Prediction, error)
	PollPrediction(ctx context.Context, id string, interval time.Duration, maxRetries int) (*model.Prediction, error)
}

// MediaLibrary reads and updates attachments on the host site.
type MediaLibrary interface {
	GetImage(ctx context.Context, id int) (*wordpress.Media, error)
	UpdateImage(ctx context.Context, id int, fields map[string]string) error
}

type Options struct {
	Model           string
	DefaultLanguage string
	PollInterval    time.Duration
	PollMaxRetries  int
	Logger          *slog.Logger
}

type Service struct {
	api    API
	media  MediaLibrary
	opts   Options
	logger *slog.Logger
}

func New(api API, media MediaLibrary, opts Options) *Service {
	if opts.DefaultLanguage == "" {
		opts.DefaultLanguage = "en"
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.PollMaxRetries <= 0 {
		opts.PollMaxRetries = 10
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{api: api, media: media, opts: opts, logger: logger}
}

// Request asks for metadata for one attachment. Empty Fields means all four.
type Request struct {
	MediaID  int                   `json:"mediaId"`
	Fields   []model.MetadataField `json:"fields,omitempty"`
	Language string                `json:"language,omitempty"`
	// Apply writes the generated fields back to the attachment.
	Apply bool `json:"apply,omitempty"`
	// Async runs the job as a prediction and polls for the result.
	Async bool `json:"async,omitempty"`
}

// Result is the generated metadata and what it cost.
type Result struct {
	MediaID  int            `json:"mediaId"`
	Language string         `json:"language"`
	Metadata model.Metadata `json:"metadata"`
	Credits  int            `json:"credits"`
	Applied  bool           `json:"applied"`
}

// Generate produces metadata for req.MediaID.
func (s *Service) Generate(ctx context.Context, req Request) (*Result, error) {
	if req.MediaID <= 0 {
		return nil, fmt.Errorf("%w: media id is required", ErrInvalidInput)
	}
	fields, err := normalizeFields(req.Fields)
	if err != nil {
		return nil, err
	}
	lang, err := resolveLanguage(req.Language, s.opts.DefaultLanguage)
	if err != nil {
		return nil, err
	}

	media, err := s.media.GetImage(ctx, req.MediaID)
	if err != nil {
		return nil, err
	}
	if media.MimeType != "" && !strings.HasPrefix(media.MimeType, "image/") {
		return nil, fmt.Errorf("%w: media %d is %s, not an image", ErrInvalidInput, req.MediaID, media.MimeType)
	}

	apiReq := genapi.MetadataRequest{
		Model:    s.opts.Model,
		ImageURL: media.SourceURL,
		Fields:   fields,
		Quantity: len(fields) * model.CreditCost,
		Language: lang,
	}
	var meta *model.Metadata
	if req.Async {
		meta, err = s.predict(ctx, apiReq)
	} else {
		meta, err = s.api.GenerateMetadata(ctx, apiReq)
	}
	if err != nil {
		return nil, err
	}

	out := clean(meta.Only(fields))
	res := &Result{
		MediaID:  req.MediaID,
		Language: lang,
		Metadata: out,
		Credits:  apiReq.Quantity,
	}
	if req.Apply {
		if f := out.Fields(); len(f) > 0 {
			if err := s.media.UpdateImage(ctx, req.MediaID, f); err != nil {
				return nil, err
			}
			res.Applied = true
		}
	}
	s.logger.Info("generated metadata", "media_id", req.MediaID, "fields", len(fields), "language", lang, "applied", res.Applied)
	return res, nil
}

func (s *Service) predict(ctx context.Context, req genapi.MetadataRequest) (*model.Metadata, error) {
	p, err := s.api.CreatePrediction(ctx, req)
	if err != nil {
		return nil, err
	}
	if !p.Terminal() {
		p, err = s.api.PollPrediction(ctx, p.ID, s.opts.PollInterval, s.opts.PollMaxRetries)
		if err != nil {
			return nil, err
		}
	}
	if p.Status == model.StatusFailed {
		msg := p.Error
		if msg == "" {
			msg = "prediction failed"
		}
		return nil, fmt.Errorf("%w: %s", genapi.ErrGenerationFailed, msg)
	}
	if p.Output == nil {
		return nil, fmt.Errorf("%w: prediction %s has no output", genapi.ErrGenerationFailed, p.ID)
	}
	return p.Output, nil
}

func normalizeFields(fields []model.MetadataField) ([]model.MetadataField, error) {
	if len(fields) == 0 {
		return model.MetadataFields, nil
	}
	seen := make(map[model.MetadataField]bool, len(fields))
	out := make([]model.MetadataField, 0, len(fields))
	for _, f := range fields {
		parsed, err := model.ParseMetadataField(string(f))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
		}
		if !seen[parsed] {
			seen[parsed] = true
			out = append(out, parsed)
		}
	}
	return out, nil
}

// resolveLanguage parses a BCP-47 tag and maps it onto a supported base
// language ("pt-BR" becomes "pt").
func resolveLanguage(tag, fallback string) (string, error) {
	if tag == "" {
		tag = fallback
	}
	t, err := language.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("%w: language %q: %w", ErrInvalidInput, tag, err)
	}
	_, idx, conf := matcher.Match(t)
	if conf < language.High {
		return "", fmt.Errorf("%w: unsupported language %q", ErrInvalidInput, tag)
	}
	base, _ := Languages[idx].Base()
	return base.String(), nil
}

// stripHTML keeps the text content of s with entities decoded. Models
// sometimes wrap long fields in paragraphs. A "<" that does not open a tag is
// text and survives.
func stripHTML(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := false
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(b.String())
		case html.StartTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Script, atom.Style:
				skip = true
			}
		case html.EndTagToken:
			skip = false
		case html.TextToken:
			if !skip {
				b.Write(z.Text())
			}
		}
	}
}

func clean(m model.Metadata) model.Metadata {
	m.AltText = strings.TrimSpace(m.AltText)
	m.Title = strings.TrimSpace(m.Title)
	m.Caption = stripHTML(m.Caption)
	m.Description = stripHTML(m.Description)
	return m
}

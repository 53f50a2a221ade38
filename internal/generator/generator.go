// Package generator orchestrates image generation: fresh previews, seeded
// iterations on a selected result, upscaling to full quality and saving to the
// media library.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leca/yodel-image/internal/database"
	"github.com/leca/yodel-image/internal/genapi"
	"github.com/leca/yodel-image/internal/model"
	"github.com/leca/yodel-image/internal/seed"
	"github.com/leca/yodel-image/internal/storage"
	"golang.org/x/sync/errgroup"
)

// MaxQuantity is the largest number of images one request may produce.
const MaxQuantity = 4

// svgModel outputs SVG, which the media library only accepts when the site
// enabled SVG uploads.
const svgModel = "recraft-ai/recraft-v3-svg"

var (
	// ErrNotFound is returned for an unknown image id.
	ErrNotFound = errors.New("generated image not found")
	// ErrInvalidInput is returned when a request fails validation.
	ErrInvalidInput = errors.New("invalid input")
)

// ImageAPI is the part of the generation API the service calls.
type ImageAPI interface {
	GenerateImage(ctx context.Context, req genapi.GenerateRequest) (*genapi.ImageResult, error)
	UpscaleImage(ctx context.Context, image []byte, contentType, prompt string) (*genapi.ImageResult, error)
}

// MediaLibrary stores finished images on the host site.
type MediaLibrary interface {
	SaveImage(ctx context.Context, filename string, data []byte, contentType string, meta map[string]string) (int, error)
}

// Options configures a Service. Zero values get defaults.
type Options struct {
	MaxConcurrency int
	SVGSupport     bool
	// Rand returns a value in [0, n). Defaults to math/rand/v2.
	Rand   func(n int64) int64
	Now    func() time.Time
	Logger *slog.Logger
}

// Service generates images and keeps them until they are saved or cleared.
type Service struct {
	api            ImageAPI
	media          MediaLibrary
	db             database.Database
	store          storage.Storage
	maxConcurrency int
	svgSupport     bool
	rand           func(n int64) int64
	now            func() time.Time
	logger         *slog.Logger
	saving         sync.Map // image id -> *sync.Mutex
}

// New creates a Service. Images are recorded in db and their bytes kept in
// store.
func New(api ImageAPI, media MediaLibrary, db database.Database, store storage.Storage, opts Options) *Service {
	s := &Service{
		api:            api,
		media:          media,
		db:             db,
		store:          store,
		maxConcurrency: opts.MaxConcurrency,
		svgSupport:     opts.SVGSupport,
		rand:           opts.Rand,
		now:            opts.Now,
		logger:         opts.Logger,
	}
	if s.maxConcurrency < 1 {
		s.maxConcurrency = MaxQuantity
	}
	if s.rand == nil {
		s.rand = rand.Int64N
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Result is the outcome of one requested image. Exactly one of Image and Err
// is set.
type Result struct {
	Index int
	Seed  int64
	Image *model.GeneratedImage
	Err   error
}

// Generate produces quantity previews for input, each with its own seed
// derived from the prompt. Items run concurrently and fail independently;
// the returned slice has one entry per item in request order. The error is
// non-nil only when the request itself is invalid.
func (s *Service) Generate(ctx context.Context, input model.GenerationInput, quantity int) ([]Result, error) {
	input = input.WithDefaults()
	if err := s.validate(input, quantity); err != nil {
		return nil, err
	}

	seeds := make([]int64, quantity)
	for i := range seeds {
		seeds[i] = seed.Unique(input.Prompt, s.rand)
	}
	results := s.fanOut(ctx, input, seeds, "")
	s.logger.Info("generated previews", "requested", quantity, "succeeded", countSucceeded(results))
	return results, nil
}

// IterateRequest describes variations of an existing image. Non-empty input
// fields override the parent's; the model is always the parent's.
type IterateRequest struct {
	Input       model.GenerationInput
	Quantity    int
	Temperature float64
}

// Iterate generates variants near the image id by deriving iteration seeds
// from its seed.
func (s *Service) Iterate(ctx context.Context, id string, req IterateRequest) ([]Result, error) {
	parent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	input := mergeInput(parent.Input, req.Input)
	if err := s.validate(input, req.Quantity); err != nil {
		return nil, err
	}

	seeds := make([]int64, req.Quantity)
	for i := range seeds {
		seeds[i] = seed.Iteration(parent.Seed, i+1, req.Temperature)
	}
	results := s.fanOut(ctx, input, seeds, parent.ID)
	s.logger.Info("generated iterations", "parent", parent.ID, "requested", req.Quantity, "succeeded", countSucceeded(results))
	return results, nil
}

// Upscale promotes a preview to a full-quality image with the same seed and
// input. The preview is kept.
func (s *Service) Upscale(ctx context.Context, id string) (*model.GeneratedImage, error) {
	parent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !parent.IsPreview {
		return nil, fmt.Errorf("%w: image %s is already full quality", ErrInvalidInput, id)
	}
	data, err := storage.ReadAll(s.store, storage.BucketGenerations, parent.ID)
	if err != nil {
		return nil, fmt.Errorf("reading image %s: %w", parent.ID, err)
	}

	out, err := s.api.UpscaleImage(ctx, data, parent.ContentType, parent.Input.Prompt)
	if err != nil {
		s.logger.Warn("upscale failed", "id", parent.ID, "error", err)
		return nil, err
	}

	img := &model.GeneratedImage{
		ID:          uuid.New().String(),
		Input:       parent.Input,
		Seed:        parent.Seed,
		IsPreview:   false,
		ContentType: out.ContentType,
		ParentID:    parent.ID,
		Created:     s.now().UTC(),
	}
	if err := s.persist(img, out.Data); err != nil {
		return nil, err
	}
	return img, nil
}

// Save uploads the image to the media library. On failure the image stays in
// the store so the caller can retry. An image that was already saved is
// returned as is without a second upload.
func (s *Service) Save(ctx context.Context, id string) (*model.GeneratedImage, error) {
	v, _ := s.saving.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	img, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if img.MediaID != 0 {
		return img, nil
	}
	data, err := storage.ReadAll(s.store, storage.BucketGenerations, img.ID)
	if err != nil {
		return nil, fmt.Errorf("reading image %s: %w", img.ID, err)
	}

	inputJSON, err := json.Marshal(img.Input)
	if err != nil {
		return nil, fmt.Errorf("marshal input: %w", err)
	}
	filename := uuid.New().String() + "." + img.Extension()
	mediaID, err := s.media.SaveImage(ctx, filename, data, img.ContentType, map[string]string{
		"yodel_image_input": string(inputJSON),
		"yodel_image_seed":  strconv.FormatInt(img.Seed, 10),
	})
	if err != nil {
		s.logger.Warn("save to media library failed", "id", img.ID, "error", err)
		return nil, err
	}

	if err := s.db.SetGeneratedImageMediaID(img.ID, mediaID); err != nil {
		return nil, fmt.Errorf("recording media id: %w", err)
	}
	img.MediaID = mediaID
	s.logger.Info("saved image to media library", "id", img.ID, "media_id", mediaID)
	return img, nil
}

// Get returns a stored image.
func (s *Service) Get(_ context.Context, id string) (*model.GeneratedImage, error) {
	img, err := s.db.GetGeneratedImage(id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return img, err
}

// List returns every stored image, newest first.
func (s *Service) List(_ context.Context) ([]*model.GeneratedImage, error) {
	return s.db.ListGeneratedImages()
}

// Blob returns the raster of a stored image and its content type.
func (s *Service) Blob(ctx context.Context, id string) ([]byte, string, error) {
	img, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	data, err := storage.ReadAll(s.store, storage.BucketGenerations, img.ID)
	if err != nil {
		return nil, "", fmt.Errorf("reading image %s: %w", img.ID, err)
	}
	return data, img.ContentType, nil
}

// Clear removes every stored image and its raster.
func (s *Service) Clear(_ context.Context) error {
	ids, err := s.db.DeleteAllGeneratedImages()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := s.store.Delete(storage.BucketGenerations, id); err != nil {
			s.logger.Warn("failed to delete image blob", "id", id, "error", err)
		}
		s.saving.Delete(id)
	}
	return nil
}

func (s *Service) validate(input model.GenerationInput, quantity int) error {
	if quantity < 1 || quantity > MaxQuantity {
		return fmt.Errorf("%w: quantity must be between 1 and %d", ErrInvalidInput, MaxQuantity)
	}
	if err := input.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if input.Model == svgModel && !s.svgSupport {
		return fmt.Errorf("%w: SVG support is disabled", ErrInvalidInput)
	}
	return nil
}

// fanOut generates one image per seed. A failing item never cancels its
// siblings: each goroutine records its own outcome and returns nil.
func (s *Service) fanOut(ctx context.Context, input model.GenerationInput, seeds []int64, parentID string) []Result {
	results := make([]Result, len(seeds))

	var g errgroup.Group
	g.SetLimit(s.maxConcurrency)
	for i, sd := range seeds {
		g.Go(func() error {
			img, err := s.generateOne(ctx, input, sd, parentID)
			if err != nil {
				s.logger.Warn("image generation failed", "index", i, "seed", sd, "error", err)
			}
			results[i] = Result{Index: i, Seed: sd, Image: img, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) generateOne(ctx context.Context, input model.GenerationInput, sd int64, parentID string) (*model.GeneratedImage, error) {
	out, err := s.api.GenerateImage(ctx, genapi.GenerateRequest{
		Model:         input.Model,
		Prompt:        input.Prompt,
		Style:         input.Style,
		AspectRatio:   input.AspectRatio,
		OutputFormat:  input.OutputFormat,
		OutputQuality: input.OutputQuality,
		Seed:          &sd,
	})
	if err != nil {
		return nil, err
	}

	img := &model.GeneratedImage{
		ID:          uuid.New().String(),
		Input:       input,
		Seed:        sd,
		IsPreview:   true,
		ContentType: out.ContentType,
		ParentID:    parentID,
		Created:     s.now().UTC(),
	}
	if err := s.persist(img, out.Data); err != nil {
		return nil, err
	}
	return img, nil
}

func (s *Service) persist(img *model.GeneratedImage, data []byte) error {
	if _, err := s.store.Store(storage.BucketGenerations, img.ID, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("storing image: %w", err)
	}
	if err := s.db.CreateGeneratedImage(img); err != nil {
		_ = s.store.Delete(storage.BucketGenerations, img.ID)
		return fmt.Errorf("recording image: %w", err)
	}
	return nil
}

func mergeInput(parent, override model.GenerationInput) model.GenerationInput {
	out := parent
	if override.Prompt != "" {
		out.Prompt = override.Prompt
	}
	if override.Style != "" {
		out.Style = override.Style
	}
	if override.AspectRatio != "" {
		out.AspectRatio = override.AspectRatio
	}
	if override.OutputFormat != "" {
		out.OutputFormat = override.OutputFormat
	}
	if override.OutputQuality != 0 {
		out.OutputQuality = override.OutputQuality
	}
	return out
}

func countSucceeded(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Err == nil {
			n++
		}
	}
	return n
}

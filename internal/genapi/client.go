// Package genapi is a client for the hosted image generation API: image
// generation and upscaling, metadata inference, and account lookups.
package genapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
)

var (
	// ErrGenerationFailed wraps any failed call to the generation API.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrPollingTimeout is returned when a prediction does not reach a
	// terminal status within the retry budget.
	ErrPollingTimeout = errors.New("polling timed out")
)

// defaultMaxImageBytes bounds a single image response.
const defaultMaxImageBytes = 64 << 20

// Options configures a Client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
	// MaxImageBytes rejects larger image responses. Defaults to 64 MiB.
	MaxImageBytes int64
	Logger        *slog.Logger
}

// Client calls the image generation API.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	token         string
	maxImageBytes int64
	logger        *slog.Logger
}

// NewClient returns a Client for the API at opts.BaseURL.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBytes := opts.MaxImageBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxImageBytes
	}
	return &Client{
		httpClient:    client,
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		token:         strings.TrimSpace(opts.APIKey),
		maxImageBytes: maxBytes,
		logger:        logger,
	}
}

// GenerateRequest is the body of an image generation call. Optional fields
// are omitted when empty so the API applies its own defaults.
type GenerateRequest struct {
	Model         string `json:"model"`
	Prompt        string `json:"prompt"`
	Style         string `json:"style,omitempty"`
	AspectRatio   string `json:"aspectRatio,omitempty"`
	OutputFormat  string `json:"outputFormat,omitempty"`
	OutputQuality int    `json:"outputQuality,omitempty"`
	Seed          *int64 `json:"seed,omitempty"`
}

// ImageResult is a binary image returned by the API.
type ImageResult struct {
	Data        []byte
	ContentType string
}

// GenerateImage requests a single image.
func (c *Client) GenerateImage(ctx context.Context, req GenerateRequest) (*ImageResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrGenerationFailed)
	}
	resp, err := c.do(ctx, http.MethodPost, "/image/generate", req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()
	return c.readImage(ctx, resp)
}

type upscaleRequest struct {
	Image  string `json:"image"`
	Prompt string `json:"prompt"`
}

// UpscaleImage sends image to the upscaler and returns the full-quality result.
func (c *Client) UpscaleImage(ctx context.Context, image []byte, contentType, prompt string) (*ImageResult, error) {
	if len(image) == 0 {
		return nil, fmt.Errorf("%w: image is required", ErrGenerationFailed)
	}
	if contentType == "" {
		contentType = http.DetectContentType(image)
	}
	body := upscaleRequest{
		Image:  "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(image),
		Prompt: prompt,
	}
	resp, err := c.do(ctx, http.MethodPost, "/image/upscale", body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()
	return c.readImage(ctx, resp)
}

// Account is the API account tied to the configured key.
type Account struct {
	Email      string `json:"email,omitempty"`
	Credits    int    `json:"credits"`
	CustomerID string `json:"customerId,omitempty"`
}

// Account returns the account of the configured API key.
func (c *Client) Account(ctx context.Context) (*Account, error) {
	resp, err := c.do(ctx, http.MethodGet, "/account", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()
	var acct Account
	if err := json.NewDecoder(resp.Body).Decode(&acct); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	return &acct, nil
}

// do sends a request with the bearer token and returns the response when the
// status is 2xx. Other statuses are converted to an error carrying the API's
// own message when it sent one.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	if c.baseURL == "" {
		return nil, errors.New("api url is not configured")
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		err := responseError(resp)
		c.logger.Warn("generation api request failed", "method", method, "path", path, "status", resp.StatusCode, "error", err)
		return nil, err
	}
	return resp, nil
}

// responseError extracts the message or error field of a failed response.
func responseError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var body struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if json.Unmarshal(data, &body) == nil {
		if body.Message != "" {
			return errors.New(body.Message)
		}
		switch e := body.Error.(type) {
		case string:
			if e != "" {
				return errors.New(e)
			}
		case map[string]any:
			if msg, ok := e["message"].(string); ok && msg != "" {
				return errors.New(msg)
			}
		}
	}
	return fmt.Errorf("network error (HTTP %d)", resp.StatusCode)
}

// readImage accepts either a binary image body or a JSON body whose output
// field is a data URL or a URL to fetch.
func (c *Client) readImage(ctx context.Context, resp *http.Response) (*ImageResult, error) {
	ct := resp.Header.Get("Content-Type")
	mediaType, _, _ := mime.ParseMediaType(ct)

	if mediaType != "application/json" {
		data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxImageBytes+1))
		if err != nil {
			return nil, fmt.Errorf("%w: reading image: %w", ErrGenerationFailed, err)
		}
		if int64(len(data)) > c.maxImageBytes {
			return nil, fmt.Errorf("%w: image larger than %d bytes", ErrGenerationFailed, c.maxImageBytes)
		}
		if len(data) == 0 {
			return nil, fmt.Errorf("%w: empty image", ErrGenerationFailed)
		}
		if mediaType == "" || mediaType == "application/octet-stream" {
			mediaType = http.DetectContentType(data)
		}
		return &ImageResult{Data: data, ContentType: mediaType}, nil
	}

	var body struct {
		Output any `json:"output"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", ErrGenerationFailed, err)
	}
	output := ""
	switch o := body.Output.(type) {
	case string:
		output = o
	case []any:
		// Some models return a list of outputs; the first one is the image.
		if len(o) > 0 {
			output, _ = o[0].(string)
		}
	}
	switch {
	case strings.HasPrefix(output, "data:"):
		return decodeDataURL(output)
	case strings.HasPrefix(output, "http://"), strings.HasPrefix(output, "https://"):
		return c.fetch(ctx, output)
	default:
		return nil, fmt.Errorf("%w: response has no image output", ErrGenerationFailed)
	}
}

func (c *Client) fetch(ctx context.Context, url string) (*ImageResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: network error: %w", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetching output: HTTP %d", ErrGenerationFailed, resp.StatusCode)
	}
	return c.readImage(ctx, resp)
}

func decodeDataURL(s string) (*ImageResult, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(s, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("%w: malformed data url", ErrGenerationFailed)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding data url: %w", ErrGenerationFailed, err)
	}
	return &ImageResult{Data: data, ContentType: strings.TrimSuffix(header, ";base64")}, nil
}

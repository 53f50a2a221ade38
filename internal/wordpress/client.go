// Package wordpress talks to the media endpoint of the WordPress REST API.
package wordpress

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ErrSaveFailed is returned when the media library rejects an upload or an
// update, or cannot be reached.
var ErrSaveFailed = errors.New("save failed")

// ErrNotFound is returned by GetImage for an unknown attachment.
var ErrNotFound = errors.New("media not found")

// ErrRequestFailed is returned by GetImage for any other failure.
var ErrRequestFailed = errors.New("media request failed")

type Options struct {
	// RestURL is the wp/v2 base, e.g. https://example.com/wp-json/wp/v2.
	RestURL string
	// Nonce is sent as X-WP-Nonce for cookie-authenticated requests.
	Nonce string
	// User and AppPassword enable application-password basic auth.
	User        string
	AppPassword string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

type Client struct {
	httpClient  *http.Client
	restURL     string
	nonce       string
	user        string
	appPassword string
}

func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient:  client,
		restURL:     strings.TrimRight(opts.RestURL, "/"),
		nonce:       opts.Nonce,
		user:        opts.User,
		appPassword: opts.AppPassword,
	}
}

// Media is the subset of a media item the service reads.
type Media struct {
	ID          int      `json:"id"`
	SourceURL   string   `json:"source_url"`
	MimeType    string   `json:"mime_type"`
	AltText     string   `json:"alt_text"`
	Title       Rendered `json:"title"`
	Caption     Rendered `json:"caption"`
	Description Rendered `json:"description"`
}

// Rendered is a WordPress field returned as {"rendered": "..."}.
type Rendered struct {
	Rendered string `json:"rendered"`
}

// SaveImage uploads data as a new attachment and returns its ID. meta values
// are sent as additional form fields next to the file.
func (c *Client) SaveImage(ctx context.Context, filename string, data []byte, contentType string, meta map[string]string) (int, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	if _, err := part.Write(data); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	for k, v := range meta {
		if err := mw.WriteField(k, v); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrSaveFailed, err)
		}
	}
	if err := mw.Close(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/media", mw.FormDataContentType(), &body)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	defer resp.Body.Close()

	var media Media
	if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
		return 0, fmt.Errorf("%w: decode response: %w", ErrSaveFailed, err)
	}
	if media.ID == 0 {
		return 0, fmt.Errorf("%w: invalid response saving image", ErrSaveFailed)
	}
	return media.ID, nil
}

// UpdateImage writes fields (alt_text, caption, title, description, ...) on
// an existing attachment.
func (c *Client) UpdateImage(ctx context.Context, id int, fields map[string]string) error {
	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	resp, err := c.do(ctx, http.MethodPost, "/media/"+strconv.Itoa(id),
		"application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	resp.Body.Close()
	return nil
}

// GetImage loads a single attachment.
func (c *Client) GetImage(ctx context.Context, id int) (*Media, error) {
	resp, err := c.do(ctx, http.MethodGet, "/media/"+strconv.Itoa(id), "", nil)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("media %d: %w", id, err)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	var media Media
	if err := json.NewDecoder(resp.Body).Decode(&media); err != nil {
		return nil, fmt.Errorf("%w: decode media: %w", ErrRequestFailed, err)
	}
	return &media, nil
}

type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	if e.message != "" {
		return e.message
	}
	return fmt.Sprintf("network error (HTTP %d)", e.status)
}

func (e *statusError) Is(target error) bool {
	return target == ErrNotFound && e.status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader) (*http.Response, error) {
	if c.restURL == "" {
		return nil, errors.New("rest url is not configured")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.restURL+path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.nonce != "" {
		req.Header.Set("X-WP-Nonce", c.nonce)
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.appPassword)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		var wpErr struct {
			Message string `json:"message"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&wpErr)
		return nil, &statusError{status: resp.StatusCode, message: wpErr.Message}
	}
	return resp, nil
}

package genapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/leca/yodel-image/internal/model"
)

// MetadataRequest asks the API to describe an image.
type MetadataRequest struct {
	Model    string                `json:"model,omitempty"`
	ImageURL string                `json:"imageUrl"`
	Fields   []model.MetadataField `json:"fields"`
	// Quantity is the credit cost the caller agreed to.
	Quantity int    `json:"quantity"`
	Language string `json:"language,omitempty"`
}

// GenerateMetadata infers alt text, caption, title and description for an
// image in a single call.
func (c *Client) GenerateMetadata(ctx context.Context, req MetadataRequest) (*model.Metadata, error) {
	resp, err := c.do(ctx, http.MethodPost, "/image/metadata", req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	var md model.Metadata
	if err := json.NewDecoder(resp.Body).Decode(&md); err != nil {
		return nil, fmt.Errorf("%w: decode metadata: %w", ErrGenerationFailed, err)
	}
	return &md, nil
}

// CreatePrediction starts an asynchronous metadata job.
func (c *Client) CreatePrediction(ctx context.Context, req MetadataRequest) (*model.Prediction, error) {
	resp, err := c.do(ctx, http.MethodPost, "/image/metadata/predictions", req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	defer resp.Body.Close()

	var p model.Prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("%w: decode prediction: %w", ErrGenerationFailed, err)
	}
	if p.ID == "" {
		return nil, fmt.Errorf("%w: prediction has no id", ErrGenerationFailed)
	}
	return &p, nil
}

// GetPrediction fetches the current state of a metadata job.
func (c *Client) GetPrediction(ctx context.Context, id string) (*model.Prediction, error) {
	resp, err := c.do(ctx, http.MethodGet, "/image/metadata/predictions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, fmt.Errorf("get prediction %s: %w", id, err)
	}
	defer resp.Body.Close()

	var p model.Prediction
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode prediction: %w", err)
	}
	return &p, nil
}

// PollPrediction checks the job up to maxRetries times, waiting interval
// between checks, and returns it as soon as it succeeds or fails. A failed
// job is returned without error; the caller inspects Status. If the job is
// still running after the last check ErrPollingTimeout is returned. Request
// errors stop polling immediately.
func (c *Client) PollPrediction(ctx context.Context, id string, interval time.Duration, maxRetries int) (*model.Prediction, error) {
	for attempt := 1; attempt <= maxRetries; attempt++ {
		p, err := c.GetPrediction(ctx, id)
		if err != nil {
			return nil, err
		}
		if p.Terminal() {
			return p, nil
		}
		c.logger.Debug("prediction pending", "id", id, "attempt", attempt, "status", p.Status)

		if attempt == maxRetries {
			break
		}
		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("%w: prediction %s still pending after %d attempts", ErrPollingTimeout, id, maxRetries)
}

package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/leca/yodel-image/internal/api"
	"github.com/leca/yodel-image/internal/config"
	"github.com/leca/yodel-image/internal/editor"
	"github.com/leca/yodel-image/internal/genapi"
	"github.com/leca/yodel-image/internal/generator"
	"github.com/leca/yodel-image/internal/imageproc"
	"github.com/leca/yodel-image/internal/metadata"
	"github.com/leca/yodel-image/internal/wordpress"
)

// AccountSource looks up the generation API account.
type AccountSource interface {
	Account(ctx context.Context) (*genapi.Account, error)
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	Generator *generator.Service
	Editor    *editor.Service
	Metadata  *metadata.Service
	Accounts  AccountSource
	Config    *config.Config
	Logger    *slog.Logger
}

// writeError maps a service error onto a status code and error envelope.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		api.TooLarge(w, err.Error())
	case errors.Is(err, generator.ErrInvalidInput),
		errors.Is(err, editor.ErrInvalidInput),
		errors.Is(err, metadata.ErrInvalidInput):
		api.BadRequest(w, err.Error())
	case errors.Is(err, imageproc.ErrInvalidRegion),
		errors.Is(err, imageproc.ErrInvalidScale),
		errors.Is(err, imageproc.ErrTooLarge):
		api.UnprocessableEntity(w, err.Error())
	case errors.Is(err, generator.ErrNotFound),
		errors.Is(err, editor.ErrNotFound),
		errors.Is(err, wordpress.ErrNotFound):
		api.NotFound(w, err.Error())
	case errors.Is(err, genapi.ErrPollingTimeout):
		api.GatewayTimeout(w, err.Error())
	case errors.Is(err, genapi.ErrGenerationFailed),
		errors.Is(err, wordpress.ErrSaveFailed),
		errors.Is(err, wordpress.ErrRequestFailed):
		api.BadGateway(w, err.Error())
	default:
		h.logger().Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		api.InternalError(w, "internal error")
	}
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// decodeJSON reads a JSON request body into v. An empty body leaves v as is.
func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// badBody reports a request body that could not be read or parsed.
func badBody(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		api.TooLarge(w, "request body too large")
		return
	}
	api.BadRequest(w, "invalid JSON body: "+err.Error())
}

// Package editor manages edit sessions: an uploaded original plus the
// operation log that is replayed over it to produce the current image.
package editor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/leca/yodel-image/internal/database"
	"github.com/leca/yodel-image/internal/imageproc"
	"github.com/leca/yodel-image/internal/model"
	"github.com/leca/yodel-image/internal/oplog"
	"github.com/leca/yodel-image/internal/storage"
)

var (
	// ErrNotFound is returned for an unknown session id.
	ErrNotFound = errors.New("edit session not found")
	// ErrInvalidInput is returned for uploads that are not raster images and
	// for malformed operations.
	ErrInvalidInput = errors.New("invalid input")
)

// MediaLibrary stores finished images on the host site.
type MediaLibrary interface {
	SaveImage(ctx context.Context, filename string, data []byte, contentType string, meta map[string]string) (int, error)
}

// Options configures a Service.
type Options struct {
	// MaxPixels bounds every image decoded or produced by replay. Zero means
	// imageproc.DefaultMaxPixels.
	MaxPixels int64
	Logger    *slog.Logger
}

// Service runs edit sessions. Changes to one session are serialized; different
// sessions proceed in parallel.
type Service struct {
	media    MediaLibrary
	db       database.Database
	store    storage.Storage
	replayer imageproc.Replayer
	locks    sync.Map // session id -> *sync.Mutex
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Service backed by db for session records and store for the
// uploaded originals.
func New(media MediaLibrary, db database.Database, store storage.Storage, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		media:    media,
		db:       db,
		store:    store,
		replayer: imageproc.Replayer{MaxPixels: opts.MaxPixels},
		now:      time.Now,
		logger:   logger,
	}
}

// lock holds the session's mutex until the returned func is called.
func (s *Service) lock(id string) func() {
	v, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Open starts a session on an uploaded image. The data must decode as a
// raster image; it is kept unmodified as the session's original.
func (s *Service) Open(_ context.Context, filename string, data []byte) (*model.EditSession, error) {
	_, format, err := s.replayer.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	now := s.now().UTC()
	sess := &model.EditSession{
		ID:         uuid.New().String(),
		Filename:   filename,
		Format:     format,
		Operations: []model.ImageOperation{},
		Created:    now,
		Updated:    now,
	}
	if _, err := s.store.Store(storage.BucketEdits, sess.ID, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("storing original: %w", err)
	}
	if err := s.db.CreateEditSession(sess); err != nil {
		_ = s.store.Delete(storage.BucketEdits, sess.ID)
		return nil, fmt.Errorf("recording session: %w", err)
	}
	s.logger.Info("opened edit session", "id", sess.ID, "format", format, "size", len(data))
	return sess, nil
}

// Get returns a session.
func (s *Service) Get(_ context.Context, id string) (*model.EditSession, error) {
	sess, err := s.db.GetEditSession(id)
	if errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return sess, err
}

// Delete removes a session and its original.
func (s *Service) Delete(_ context.Context, id string) error {
	unlock := s.lock(id)
	defer unlock()
	defer s.locks.Delete(id)

	err := s.db.DeleteEditSession(id)
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	if err := s.store.Delete(storage.BucketEdits, id); err != nil {
		s.logger.Warn("failed to delete original", "id", id, "error", err)
	}
	return nil
}

// Apply appends op to the session log and checks that the new log replays.
// If it does not, the session is left as it was and the replay error is
// returned.
func (s *Service) Apply(ctx context.Context, id string, op model.ImageOperation) (*model.EditSession, error) {
	if err := op.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	if op.Type == model.OpRotate {
		op.Payload.Angle = model.NormalizeAngle(op.Payload.Angle)
	}

	unlock := s.lock(id)
	defer unlock()

	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := storage.ReadAll(s.store, storage.BucketEdits, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("reading original: %w", err)
	}

	ops := oplog.Append(sess.Operations, op)
	if _, _, err := s.replayer.ReplayBytes(data, ops); err != nil {
		return nil, err
	}
	return s.update(sess, ops)
}

// Revert drops the last operation of the session log.
func (s *Service) Revert(ctx context.Context, id string) (*model.EditSession, error) {
	unlock := s.lock(id)
	defer unlock()

	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.update(sess, oplog.Revert(sess.Operations))
}

// Render replays the session log over the original and returns the encoded
// image and its format.
func (s *Service) Render(ctx context.Context, id string) ([]byte, string, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return s.render(sess)
}

// Save renders the session and uploads the result to the media library.
func (s *Service) Save(ctx context.Context, id string) (*model.EditSession, error) {
	unlock := s.lock(id)
	defer unlock()

	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	data, format, err := s.render(sess)
	if err != nil {
		return nil, err
	}

	mediaID, err := s.media.SaveImage(ctx, editedFilename(sess.Filename, format), data, imageproc.ContentType(format), nil)
	if err != nil {
		s.logger.Warn("save to media library failed", "id", sess.ID, "error", err)
		return nil, err
	}
	sess.MediaID = mediaID
	sess.Updated = s.now().UTC()
	if err := s.db.UpdateEditSession(sess); err != nil {
		return nil, fmt.Errorf("recording media id: %w", err)
	}
	s.logger.Info("saved edited image", "id", sess.ID, "media_id", mediaID, "operations", len(sess.Operations))
	return sess, nil
}

func (s *Service) render(sess *model.EditSession) ([]byte, string, error) {
	data, err := storage.ReadAll(s.store, storage.BucketEdits, sess.ID)
	if err != nil {
		return nil, "", fmt.Errorf("reading original: %w", err)
	}
	return s.replayer.ReplayBytes(data, sess.Operations)
}

func (s *Service) update(sess *model.EditSession, ops []model.ImageOperation) (*model.EditSession, error) {
	next := *sess
	next.Operations = ops
	next.Updated = s.now().UTC()
	if err := s.db.UpdateEditSession(&next); err != nil {
		return nil, fmt.Errorf("updating session: %w", err)
	}
	return &next, nil
}

// editedFilename keeps the uploaded base name and swaps in the extension of
// the rendered format.
func editedFilename(name, format string) string {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if base == "" || base == "." || base == "/" {
		base = "image"
	}
	ext := format
	if ext == "jpeg" {
		ext = "jpg"
	}
	return base + "-edited." + ext
}

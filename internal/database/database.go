package database

import (
	"errors"

	"github.com/leca/yodel-image/internal/model"
)

// ErrNotFound is returned when a lookup or update matches no row.
var ErrNotFound = errors.New("not found")

// Database defines the persistence interface for all domain objects.
type Database interface {
	// Generated images
	CreateGeneratedImage(img *model.GeneratedImage) error
	GetGeneratedImage(id string) (*model.GeneratedImage, error)
	ListGeneratedImages() ([]*model.GeneratedImage, error)
	ListGeneratedImagesBySeed(seed int64) ([]*model.GeneratedImage, error)
	SetGeneratedImageMediaID(id string, mediaID int) error
	DeleteAllGeneratedImages() ([]string, error)

	// Edit sessions
	CreateEditSession(s *model.EditSession) error
	GetEditSession(id string) (*model.EditSession, error)
	UpdateEditSession(s *model.EditSession) error
	DeleteEditSession(id string) error

	Close() error
}

package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/leca/yodel-image/internal/model"
	_ "modernc.org/sqlite"
)

// timeFormat is fixed width so that ORDER BY on the stored text is chronological.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteDB implements Database backed by SQLite.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (or creates) an SQLite database at dsn and runs migrations.
// For in-memory use pass "file::memory:?cache=shared".
func NewSQLiteDB(dsn string) (*SQLiteDB, error) {
	if !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000"
	} else if !strings.Contains(dsn, "_journal_mode") {
		dsn += "&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Generation fans out writes from several goroutines; a single
	// connection serializes them instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// ---------------------------------------------------------------------------
// Generated images
// ---------------------------------------------------------------------------

const generatedImageColumns = `id, seed, model, prompt, style, aspect_ratio, output_format,
	output_quality, is_preview, content_type, parent_id, media_id, created`

func (s *SQLiteDB) CreateGeneratedImage(img *model.GeneratedImage) error {
	_, err := s.db.Exec(`
		INSERT INTO generated_images (`+generatedImageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		img.ID, img.Seed, img.Input.Model, img.Input.Prompt, img.Input.Style,
		img.Input.AspectRatio, img.Input.OutputFormat, img.Input.OutputQuality,
		boolToInt(img.IsPreview), img.ContentType, img.ParentID, img.MediaID,
		img.Created.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("insert generated image: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetGeneratedImage(id string) (*model.GeneratedImage, error) {
	row := s.db.QueryRow(`SELECT `+generatedImageColumns+` FROM generated_images WHERE id = ?`, id)
	img, err := scanGeneratedImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("generated image %s: %w", id, ErrNotFound)
	}
	return img, err
}

// ListGeneratedImages returns every stored image, newest first.
func (s *SQLiteDB) ListGeneratedImages() ([]*model.GeneratedImage, error) {
	rows, err := s.db.Query(`SELECT ` + generatedImageColumns + ` FROM generated_images ORDER BY created DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list generated images: %w", err)
	}
	defer rows.Close()
	return scanGeneratedImages(rows)
}

func (s *SQLiteDB) ListGeneratedImagesBySeed(seed int64) ([]*model.GeneratedImage, error) {
	rows, err := s.db.Query(`SELECT `+generatedImageColumns+` FROM generated_images WHERE seed = ? ORDER BY created DESC, id ASC`, seed)
	if err != nil {
		return nil, fmt.Errorf("list generated images by seed: %w", err)
	}
	defer rows.Close()
	return scanGeneratedImages(rows)
}

func (s *SQLiteDB) SetGeneratedImageMediaID(id string, mediaID int) error {
	res, err := s.db.Exec(`UPDATE generated_images SET media_id = ? WHERE id = ?`, mediaID, id)
	if err != nil {
		return fmt.Errorf("update generated image: %w", err)
	}
	return checkRowsAffected(res)
}

// DeleteAllGeneratedImages clears the table and returns the IDs it removed so
// the caller can drop their blobs.
func (s *SQLiteDB) DeleteAllGeneratedImages() ([]string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			slog.Error("DeleteAllGeneratedImages: rollback failed", "error", err)
		}
	}()

	rows, err := tx.Query(`SELECT id FROM generated_images`)
	if err != nil {
		return nil, fmt.Errorf("list generated image ids: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(`DELETE FROM generated_images`); err != nil {
		return nil, fmt.Errorf("delete generated images: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

// ---------------------------------------------------------------------------
// Edit sessions
// ---------------------------------------------------------------------------

func (s *SQLiteDB) CreateEditSession(es *model.EditSession) error {
	opsJSON, err := marshalOperations(es.Operations)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO edit_sessions (id, filename, format, operations, media_id, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		es.ID, es.Filename, es.Format, opsJSON, es.MediaID,
		es.Created.UTC().Format(timeFormat), es.Updated.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("insert edit session: %w", err)
	}
	return nil
}

func (s *SQLiteDB) GetEditSession(id string) (*model.EditSession, error) {
	row := s.db.QueryRow(`
		SELECT id, filename, format, operations, media_id, created, updated
		FROM edit_sessions WHERE id = ?`, id)

	es := &model.EditSession{}
	var opsJSON, createdStr, updatedStr string
	err := row.Scan(&es.ID, &es.Filename, &es.Format, &opsJSON, &es.MediaID, &createdStr, &updatedStr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("edit session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan edit session: %w", err)
	}
	if err := json.Unmarshal([]byte(opsJSON), &es.Operations); err != nil {
		return nil, fmt.Errorf("unmarshal operations: %w", err)
	}
	if es.Operations == nil {
		es.Operations = []model.ImageOperation{}
	}
	es.Created, _ = time.Parse(time.RFC3339Nano, createdStr)
	es.Updated, _ = time.Parse(time.RFC3339Nano, updatedStr)
	return es, nil
}

func (s *SQLiteDB) UpdateEditSession(es *model.EditSession) error {
	opsJSON, err := marshalOperations(es.Operations)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`
		UPDATE edit_sessions SET operations = ?, media_id = ?, updated = ?
		WHERE id = ?`,
		opsJSON, es.MediaID, es.Updated.UTC().Format(timeFormat), es.ID,
	)
	if err != nil {
		return fmt.Errorf("update edit session: %w", err)
	}
	return checkRowsAffected(res)
}

func (s *SQLiteDB) DeleteEditSession(id string) error {
	res, err := s.db.Exec(`DELETE FROM edit_sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete edit session: %w", err)
	}
	return checkRowsAffected(res)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanGeneratedImage(row scannable) (*model.GeneratedImage, error) {
	img := &model.GeneratedImage{}
	var isPreview int
	var createdStr string

	err := row.Scan(&img.ID, &img.Seed, &img.Input.Model, &img.Input.Prompt, &img.Input.Style,
		&img.Input.AspectRatio, &img.Input.OutputFormat, &img.Input.OutputQuality,
		&isPreview, &img.ContentType, &img.ParentID, &img.MediaID, &createdStr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan generated image: %w", err)
	}
	img.IsPreview = isPreview != 0
	img.Created, _ = time.Parse(time.RFC3339Nano, createdStr)
	return img, nil
}

func scanGeneratedImages(rows *sql.Rows) ([]*model.GeneratedImage, error) {
	images := []*model.GeneratedImage{}
	for rows.Next() {
		img, err := scanGeneratedImage(rows)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, rows.Err()
}

func marshalOperations(ops []model.ImageOperation) (string, error) {
	if ops == nil {
		ops = []model.ImageOperation{}
	}
	b, err := json.Marshal(ops)
	if err != nil {
		return "", fmt.Errorf("marshal operations: %w", err)
	}
	return string(b), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

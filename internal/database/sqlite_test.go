package database

import (
	"fmt"
	"testing"
	"time"

	"github.com/leca/yodel-image/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *SQLiteDB {
	t.Helper()
	db, err := NewSQLiteDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newGeneratedImage(id string, seed int64, created time.Time) *model.GeneratedImage {
	return &model.GeneratedImage{
		ID: id,
		Input: model.GenerationInput{
			Model:         "black-forest-labs/flux-schnell",
			Prompt:        "a red balloon",
			Style:         "watercolor",
			AspectRatio:   "16:9",
			OutputFormat:  "webp",
			OutputQuality: 80,
		},
		Seed:        seed,
		IsPreview:   true,
		ContentType: "image/webp",
		Created:     created,
	}
}

func TestCreateAndGetGeneratedImage(t *testing.T) {
	db := newTestDB(t)

	now := time.Now().UTC().Truncate(time.Millisecond)
	img := newGeneratedImage("gen-001", 2147483648, now)
	img.ParentID = "gen-000"
	require.NoError(t, db.CreateGeneratedImage(img))

	got, err := db.GetGeneratedImage("gen-001")
	require.NoError(t, err)
	assert.Equal(t, img.Input, got.Input)
	assert.Equal(t, int64(2147483648), got.Seed)
	assert.True(t, got.IsPreview)
	assert.Equal(t, "image/webp", got.ContentType)
	assert.Equal(t, "gen-000", got.ParentID)
	assert.True(t, now.Equal(got.Created))

	_, err = db.GetGeneratedImage("nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateGeneratedImage_DuplicateID(t *testing.T) {
	db := newTestDB(t)

	img := newGeneratedImage("dup", 1, time.Now())
	require.NoError(t, db.CreateGeneratedImage(img))
	assert.Error(t, db.CreateGeneratedImage(img))
}

func TestListGeneratedImages_NewestFirst(t *testing.T) {
	db := newTestDB(t)

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		// Sub-second spacing checks that ordering does not depend on
		// how many fractional digits a timestamp has.
		created := base.Add(time.Duration(i) * 100 * time.Millisecond)
		require.NoError(t, db.CreateGeneratedImage(newGeneratedImage(fmt.Sprintf("gen-%d", i), int64(i), created)))
	}

	images, err := db.ListGeneratedImages()
	require.NoError(t, err)
	require.Len(t, images, 5)
	for i, img := range images {
		assert.Equal(t, fmt.Sprintf("gen-%d", 4-i), img.ID)
	}
}

func TestListGeneratedImages_Empty(t *testing.T) {
	db := newTestDB(t)

	images, err := db.ListGeneratedImages()
	require.NoError(t, err)
	assert.NotNil(t, images)
	assert.Empty(t, images)
}

func TestListGeneratedImagesBySeed(t *testing.T) {
	db := newTestDB(t)

	now := time.Now()
	require.NoError(t, db.CreateGeneratedImage(newGeneratedImage("a", 10, now)))
	upscaled := newGeneratedImage("b", 10, now.Add(time.Second))
	upscaled.IsPreview = false
	require.NoError(t, db.CreateGeneratedImage(upscaled))
	require.NoError(t, db.CreateGeneratedImage(newGeneratedImage("c", 11, now)))

	images, err := db.ListGeneratedImagesBySeed(10)
	require.NoError(t, err)
	require.Len(t, images, 2)
	assert.Equal(t, "b", images[0].ID)
	assert.False(t, images[0].IsPreview)
}

func TestSetGeneratedImageMediaID(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.CreateGeneratedImage(newGeneratedImage("gen", 1, time.Now())))
	require.NoError(t, db.SetGeneratedImageMediaID("gen", 42))

	got, err := db.GetGeneratedImage("gen")
	require.NoError(t, err)
	assert.Equal(t, 42, got.MediaID)

	assert.ErrorIs(t, db.SetGeneratedImageMediaID("missing", 1), ErrNotFound)
}

func TestDeleteAllGeneratedImages(t *testing.T) {
	db := newTestDB(t)

	now := time.Now()
	require.NoError(t, db.CreateGeneratedImage(newGeneratedImage("a", 1, now)))
	require.NoError(t, db.CreateGeneratedImage(newGeneratedImage("b", 2, now)))

	ids, err := db.DeleteAllGeneratedImages()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	images, err := db.ListGeneratedImages()
	require.NoError(t, err)
	assert.Empty(t, images)

	ids, err = db.DeleteAllGeneratedImages()
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestEditSessionLifecycle(t *testing.T) {
	db := newTestDB(t)

	now := time.Now().UTC()
	es := &model.EditSession{
		ID:       "edit-1",
		Filename: "photo.png",
		Format:   "png",
		Created:  now,
		Updated:  now,
	}
	require.NoError(t, db.CreateEditSession(es))

	got, err := db.GetEditSession("edit-1")
	require.NoError(t, err)
	assert.Equal(t, "photo.png", got.Filename)
	assert.Equal(t, "png", got.Format)
	assert.NotNil(t, got.Operations)
	assert.Empty(t, got.Operations)

	got.Operations = []model.ImageOperation{model.Rotate(90), model.Crop(1, 2, 3, 4), model.Flip(model.FlipVertical), model.Scale(0.5)}
	got.MediaID = 7
	got.Updated = now.Add(time.Minute)
	require.NoError(t, db.UpdateEditSession(got))

	reloaded, err := db.GetEditSession("edit-1")
	require.NoError(t, err)
	assert.Equal(t, got.Operations, reloaded.Operations)
	assert.Equal(t, 7, reloaded.MediaID)
	assert.True(t, got.Updated.Equal(reloaded.Updated))

	require.NoError(t, db.DeleteEditSession("edit-1"))
	_, err = db.GetEditSession("edit-1")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, db.DeleteEditSession("edit-1"), ErrNotFound)
}

func TestUpdateEditSession_NotFound(t *testing.T) {
	db := newTestDB(t)

	err := db.UpdateEditSession(&model.EditSession{ID: "missing", Updated: time.Now()})
	assert.ErrorIs(t, err, ErrNotFound)
}

package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evernote-go/accountsync/internal/model"
)

type fakeTagsCleanerStorage struct {
	LocalStorage
	orphans  []model.Tag
	expunged []model.Guid
}

func (f *fakeTagsCleanerStorage) ListLinkedNotebookTagsWithoutNotes(_ context.Context, _ model.Guid) ([]model.Tag, error) {
	return f.orphans, nil
}

func (f *fakeTagsCleanerStorage) ExpungeTag(_ context.Context, guid model.Guid) error {
	f.expunged = append(f.expunged, guid)
	return nil
}

func TestTagsCleanerExpungesCleanOrphans(t *testing.T) {
	t.Parallel()

	clean := model.Tag{Name: "old"}
	clean.Guid = model.Guid("1111")

	storage := &fakeTagsCleanerStorage{orphans: []model.Tag{clean}}
	cleaner := NewTagsCleaner(storage, silentLogger())

	removed, err := cleaner.Clean(context.Background(), model.Guid("ln-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Equal(t, []model.Guid{clean.Guid}, storage.expunged)
}

func TestTagsCleanerSkipsDirtyOrphans(t *testing.T) {
	t.Parallel()

	dirty := model.Tag{Name: "just renamed"}
	dirty.Guid = model.Guid("1111")
	dirty.IsDirty = true

	storage := &fakeTagsCleanerStorage{orphans: []model.Tag{dirty}}
	cleaner := NewTagsCleaner(storage, silentLogger())

	removed, err := cleaner.Clean(context.Background(), model.Guid("ln-1"))
	require.NoError(t, err)
	assert.Zero(t, removed)
	assert.Empty(t, storage.expunged)
}

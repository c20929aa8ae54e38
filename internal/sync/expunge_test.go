package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evernote-go/accountsync/internal/model"
)

func TestProcessExpungesDeletesCleanItem(t *testing.T) {
	t.Parallel()

	store := newNotebookStore()
	guid := model.Guid("11111111-1111-1111-1111-111111111111")
	store.byGuid[guid] = withGuid(model.Notebook{Name: "Gone"}, guid)

	ops := ExpungeOps[model.Notebook]{
		FindByGuid: store.findByGuid,
		IsDirty:    func(nb model.Notebook) bool { return nb.IsDirty },
		Expunge: func(_ context.Context, g model.Guid) error {
			delete(store.byGuid, g)
			return nil
		},
	}

	result := ProcessExpunges(context.Background(), []model.Guid{guid}, ops)
	assert.Equal(t, 1, result.Expunged)
	_, stillThere := store.byGuid[guid]
	assert.False(t, stillThere)
}

func TestProcessExpungesDirtyUseMineKeepsLocal(t *testing.T) {
	t.Parallel()

	store := newNotebookStore()
	guid := model.Guid("11111111-1111-1111-1111-111111111111")
	dirty := withGuid(model.Notebook{Name: "Keep Me"}, guid)
	dirty.IsDirty = true
	store.byGuid[guid] = dirty

	ops := ExpungeOps[model.Notebook]{
		FindByGuid: store.findByGuid,
		IsDirty:    func(nb model.Notebook) bool { return nb.IsDirty },
		Expunge: func(_ context.Context, g model.Guid) error {
			delete(store.byGuid, g)
			return nil
		},
		Resolve: func(_ context.Context, _, _ model.Notebook) (ConflictResolution[model.Notebook], error) {
			return ConflictResolution[model.Notebook]{Kind: UseMine}, nil
		},
	}

	result := ProcessExpunges(context.Background(), []model.Guid{guid}, ops)
	assert.Zero(t, result.Expunged)
	_, stillThere := store.byGuid[guid]
	assert.True(t, stillThere)
}

func TestProcessExpungesDirtyUseTheirsDeletes(t *testing.T) {
	t.Parallel()

	store := newNotebookStore()
	guid := model.Guid("11111111-1111-1111-1111-111111111111")
	dirty := withGuid(model.Notebook{Name: "Doomed"}, guid)
	dirty.IsDirty = true
	store.byGuid[guid] = dirty

	ops := ExpungeOps[model.Notebook]{
		FindByGuid: store.findByGuid,
		IsDirty:    func(nb model.Notebook) bool { return nb.IsDirty },
		Expunge: func(_ context.Context, g model.Guid) error {
			delete(store.byGuid, g)
			return nil
		},
		Resolve: func(_ context.Context, _, _ model.Notebook) (ConflictResolution[model.Notebook], error) {
			return ConflictResolution[model.Notebook]{Kind: UseTheirs}, nil
		},
	}

	result := ProcessExpunges(context.Background(), []model.Guid{guid}, ops)
	assert.Equal(t, 1, result.Expunged)
}

func TestProcessExpungesDirtyMoveMineClonesBeforeDeleting(t *testing.T) {
	t.Parallel()

	store := newNotebookStore()
	guid := model.Guid("11111111-1111-1111-1111-111111111111")
	dirty := withGuid(model.Notebook{Name: "Still Editing"}, guid)
	dirty.IsDirty = true
	store.byGuid[guid] = dirty

	ops := ExpungeOps[model.Notebook]{
		FindByGuid: store.findByGuid,
		IsDirty:    func(nb model.Notebook) bool { return nb.IsDirty },
		Put:        store.put,
		Expunge: func(_ context.Context, g model.Guid) error {
			delete(store.byGuid, g)
			return nil
		},
		Resolve: func(_ context.Context, _, _ model.Notebook) (ConflictResolution[model.Notebook], error) {
			return ConflictResolution[model.Notebook]{Kind: MoveMine}, nil
		},
		CloneAsMoved: CloneNotebookAsMoved,
	}

	result := ProcessExpunges(context.Background(), []model.Guid{guid}, ops)
	assert.Equal(t, 1, result.Expunged)
	assert.Empty(t, result.Failures)

	_, stillThere := store.byGuid[guid]
	assert.False(t, stillThere, "tombstoned slot must still be expunged")

	var survivors []model.Notebook
	for _, nb := range store.byGuid {
		survivors = append(survivors, nb)
	}
	require.Len(t, survivors, 1)
	assert.NotEqual(t, guid, survivors[0].Guid)
	assert.Empty(t, survivors[0].Guid)
	assert.True(t, survivors[0].IsDirty)
	assert.Equal(t, "Still Editing", survivors[0].Name)
}

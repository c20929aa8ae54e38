package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evernote-go/accountsync/internal/model"
)

// notebookStore is a minimal in-memory stand-in for the notebook slice of
// LocalStorage, used to exercise ProcessAddsAndUpdates without a real
// storage backend.
type notebookStore struct {
	byGuid map[model.Guid]model.Notebook
}

func newNotebookStore() *notebookStore {
	return &notebookStore{byGuid: make(map[model.Guid]model.Notebook)}
}

func (s *notebookStore) findByGuid(_ context.Context, guid model.Guid) (*model.Notebook, error) {
	nb, ok := s.byGuid[guid]
	if !ok {
		return nil, nil
	}
	return &nb, nil
}

func (s *notebookStore) findByName(_ context.Context, incoming model.Notebook) (*model.Notebook, error) {
	for _, nb := range s.byGuid {
		if nb.Name == incoming.Name && nb.Guid != incoming.Guid {
			found := nb
			return &found, nil
		}
	}
	return nil, nil
}

func (s *notebookStore) put(_ context.Context, nb model.Notebook) error {
	s.byGuid[nb.Guid] = nb
	return nil
}

func notebookOps(s *notebookStore, resolve func(ctx context.Context, theirs, mine model.Notebook) (ConflictResolution[model.Notebook], error)) ItemOps[model.Notebook] {
	return ItemOps[model.Notebook]{
		Guid:       func(nb model.Notebook) model.Guid { return nb.Guid },
		IsDirty:    func(nb model.Notebook) bool { return nb.IsDirty },
		FindByGuid: s.findByGuid,
		FindByName: s.findByName,
		Put:        s.put,
		Resolve:    resolve,
	}
}

func TestProcessAddsAndUpdatesInsertsNew(t *testing.T) {
	t.Parallel()

	store := newNotebookStore()
	ops := notebookOps(store, nil)

	incoming := []model.Notebook{{Name: "Personal"}}
	incoming[0].Guid = model.Guid("11111111-1111-1111-1111-111111111111")

	result := ProcessAddsAndUpdates(context.Background(), incoming, ops)
	assert.Equal(t, 1, result.Added)
	assert.Zero(t, result.Updated)
	assert.Empty(t, result.Failures)
}

func TestProcessAddsAndUpdatesOverwritesClean(t *testing.T) {
	t.Parallel()

	store := newNotebookStore()
	guid := model.Guid("11111111-1111-1111-1111-111111111111")
	store.byGuid[guid] = withGuid(model.Notebook{Name: "Old"}, guid)

	ops := notebookOps(store, nil)
	incoming := []model.Notebook{withGuid(model.Notebook{Name: "New"}, guid)}

	result := ProcessAddsAndUpdates(context.Background(), incoming, ops)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, "New", store.byGuid[guid].Name)
}

func TestProcessAddsAndUpdatesDirtyAsksResolver(t *testing.T) {
	t.Parallel()

	store := newNotebookStore()
	guid := model.Guid("11111111-1111-1111-1111-111111111111")
	dirty := withGuid(model.Notebook{Name: "Mine"}, guid)
	dirty.IsDirty = true
	store.byGuid[guid] = dirty

	called := false
	ops := notebookOps(store, func(_ context.Context, theirs, mine model.Notebook) (ConflictResolution[model.Notebook], error) {
		called = true
		assert.True(t, mine.IsDirty)
		return ConflictResolution[model.Notebook]{Kind: UseTheirs}, nil
	})

	incoming := []model.Notebook{withGuid(model.Notebook{Name: "Theirs"}, guid)}
	result := ProcessAddsAndUpdates(context.Background(), incoming, ops)

	assert.True(t, called)
	assert.Equal(t, 1, result.Updated)
	assert.Equal(t, "Theirs", store.byGuid[guid].Name)
}

func TestProcessAddsAndUpdatesSameNameConflictAsksResolver(t *testing.T) {
	t.Parallel()

	store := newNotebookStore()
	existingGuid := model.Guid("22222222-2222-2222-2222-222222222222")
	store.byGuid[existingGuid] = withGuid(model.Notebook{Name: "Shared"}, existingGuid)

	called := false
	ops := notebookOps(store, func(_ context.Context, _, _ model.Notebook) (ConflictResolution[model.Notebook], error) {
		called = true
		return ConflictResolution[model.Notebook]{Kind: UseTheirs}, nil
	})

	newGuid := model.Guid("33333333-3333-3333-3333-333333333333")
	incoming := []model.Notebook{withGuid(model.Notebook{Name: "Shared"}, newGuid)}

	ProcessAddsAndUpdates(context.Background(), incoming, ops)
	assert.True(t, called, "a same-name match under a different guid must always be arbitrated")
}

func TestProcessAddsAndUpdatesMoveMineClonesAndOverwrites(t *testing.T) {
	t.Parallel()

	store := newNotebookStore()
	guid := model.Guid("11111111-1111-1111-1111-111111111111")
	dirty := withGuid(model.Notebook{Name: "Mine"}, guid)
	dirty.IsDirty = true
	store.byGuid[guid] = dirty

	ops := notebookOps(store, func(_ context.Context, _, _ model.Notebook) (ConflictResolution[model.Notebook], error) {
		return ConflictResolution[model.Notebook]{Kind: MoveMine}, nil
	})
	ops.CloneAsMoved = func(mine model.Notebook) model.Notebook {
		moved := mine
		moved.Guid = model.Guid("")
		moved.LocalID = model.NewLocalId()
		moved.IsDirty = true
		return moved
	}

	incoming := []model.Notebook{withGuid(model.Notebook{Name: "Theirs"}, guid)}
	result := ProcessAddsAndUpdates(context.Background(), incoming, ops)

	require.Equal(t, 1, result.Updated)
	assert.Equal(t, "Theirs", store.byGuid[guid].Name)

	var movedCount int
	for g, nb := range store.byGuid {
		if g != guid {
			movedCount++
			assert.Equal(t, "Mine", nb.Name)
			assert.True(t, nb.IsDirty)
		}
	}
	assert.Equal(t, 1, movedCount)
}

func withGuid(nb model.Notebook, guid model.Guid) model.Notebook {
	nb.Guid = guid
	return nb
}

func TestSortTagsParentFirst(t *testing.T) {
	t.Parallel()

	parent := model.Guid("11111111-1111-1111-1111-111111111111")
	child := model.Guid("22222222-2222-2222-2222-222222222222")
	grandchild := model.Guid("33333333-3333-3333-3333-333333333333")

	tags := []model.Tag{
		{Name: "grandchild"},
		{Name: "parent"},
		{Name: "child"},
	}
	tags[0].Guid = grandchild
	tags[0].ParentGuid = child
	tags[1].Guid = parent
	tags[2].Guid = child
	tags[2].ParentGuid = parent

	sorted, err := SortTagsParentFirst(tags)
	require.NoError(t, err)
	require.Len(t, sorted, 3)
	assert.Equal(t, parent, sorted[0].Guid)
	assert.Equal(t, child, sorted[1].Guid)
	assert.Equal(t, grandchild, sorted[2].Guid)
}

func TestSortTagsParentFirstDetectsCycle(t *testing.T) {
	t.Parallel()

	a := model.Guid("11111111-1111-1111-1111-111111111111")
	b := model.Guid("22222222-2222-2222-2222-222222222222")

	tags := []model.Tag{{Name: "a"}, {Name: "b"}}
	tags[0].Guid = a
	tags[0].ParentGuid = b
	tags[1].Guid = b
	tags[1].ParentGuid = a

	_, err := SortTagsParentFirst(tags)
	assert.Error(t, err)
}

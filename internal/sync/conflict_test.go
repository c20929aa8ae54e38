package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evernote-go/accountsync/internal/model"
)

func TestCloneNoteAsMovedUsesTitleWhenPresent(t *testing.T) {
	t.Parallel()

	note := model.Note{Title: "Grocery list"}
	note.Guid = model.Guid("11111111-1111-1111-1111-111111111111")

	moved := CloneNoteAsMoved(note)
	assert.Equal(t, "Grocery list - conflicting", moved.Title)
	assert.True(t, moved.Guid.IsZero())
	assert.True(t, moved.IsDirty)
	assert.False(t, moved.LocalID.IsZero())
}

func TestCloneNoteAsMovedFallsBackToContentPrefix(t *testing.T) {
	t.Parallel()

	note := model.Note{Content: "<en-note>Remember to buy milk and eggs</en-note>"}

	moved := CloneNoteAsMoved(note)
	assert.Equal(t, "Remember to ... - conflicting", moved.Title)
}

func TestCloneNotebookAsMovedDetachesIdentity(t *testing.T) {
	t.Parallel()

	nb := model.Notebook{Name: "Work"}
	nb.Guid = model.Guid("22222222-2222-2222-2222-222222222222")

	moved := CloneNotebookAsMoved(nb)
	assert.True(t, moved.Guid.IsZero())
	assert.True(t, moved.IsDirty)
	assert.Equal(t, "Work", moved.Name)
}

package sync

import (
	"github.com/evernote-go/accountsync/internal/model"
)

const conflictTitleSuffix = " - conflicting"
const conflictTitlePrefixRunes = 12

// CloneNoteAsMoved builds the duplicate local note for a MoveMine
// resolution (§4.7): a new LocalId, no Guid, marked dirty, titled
// "<original> - conflicting" — or, if the original has no title, the
// first 12 plain-text characters of its content followed by
// "... - conflicting".
func CloneNoteAsMoved(mine model.Note) model.Note {
	moved := mine
	moved.Guid = model.Guid("")
	moved.LocalID = model.NewLocalId()
	moved.IsDirty = true
	moved.Title = conflictTitleFor(mine)

	return moved
}

func conflictTitleFor(note model.Note) string {
	if note.Title != "" {
		return note.Title + conflictTitleSuffix
	}

	return note.PlainTextPrefix(conflictTitlePrefixRunes) + "..." + conflictTitleSuffix
}

// CloneNotebookAsMoved, CloneTagAsMoved, CloneSavedSearchAsMoved detach an
// item from its remote identity for a MoveMine resolution. Unlike notes,
// these categories have no special rename rule (§4.7 only calls one out
// for notes); the name collision itself is left for the user to notice.
func CloneNotebookAsMoved(mine model.Notebook) model.Notebook {
	mine.Guid = model.Guid("")
	mine.LocalID = model.NewLocalId()
	mine.IsDirty = true
	return mine
}

func CloneTagAsMoved(mine model.Tag) model.Tag {
	mine.Guid = model.Guid("")
	mine.LocalID = model.NewLocalId()
	mine.IsDirty = true
	return mine
}

func CloneSavedSearchAsMoved(mine model.SavedSearch) model.SavedSearch {
	mine.Guid = model.Guid("")
	mine.LocalID = model.NewLocalId()
	mine.IsDirty = true
	return mine
}

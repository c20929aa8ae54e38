package sync

import (
	"context"
	"log/slog"

	"github.com/evernote-go/accountsync/internal/model"
)

// TagsCleaner implements §4.8.4: after each sync, expunge linked-notebook
// tags that no longer tag any note. Evernote never sends an explicit
// expunge for these — the server simply stops referencing them — so the
// local store must reconcile them itself using its own
// "affiliation = AnyLinkedNotebook, tagNotesRelation = WithoutNotes"
// listing (§6.1).
type TagsCleaner struct {
	storage LocalStorage
	logger  *slog.Logger
}

// NewTagsCleaner wires a cleaner against the shared LocalStorage contract.
func NewTagsCleaner(storage LocalStorage, logger *slog.Logger) *TagsCleaner {
	return &TagsCleaner{storage: storage, logger: logger}
}

// Clean removes orphaned linked-notebook tags for the given linked
// notebook. A zero Guid means "all linked notebooks" is left to the
// caller to express by invoking Clean once per linked notebook it knows
// about; the local-storage listing itself is always scoped to one
// linked notebook at a time per its §6.1 signature.
//
// Per-tag failures are logged and skipped; the cleaner is a best-effort
// tidy-up step, never part of the run's stop-condition surface.
func (c *TagsCleaner) Clean(ctx context.Context, linkedNotebookGuid model.Guid) (int, error) {
	orphans, err := c.storage.ListLinkedNotebookTagsWithoutNotes(ctx, linkedNotebookGuid)
	if err != nil {
		return 0, err
	}

	var removed int

	for _, tag := range orphans {
		if tag.IsDirty {
			// A tag the user just renamed or retagged locally, not yet
			// uploaded, is not actually orphaned from the user's
			// perspective — leave it for the sender.
			continue
		}

		if err := ctx.Err(); err != nil {
			return removed, err
		}

		if err := c.storage.ExpungeTag(ctx, tag.Guid); err != nil {
			c.logger.Warn("tags cleaner: failed to expunge orphaned tag", "guid", tag.Guid, "error", err)
			continue
		}

		removed++
	}

	return removed, nil
}

package sync

import (
	"context"

	"github.com/evernote-go/accountsync/internal/model"
)

// ExpungeOps bundles the hooks ProcessExpunges needs for one category.
type ExpungeOps[T any] struct {
	FindByGuid func(ctx context.Context, guid model.Guid) (*T, error)
	IsDirty    func(item T) bool
	Put        func(ctx context.Context, item T) error
	Expunge    func(ctx context.Context, guid model.Guid) error
	// Resolve is consulted when the local copy has unsent changes, with
	// theirs as the zero value (tombstone) and mine as the dirty local
	// item. A UseMine verdict keeps the local item instead of deleting it.
	Resolve func(ctx context.Context, theirs, mine T) (ConflictResolution[T], error)

	// CloneAsMoved produces the duplicate local item for a MoveMine
	// resolution (§4.7): the dirty item survives under a new LocalId with
	// no Guid, and the tombstoned slot is then expunged as normal. Nil for
	// categories with no such hook.
	CloneAsMoved func(mine T) T
}

// ProcessExpunges deletes each guid from local storage (§4.6); if the
// local copy is dirty, the resolver is asked first. A UseMine verdict
// keeps the local item instead of deleting it; a MoveMine verdict clones
// the dirty item under a new identity before the tombstoned slot is
// expunged, so the unsent edit survives (§4.7 applies to every resolver
// call site, not only the add/update path).
func ProcessExpunges[T any](ctx context.Context, guids []model.Guid, ops ExpungeOps[T]) ProcessResult {
	var result ProcessResult

	for _, guid := range guids {
		if err := ctx.Err(); err != nil {
			result.Failures = append(result.Failures, ItemFailure{Guid: guid, Error: err.Error()})
			continue
		}

		local, err := ops.FindByGuid(ctx, guid)
		if err != nil {
			result.Failures = append(result.Failures, ItemFailure{Guid: guid, Error: err.Error()})
			continue
		}

		if local != nil && ops.IsDirty(*local) && ops.Resolve != nil {
			var zero T
			resolution, err := ops.Resolve(ctx, zero, *local)
			if err != nil {
				result.Failures = append(result.Failures, ItemFailure{Guid: guid, Error: err.Error()})
				continue
			}

			switch resolution.Kind {
			case UseMine:
				// Keep the local item; the expunge is not applied.
				continue

			case MoveMine:
				if ops.CloneAsMoved == nil || ops.Put == nil {
					result.Failures = append(result.Failures, ItemFailure{
						Guid: guid, Error: "sync: MoveMine resolution with no CloneAsMoved/Put hook",
					})
					continue
				}

				moved := ops.CloneAsMoved(*local)
				if err := ops.Put(ctx, moved); err != nil {
					result.Failures = append(result.Failures, ItemFailure{Guid: guid, Error: err.Error()})
					continue
				}
			}
		}

		if err := ops.Expunge(ctx, guid); err != nil {
			result.Failures = append(result.Failures, ItemFailure{Guid: guid, Error: err.Error()})
			continue
		}

		result.Expunged++
	}

	return result
}

package sync

import (
	"context"
	"fmt"

	"golang.org/x/text/unicode/norm"

	"github.com/evernote-go/accountsync/internal/model"
)

// ItemOps bundles the category-specific hooks a generic processor needs:
// field access, local-storage lookups, and the conflict resolver. Every
// add/update processor in §4.6 follows the same algorithm; only these
// hooks differ between notebooks, tags, saved searches, and notes.
type ItemOps[T any] struct {
	Guid    func(item T) model.Guid
	IsDirty func(item T) bool

	FindByGuid func(ctx context.Context, guid model.Guid) (*T, error)
	// FindByName performs the name-uniqueness lookup used by notebooks,
	// tags, and saved searches. Nil for categories with no such lookup.
	FindByName func(ctx context.Context, item T) (*T, error)
	Put        func(ctx context.Context, item T) error
	Resolve    func(ctx context.Context, theirs, mine T) (ConflictResolution[T], error)

	// CloneAsMoved produces the duplicate local item for a MoveMine
	// resolution: new LocalId, no Guid, marked dirty. Category-specific
	// (notes additionally derive a "... - conflicting" title, §4.7).
	CloneAsMoved func(mine T) T
}

// ProcessResult is the per-category outcome of one processing pass: either
// an add/update pass (Added/Updated populated) or an expunge pass
// (Expunged populated).
type ProcessResult struct {
	Added    int
	Updated  int
	Expunged int
	Failures []ItemFailure
}

// ProcessAddsAndUpdates applies §4.6's shared algorithm for one category's
// add/update records within a chunk: insert if unseen, overwrite if seen
// and clean, otherwise defer to the conflict resolver. Per-item failures
// are collected, never abort the pass.
func ProcessAddsAndUpdates[T any](ctx context.Context, items []T, ops ItemOps[T]) ProcessResult {
	var result ProcessResult

	for _, incoming := range items {
		if err := ctx.Err(); err != nil {
			result.Failures = append(result.Failures, ItemFailure{Guid: ops.Guid(incoming), Error: err.Error()})
			continue
		}

		guid := ops.Guid(incoming)

		local, err := ops.FindByGuid(ctx, guid)
		if err != nil {
			result.Failures = append(result.Failures, ItemFailure{Guid: guid, Error: err.Error()})
			continue
		}

		if local == nil {
			if byName, ok := findByNameMatch(ctx, ops, incoming); ok {
				applyResolution(ctx, ops, incoming, *byName, &result)
				continue
			}

			if err := ops.Put(ctx, incoming); err != nil {
				result.Failures = append(result.Failures, ItemFailure{Guid: guid, Error: err.Error()})
				continue
			}
			result.Added++
			continue
		}

		if !ops.IsDirty(*local) {
			if err := ops.Put(ctx, incoming); err != nil {
				result.Failures = append(result.Failures, ItemFailure{Guid: guid, Error: err.Error()})
				continue
			}
			result.Updated++
			continue
		}

		applyResolution(ctx, ops, incoming, *local, &result)
	}

	return result
}

// normalizeName NFC-normalizes a name before a name-uniqueness lookup, so
// a remote notebook/tag/saved-search name that arrived NFD-decomposed
// (most commonly from a macOS client) still matches an existing local
// entry instead of spuriously colliding as a "new" name.
func normalizeName(name string) string {
	return norm.NFC.String(name)
}

func findByNameMatch[T any](ctx context.Context, ops ItemOps[T], incoming T) (*T, bool) {
	if ops.FindByName == nil {
		return nil, false
	}

	match, err := ops.FindByName(ctx, incoming)
	if err != nil || match == nil {
		return nil, false
	}

	return match, true
}

// applyResolution asks the conflict resolver and applies its verdict,
// updating result's counters. Returns false if the resolver call itself
// failed (already recorded as a failure).
func applyResolution[T any](ctx context.Context, ops ItemOps[T], theirs, mine T, result *ProcessResult) bool {
	resolution, err := ops.Resolve(ctx, theirs, mine)
	if err != nil {
		result.Failures = append(result.Failures, ItemFailure{Guid: ops.Guid(theirs), Error: err.Error()})
		return false
	}

	switch resolution.Kind {
	case UseTheirs, IgnoreMine:
		if err := ops.Put(ctx, theirs); err != nil {
			result.Failures = append(result.Failures, ItemFailure{Guid: ops.Guid(theirs), Error: err.Error()})
			return false
		}
		result.Updated++

	case UseMine:
		// mine is already the authoritative local copy and already dirty;
		// nothing to persist, it will be uploaded in the send phase.

	case MoveMine:
		if ops.CloneAsMoved == nil {
			result.Failures = append(result.Failures, ItemFailure{
				Guid: ops.Guid(theirs), Error: "sync: MoveMine resolution with no CloneAsMoved hook",
			})
			return false
		}

		moved := ops.CloneAsMoved(mine)
		if err := ops.Put(ctx, moved); err != nil {
			result.Failures = append(result.Failures, ItemFailure{Guid: ops.Guid(theirs), Error: err.Error()})
			return false
		}
		if err := ops.Put(ctx, theirs); err != nil {
			result.Failures = append(result.Failures, ItemFailure{Guid: ops.Guid(theirs), Error: err.Error()})
			return false
		}
		result.Updated++

	default:
		result.Failures = append(result.Failures, ItemFailure{
			Guid: ops.Guid(theirs), Error: fmt.Sprintf("sync: unknown resolution kind %d", resolution.Kind),
		})
		return false
	}

	return true
}

// SortTagsParentFirst topologically sorts tags by (guid, parentGuid) so
// parents are always applied before children (§4.6). A cycle — which a
// correctly-functioning server must never produce — is reported as an
// error rather than silently dropped or infinite-looped.
func SortTagsParentFirst(tags []model.Tag) ([]model.Tag, error) {
	byGuid := make(map[model.Guid]model.Tag, len(tags))
	for _, t := range tags {
		byGuid[t.Guid] = t
	}

	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)

	state := make(map[model.Guid]int, len(tags))
	sorted := make([]model.Tag, 0, len(tags))

	var visit func(guid model.Guid) error
	visit = func(guid model.Guid) error {
		switch state[guid] {
		case visited:
			return nil
		case visiting:
			return fmt.Errorf("sync: cycle detected in tag parent chain at %s", guid)
		}

		state[guid] = visiting

		t, ok := byGuid[guid]
		if !ok {
			// Parent lies outside this chunk (already applied earlier, or
			// belongs to a different chunk); nothing more to do here.
			state[guid] = visited
			return nil
		}

		if !t.ParentGuid.IsZero() {
			if err := visit(t.ParentGuid); err != nil {
				return err
			}
		}

		state[guid] = visited
		sorted = append(sorted, t)

		return nil
	}

	for _, t := range tags {
		if err := visit(t.Guid); err != nil {
			return nil, err
		}
	}

	return sorted, nil
}

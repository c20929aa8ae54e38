package sync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/evernote-go/accountsync/internal/model"
	"github.com/evernote-go/accountsync/internal/remote"
)

// SendOps bundles the category-specific hooks ProcessSends needs: field
// access, the create/update wire calls, an optional get-by-guid used to
// fetch "theirs" when the server reports a conflict, and the conflict
// resolver (§4.9, which treats a send-time conflict exactly as §4.6 does
// a download-time one).
type SendOps[T any] struct {
	Guid func(item T) model.Guid
	USN  func(item T) model.USN

	Create func(ctx context.Context, item T) (*T, error)
	Update func(ctx context.Context, item T) (*T, error)

	// FetchRemote retrieves the current remote version of an item for
	// conflict resolution. Nil for categories the wire protocol has no
	// get-by-guid for; a conflict then falls back to a plain failure.
	FetchRemote func(ctx context.Context, guid model.Guid) (*T, error)

	// ApplyServerAssignment builds the clean local copy to persist after a
	// successful create/update: local carries the just-sent item, server
	// carries the wire response (authoritative Guid/USN).
	ApplyServerAssignment func(local, server T) T

	Put     func(ctx context.Context, item T) error
	Resolve func(ctx context.Context, theirs, mine T) (ConflictResolution[T], error)

	// CloneAsMoved produces the duplicate local item for a MoveMine
	// resolution. Nil for categories with no such hook.
	CloneAsMoved func(mine T) T

	// SizeHint reports the payload size of a successfully sent item, for
	// SendStatus.UploadedBytes. Nil for categories with no meaningful body
	// size (saved searches, tags, notebooks).
	SizeHint func(item T) int64
}

// ProcessSends uploads each dirty item in order, create or update chosen
// by whether the item already carries a remote Guid (§4.9). Per-item
// validation failures accumulate in the returned status; a rate-limit or
// auth-expired condition aborts the whole batch and is reported through
// status.StopReason with a nil error, so the Sender can bubble it up for
// the outer loop to act on. The error return carries cancellation.
func ProcessSends[T any](ctx context.Context, canceler Canceler, items []T, ops SendOps[T]) (SendStatus, error) {
	var status SendStatus

	for _, item := range items {
		if canceler != nil && canceler.IsCanceled() {
			return status, ErrOperationCancelled
		}
		if err := ctx.Err(); err != nil {
			return status, err
		}

		var (
			server *T
			err    error
		)

		if ops.Guid(item).IsZero() {
			server, err = ops.Create(ctx, item)
		} else {
			server, err = ops.Update(ctx, item)
		}

		if err != nil {
			if errors.Is(err, remote.ErrConflict) {
				handleSendConflict(ctx, item, ops, &status)
				continue
			}

			if stop, ok := stopConditionFor(err); ok {
				status.StopReason = stop.(stopSentinel).reason
				return status, nil
			}

			status.FailedToSendItems = append(status.FailedToSendItems, ItemFailure{
				Guid: ops.Guid(item), Error: err.Error(),
			})

			continue
		}

		clean := ops.ApplyServerAssignment(item, *server)

		if err := ops.Put(ctx, clean); err != nil {
			status.FailedToSendItems = append(status.FailedToSendItems, ItemFailure{
				Guid: ops.Guid(item), Error: err.Error(),
			})

			continue
		}

		status.TotalSuccessfulUpdates++

		if ops.SizeHint != nil {
			status.UploadedBytes += ops.SizeHint(clean)
		}

		if usn := ops.USN(clean); usn > status.HighestSentUSN {
			status.HighestSentUSN = usn
		}
	}

	return status, nil
}

// handleSendConflict implements §4.9's "conflict (server reports a newer
// remote version)" branch: fetch theirs, ask the resolver, and apply the
// verdict the same way the download-side processors do (§4.6/§4.7).
func handleSendConflict[T any](ctx context.Context, mine T, ops SendOps[T], status *SendStatus) {
	if ops.FetchRemote == nil {
		status.FailedToSendItems = append(status.FailedToSendItems, ItemFailure{
			Guid: ops.Guid(mine), Error: "sync: conflict reported but category has no get-by-guid to resolve it",
		})
		return
	}

	theirs, err := ops.FetchRemote(ctx, ops.Guid(mine))
	if err != nil {
		status.FailedToSendItems = append(status.FailedToSendItems, ItemFailure{Guid: ops.Guid(mine), Error: err.Error()})
		return
	}

	resolution, err := ops.Resolve(ctx, *theirs, mine)
	if err != nil {
		status.FailedToSendItems = append(status.FailedToSendItems, ItemFailure{Guid: ops.Guid(mine), Error: err.Error()})
		return
	}

	switch resolution.Kind {
	case UseTheirs, IgnoreMine:
		if err := ops.Put(ctx, *theirs); err != nil {
			status.FailedToSendItems = append(status.FailedToSendItems, ItemFailure{Guid: ops.Guid(mine), Error: err.Error()})
			return
		}
		if usn := ops.USN(*theirs); usn > status.HighestSentUSN {
			status.HighestSentUSN = usn
		}

	case UseMine:
		// Leave the local item dirty; it is retried on the next send
		// round once whatever made it stale has been dealt with.

	case MoveMine:
		if ops.CloneAsMoved == nil {
			status.FailedToSendItems = append(status.FailedToSendItems, ItemFailure{
				Guid: ops.Guid(mine), Error: "sync: MoveMine resolution with no CloneAsMoved hook",
			})
			return
		}

		moved := ops.CloneAsMoved(mine)
		if err := ops.Put(ctx, moved); err != nil {
			status.FailedToSendItems = append(status.FailedToSendItems, ItemFailure{Guid: ops.Guid(mine), Error: err.Error()})
			return
		}
		if err := ops.Put(ctx, *theirs); err != nil {
			status.FailedToSendItems = append(status.FailedToSendItems, ItemFailure{Guid: ops.Guid(mine), Error: err.Error()})
			return
		}
		if usn := ops.USN(*theirs); usn > status.HighestSentUSN {
			status.HighestSentUSN = usn
		}

	default:
		status.FailedToSendItems = append(status.FailedToSendItems, ItemFailure{
			Guid: ops.Guid(mine), Error: "sync: unknown conflict resolution kind",
		})
	}
}

// Sender implements §4.9: it uploads every locally dirty item for the
// account's own scope, in the fixed order ProcessSends's callers enforce,
// and resolves any conflict the server reports along the way.
type Sender struct {
	storage  LocalStorage
	resolver ConflictResolver
	factory  *remote.Factory
	auth     *AuthProvider
	logger   *slog.Logger
}

// NewSender wires a Sender from its collaborators.
func NewSender(storage LocalStorage, resolver ConflictResolver, factory *remote.Factory, auth *AuthProvider, logger *slog.Logger) *Sender {
	return &Sender{storage: storage, resolver: resolver, factory: factory, auth: auth, logger: logger}
}

// Run uploads every dirty item for the account's own scope in §4.9's fixed
// order: saved searches, tags (parent-first), notebooks, then notes whose
// notebook already has a remote identity. Notes referencing a notebook
// that is still dirty after the notebook phase, or no notebook, or one not
// found locally, are not sent: each is listed in FailedToSendItems with a
// "deferred" error and stays dirty for a later send round.
func (s *Sender) Run(ctx context.Context, canceler Canceler) (SendStatus, error) {
	auth, err := s.auth.AuthenticateAccount(ctx, UseCachedOrRefresh)
	if err != nil {
		if stop, ok := authStopCondition(err); ok {
			return SendStatus{StopReason: stop}, nil
		}
		return SendStatus{}, err
	}

	fetcher := s.factory.NoteStoreFor(auth)

	var result SendStatus

	searches, err := s.storage.ListDirtySavedSearches(ctx)
	if err != nil {
		return result, WithKind(KindLocalStorage, err)
	}

	ssStatus, err := ProcessSends(ctx, canceler, searches, s.savedSearchSendOps(fetcher))
	mergeSendStatus(&result, ssStatus)
	if err != nil || !ssStatus.StopReason.None() {
		return result, err
	}

	tags, err := s.storage.ListDirtyTags(ctx)
	if err != nil {
		return result, WithKind(KindLocalStorage, err)
	}

	orderedTags, sortErr := SortTagsParentFirst(tags)
	if sortErr != nil {
		// A cycle is corruption, not a degraded-ordering case (§4.6): reject
		// the round rather than send with an unordered parent chain.
		return result, WithKind(KindRuntime, sortErr)
	}

	tagStatus, err := ProcessSends(ctx, canceler, orderedTags, s.tagSendOps(fetcher))
	mergeSendStatus(&result, tagStatus)
	if err != nil || !tagStatus.StopReason.None() {
		return result, err
	}

	notebooks, err := s.storage.ListDirtyNotebooks(ctx)
	if err != nil {
		return result, WithKind(KindLocalStorage, err)
	}

	nbStatus, err := ProcessSends(ctx, canceler, notebooks, s.notebookSendOps(fetcher))
	mergeSendStatus(&result, nbStatus)
	if err != nil || !nbStatus.StopReason.None() {
		return result, err
	}

	notes, err := s.storage.ListDirtyNotes(ctx)
	if err != nil {
		return result, WithKind(KindLocalStorage, err)
	}

	ready, deferred := s.partitionNotesByNotebookReadiness(ctx, notes)
	for _, n := range deferred {
		result.FailedToSendItems = append(result.FailedToSendItems, ItemFailure{
			Guid: n.Guid, Error: "sync: deferred, notebook not yet sent",
		})
	}

	noteStatus, err := ProcessSends(ctx, canceler, ready, s.noteSendOps(fetcher))
	mergeSendStatus(&result, noteStatus)
	if err != nil || !noteStatus.StopReason.None() {
		return result, err
	}

	return result, nil
}

func mergeSendStatus(into *SendStatus, from SendStatus) {
	into.TotalSuccessfulUpdates += from.TotalSuccessfulUpdates
	into.UploadedBytes += from.UploadedBytes
	into.FailedToSendItems = append(into.FailedToSendItems, from.FailedToSendItems...)
	if from.HighestSentUSN > into.HighestSentUSN {
		into.HighestSentUSN = from.HighestSentUSN
	}
	if !from.StopReason.None() {
		into.StopReason = from.StopReason
	}
}

// partitionNotesByNotebookReadiness separates notes whose notebook already
// has a settled (non-dirty) remote identity from those that must wait for
// a future send round (§4.9 step 4).
func (s *Sender) partitionNotesByNotebookReadiness(ctx context.Context, notes []model.Note) (ready, deferred []model.Note) {
	for _, n := range notes {
		if n.NotebookGuid.IsZero() {
			deferred = append(deferred, n)
			continue
		}

		nb, err := s.storage.FindNotebookByGuid(ctx, n.NotebookGuid)
		if err != nil || nb == nil || nb.IsDirty {
			deferred = append(deferred, n)
			continue
		}

		ready = append(ready, n)
	}

	return ready, deferred
}

func (s *Sender) savedSearchSendOps(fetcher *remote.NoteStore) SendOps[model.SavedSearch] {
	return SendOps[model.SavedSearch]{
		Guid:        func(x model.SavedSearch) model.Guid { return x.Guid },
		USN:         func(x model.SavedSearch) model.USN { return x.USN },
		Create:      fetcher.CreateSavedSearch,
		Update:      fetcher.UpdateSavedSearch,
		FetchRemote: fetcher.GetSavedSearch,
		ApplyServerAssignment: func(local, server model.SavedSearch) model.SavedSearch {
			local.Guid = server.Guid
			local.USN = server.USN
			local.IsDirty = false
			return local
		},
		Put:          s.storage.PutSavedSearch,
		Resolve:      s.resolver.ResolveSavedSearchConflict,
		CloneAsMoved: CloneSavedSearchAsMoved,
	}
}

func (s *Sender) tagSendOps(fetcher *remote.NoteStore) SendOps[model.Tag] {
	return SendOps[model.Tag]{
		Guid:        func(x model.Tag) model.Guid { return x.Guid },
		USN:         func(x model.Tag) model.USN { return x.USN },
		Create:      fetcher.CreateTag,
		Update:      fetcher.UpdateTag,
		FetchRemote: fetcher.GetTag,
		ApplyServerAssignment: func(local, server model.Tag) model.Tag {
			local.Guid = server.Guid
			local.USN = server.USN
			local.IsDirty = false
			return local
		},
		Put:          s.storage.PutTag,
		Resolve:      s.resolver.ResolveTagConflict,
		CloneAsMoved: CloneTagAsMoved,
	}
}

func (s *Sender) notebookSendOps(fetcher *remote.NoteStore) SendOps[model.Notebook] {
	return SendOps[model.Notebook]{
		Guid:        func(x model.Notebook) model.Guid { return x.Guid },
		USN:         func(x model.Notebook) model.USN { return x.USN },
		Create:      fetcher.CreateNotebook,
		Update:      fetcher.UpdateNotebook,
		FetchRemote: fetcher.GetNotebook,
		ApplyServerAssignment: func(local, server model.Notebook) model.Notebook {
			local.Guid = server.Guid
			local.USN = server.USN
			local.IsDirty = false
			return local
		},
		Put:          s.storage.PutNotebook,
		Resolve:      s.resolver.ResolveNotebookConflict,
		CloneAsMoved: CloneNotebookAsMoved,
	}
}

func (s *Sender) noteSendOps(fetcher *remote.NoteStore) SendOps[model.Note] {
	return SendOps[model.Note]{
		Guid:        func(x model.Note) model.Guid { return x.Guid },
		USN:         func(x model.Note) model.USN { return x.USN },
		Create:      fetcher.CreateNote,
		Update:      fetcher.UpdateNote,
		FetchRemote: fetcher.GetNote,
		ApplyServerAssignment: func(local, server model.Note) model.Note {
			local.Guid = server.Guid
			local.USN = server.USN
			local.IsDirty = false
			return local
		},
		Put:          s.storage.PutNote,
		Resolve:      s.resolver.ResolveNoteConflict,
		CloneAsMoved: CloneNoteAsMoved,
		SizeHint:     func(x model.Note) int64 { return int64(len(x.Content)) },
	}
}

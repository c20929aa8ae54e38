package sync

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/evernote-go/accountsync/internal/model"
	"github.com/evernote-go/accountsync/internal/remote"
)

// DownloadRunResult is the Downloader's half of a synchronize() call
// (§4.8): aggregate counters, full-content download outcomes, the
// candidate SyncState to persist, and an optional stop condition.
type DownloadRunResult struct {
	Counters        SyncChunksDataCounters
	NotesStatus     DownloadNotesStatus
	ResourcesStatus DownloadResourcesStatus
	SyncState       model.SyncState
	StopReason      StopSynchronizationError
}

// Downloader orchestrates one download half-round per account, plus one
// per linked notebook (§4.8). It is the single place that wires the
// chunk provider, the per-item processors, the full-content downloaders,
// the side channel, and the tags cleaner together against a concrete
// LocalStorage and ConflictResolver.
type Downloader struct {
	syncStates  *SyncStateStore
	chunks      *ChunkProvider
	auth        *AuthProvider
	factory     *remote.Factory
	storage     LocalStorage
	resolver    ConflictResolver
	notes       *NoteDownloader
	resources   *ResourceDownloader
	sideChannel *SideChannel
	tagsCleaner *TagsCleaner
	logger      *slog.Logger
}

// NewDownloader wires a Downloader from its collaborators.
func NewDownloader(
	syncStates *SyncStateStore, chunks *ChunkProvider, auth *AuthProvider, factory *remote.Factory,
	storage LocalStorage, resolver ConflictResolver, notes *NoteDownloader, resources *ResourceDownloader,
	sideChannel *SideChannel, tagsCleaner *TagsCleaner, logger *slog.Logger,
) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}

	return &Downloader{
		syncStates:  syncStates,
		chunks:      chunks,
		auth:        auth,
		factory:     factory,
		storage:     storage,
		resolver:    resolver,
		notes:       notes,
		resources:   resources,
		sideChannel: sideChannel,
		tagsCleaner: tagsCleaner,
		logger:      logger,
	}
}

// Run executes one download half-round (§4.8's six steps). Rate-limit and
// auth-expired conditions from the remote are not returned as a Go error —
// those are reported via DownloadRunResult.StopReason. The error return
// carries local faults (sync-state store, local storage), cancellation
// (ErrOperationCancelled), and any other remote failure; each ends the run.
func (d *Downloader) Run(ctx context.Context, canceler Canceler, opts RunOptions) (DownloadRunResult, error) {
	state, err := d.startingState(ctx, opts)
	if err != nil {
		return DownloadRunResult{}, err
	}

	result := DownloadRunResult{SyncState: state}
	limitsRequestedThisRun := false

	stop, err := d.runAccountScope(ctx, canceler, opts, &result, &limitsRequestedThisRun)
	if err != nil {
		return result, err
	}
	if !stop.None() {
		result.StopReason = stop
		return result, nil
	}

	if canceler != nil && canceler.IsCanceled() {
		result.StopReason = StopSynchronizationError{}
		return result, ErrOperationCancelled
	}

	linkedNotebooks, err := d.storage.ListLinkedNotebooks(ctx)
	if err != nil {
		return result, WithKind(KindLocalStorage, err)
	}

	sort.Slice(linkedNotebooks, func(i, j int) bool {
		return linkedNotebooks[i].Guid < linkedNotebooks[j].Guid
	})

	for _, ln := range linkedNotebooks {
		if canceler != nil && canceler.IsCanceled() {
			return result, ErrOperationCancelled
		}

		stop, err := d.runLinkedNotebookScope(ctx, canceler, ln, opts, &result, &limitsRequestedThisRun)
		if err != nil {
			return result, err
		}
		if !stop.None() {
			result.StopReason = stop
			return result, nil
		}
	}

	d.tagsCleaner.Clean(ctx, model.Guid("")) //nolint:errcheck // best-effort: Clean logs per-tag failures; a listing error is dropped

	for _, ln := range linkedNotebooks {
		removed, err := d.tagsCleaner.Clean(ctx, ln.Guid)
		if err != nil {
			d.logger.Warn("downloader: tags cleaner failed", "linkedNotebookGuid", ln.Guid, "error", err)
		} else if removed > 0 {
			d.logger.Debug("downloader: tags cleaner removed orphans", "linkedNotebookGuid", ln.Guid, "count", removed)
		}
	}

	if err := d.syncStates.SetSyncState(ctx, result.SyncState); err != nil {
		return result, err
	}

	return result, nil
}

func (d *Downloader) startingState(ctx context.Context, opts RunOptions) (model.SyncState, error) {
	if opts.ForceFullSync {
		return model.NewSyncState(), nil
	}

	return d.syncStates.GetSyncState(ctx)
}

// runAccountScope processes the account's own chunks and feeds their
// stub notes/resources through the full-content downloaders.
func (d *Downloader) runAccountScope(ctx context.Context, canceler Canceler, opts RunOptions, result *DownloadRunResult, limitsRequested *bool) (StopSynchronizationError, error) {
	auth, err := d.auth.AuthenticateAccount(ctx, UseCachedOrRefresh)
	if err != nil {
		if stop, ok := authStopCondition(err); ok {
			return stop, nil
		}
		return StopSynchronizationError{}, err
	}

	fetcher := d.factory.NoteStoreFor(auth)

	fullSync := opts.ForceFullSync || result.SyncState.UserDataUpdateCount == 0

	chunks, err := d.chunks.Provide(ctx, canceler, fetcher, model.Guid(""), result.SyncState.UserDataUpdateCount, fullSync)
	if err != nil {
		if stop, ok := stopConditionFor(err); ok {
			return stop.(stopSentinel).reason, nil
		}
		return StopSynchronizationError{}, err
	}

	for _, chunk := range chunks {
		if canceler != nil && canceler.IsCanceled() {
			return StopSynchronizationError{}, ErrOperationCancelled
		}

		if err := d.applyChunk(ctx, chunk, model.Guid(""), &result.Counters); err != nil {
			return StopSynchronizationError{}, err
		}

		if chunk.HighUSN > result.SyncState.UserDataUpdateCount {
			result.SyncState.UserDataUpdateCount = chunk.HighUSN
		}
	}

	result.SyncState.UserDataLastSyncTime = NowMillis()

	notesStatus, resourcesStatus := d.downloadFullContent(ctx, canceler, fetcher, chunks, opts, limitsRequested)
	mergeNotesStatus(&result.NotesStatus, notesStatus)
	mergeResourcesStatus(&result.ResourcesStatus, resourcesStatus)

	if !notesStatus.StopReason.None() {
		return notesStatus.StopReason, nil
	}
	if !resourcesStatus.StopReason.None() {
		return resourcesStatus.StopReason, nil
	}

	return StopSynchronizationError{}, nil
}

func (d *Downloader) runLinkedNotebookScope(ctx context.Context, canceler Canceler, ln model.LinkedNotebook, opts RunOptions, result *DownloadRunResult, limitsRequested *bool) (StopSynchronizationError, error) {
	auth, err := d.auth.AuthenticateToLinkedNotebook(ctx, ln, UseCachedOrRefresh)
	if err != nil {
		if stop, ok := authStopCondition(err); ok {
			return stop, nil
		}
		return StopSynchronizationError{}, err
	}

	fetcher := d.factory.NoteStoreFor(auth)

	afterUSN := result.SyncState.LinkedNotebookUpdateCounts[ln.Guid]
	fullSync := opts.ForceFullSync || afterUSN == 0

	chunks, err := d.chunks.Provide(ctx, canceler, fetcher, ln.Guid, afterUSN, fullSync)
	if err != nil {
		if stop, ok := stopConditionFor(err); ok {
			return stop.(stopSentinel).reason, nil
		}
		return StopSynchronizationError{}, err
	}

	for _, chunk := range chunks {
		if canceler != nil && canceler.IsCanceled() {
			return StopSynchronizationError{}, ErrOperationCancelled
		}

		if err := d.applyChunk(ctx, chunk, ln.Guid, &result.Counters); err != nil {
			return StopSynchronizationError{}, err
		}

		if chunk.HighUSN > result.SyncState.LinkedNotebookUpdateCounts[ln.Guid] {
			result.SyncState.LinkedNotebookUpdateCounts[ln.Guid] = chunk.HighUSN
		}
	}

	result.SyncState.LinkedNotebookLastSyncTimes[ln.Guid] = NowMillis()

	notesStatus, resourcesStatus := d.downloadFullContent(ctx, canceler, fetcher, chunks, opts, limitsRequested)
	mergeNotesStatus(&result.NotesStatus, notesStatus)
	mergeResourcesStatus(&result.ResourcesStatus, resourcesStatus)

	if !notesStatus.StopReason.None() {
		return notesStatus.StopReason, nil
	}
	if !resourcesStatus.StopReason.None() {
		return resourcesStatus.StopReason, nil
	}

	return StopSynchronizationError{}, nil
}

// downloadFullContent runs the bounded full-note and full-resource
// fetchers for every stub this batch of chunks introduced or touched,
// then kicks off the non-blocking thumbnail side channel.
func (d *Downloader) downloadFullContent(ctx context.Context, canceler Canceler, fetcher *remote.NoteStore, chunks []model.SyncChunk, opts RunOptions, limitsRequested *bool) (DownloadNotesStatus, DownloadResourcesStatus) {
	var noteStubs []model.Note
	var resourceStubs []model.Resource
	var thumbnailGuids []model.Guid

	for _, chunk := range chunks {
		for _, n := range chunk.Notes {
			if !n.HasFullContent {
				noteStubs = append(noteStubs, n)
				thumbnailGuids = append(thumbnailGuids, n.Guid)
			}
		}
		if !opts.DownloadNotesWithoutResources {
			for _, r := range chunk.Resources {
				if !r.HasFullData {
					resourceStubs = append(resourceStubs, r)
				}
			}
		}
	}

	requestLimits := !*limitsRequested

	notesStatus := d.notes.DownloadAll(ctx, canceler, fetcher, noteStubs, requestLimits, func(n model.Note) {
		if err := d.storage.PutNote(ctx, n); err != nil {
			d.logger.Warn("downloader: failed to persist downloaded note", "guid", n.Guid, "error", err)
		}
	})
	if len(noteStubs) > 0 {
		*limitsRequested = true
	}

	resourcesStatus := d.resources.DownloadAll(ctx, canceler, fetcher, resourceStubs, !opts.DownloadNotesWithoutResources, func(r model.Resource) {
		if err := d.storage.PutResource(ctx, r); err != nil {
			d.logger.Warn("downloader: failed to persist downloaded resource", "guid", r.Guid, "error", err)
		}
	})

	if d.sideChannel != nil && len(thumbnailGuids) > 0 {
		go d.sideChannel.FetchThumbnails(ctx, canceler, fetcher, thumbnailGuids, func(model.Guid, []byte) {})
	}

	return notesStatus, resourcesStatus
}

// applyChunk runs §4.6's processors over one chunk in the fixed
// dependency order: linked notebooks, notebooks, tags, saved searches,
// notes, resources — then their expunge counterparts in the order
// notebooks, tags, saved searches, notes, resources, linked notebooks
// (expunges never precede the add/update pass for the same chunk, since
// a single USN-ordered chunk never both introduces and retires the same
// guid).
func (d *Downloader) applyChunk(ctx context.Context, chunk model.SyncChunk, linkedNotebookGuid model.Guid, counters *SyncChunksDataCounters) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lnResult := ProcessAddsAndUpdates(ctx, chunk.LinkedNotebooks, d.linkedNotebookOps())
	counters.TotalLinkedNotebooks += len(chunk.LinkedNotebooks)
	counters.AddedLinkedNotebooks += lnResult.Added
	counters.UpdatedLinkedNotebooks += lnResult.Updated

	nbResult := ProcessAddsAndUpdates(ctx, chunk.Notebooks, d.notebookOps(linkedNotebookGuid))
	counters.TotalNotebooks += len(chunk.Notebooks)
	counters.AddedNotebooks += nbResult.Added
	counters.UpdatedNotebooks += nbResult.Updated

	orderedTags, err := SortTagsParentFirst(chunk.Tags)
	if err != nil {
		// A cycle is corruption, not a degraded-ordering case (§4.6): reject
		// the chunk rather than apply it with an unordered parent chain.
		return WithKind(KindRuntime, err)
	}
	tagResult := ProcessAddsAndUpdates(ctx, orderedTags, d.tagOps(linkedNotebookGuid))
	counters.TotalTags += len(chunk.Tags)
	counters.AddedTags += tagResult.Added
	counters.UpdatedTags += tagResult.Updated

	ssResult := ProcessAddsAndUpdates(ctx, chunk.SavedSearches, d.savedSearchOps())
	counters.TotalSavedSearches += len(chunk.SavedSearches)
	counters.AddedSavedSearches += ssResult.Added
	counters.UpdatedSavedSearches += ssResult.Updated

	noteResult := ProcessAddsAndUpdates(ctx, chunk.Notes, d.noteOps())
	counters.TotalNotes += len(chunk.Notes)
	counters.AddedNotes += noteResult.Added
	counters.UpdatedNotes += noteResult.Updated

	resResult := ProcessAddsAndUpdates(ctx, chunk.Resources, d.resourceOps())
	counters.TotalResources += len(chunk.Resources)
	counters.AddedResources += resResult.Added
	counters.UpdatedResources += resResult.Updated

	nbExpunge := ProcessExpunges(ctx, chunk.ExpungedNotebooks, d.notebookExpungeOps())
	counters.ExpungedNotebooks += nbExpunge.Expunged

	tagExpunge := ProcessExpunges(ctx, chunk.ExpungedTags, d.tagExpungeOps())
	counters.ExpungedTags += tagExpunge.Expunged

	ssExpunge := ProcessExpunges(ctx, chunk.ExpungedSavedSearches, d.savedSearchExpungeOps())
	counters.ExpungedSavedSearches += ssExpunge.Expunged

	noteExpunge := ProcessExpunges(ctx, chunk.ExpungedNotes, d.noteExpungeOps())
	counters.ExpungedNotes += noteExpunge.Expunged

	resExpunge := ProcessExpunges(ctx, chunk.ExpungedResources, d.resourceExpungeOps())
	counters.ExpungedResources += resExpunge.Expunged

	lnExpunge := ProcessExpunges(ctx, chunk.ExpungedLinkedNotebooks, d.linkedNotebookExpungeOps())
	counters.ExpungedLinkedNotebooks += lnExpunge.Expunged

	return nil
}

func (d *Downloader) linkedNotebookOps() ItemOps[model.LinkedNotebook] {
	return ItemOps[model.LinkedNotebook]{
		Guid:       func(ln model.LinkedNotebook) model.Guid { return ln.Guid },
		IsDirty:    func(ln model.LinkedNotebook) bool { return ln.IsDirty },
		FindByGuid: d.storage.FindLinkedNotebookByGuid,
		Put:        d.storage.PutLinkedNotebook,
		Resolve: func(_ context.Context, theirs, _ model.LinkedNotebook) (ConflictResolution[model.LinkedNotebook], error) {
			// Linked notebooks have no user-editable content to conflict
			// over; the remote version always wins.
			return ConflictResolution[model.LinkedNotebook]{Kind: UseTheirs}, nil
		},
	}
}

func (d *Downloader) notebookOps(linkedNotebookGuid model.Guid) ItemOps[model.Notebook] {
	return ItemOps[model.Notebook]{
		Guid:       func(nb model.Notebook) model.Guid { return nb.Guid },
		IsDirty:    func(nb model.Notebook) bool { return nb.IsDirty },
		FindByGuid: d.storage.FindNotebookByGuid,
		FindByName: func(ctx context.Context, nb model.Notebook) (*model.Notebook, error) {
			return d.storage.FindNotebookByName(ctx, normalizeName(nb.Name), linkedNotebookGuid)
		},
		Put:          d.storage.PutNotebook,
		Resolve:      d.resolver.ResolveNotebookConflict,
		CloneAsMoved: CloneNotebookAsMoved,
	}
}

func (d *Downloader) tagOps(linkedNotebookGuid model.Guid) ItemOps[model.Tag] {
	return ItemOps[model.Tag]{
		Guid:       func(t model.Tag) model.Guid { return t.Guid },
		IsDirty:    func(t model.Tag) bool { return t.IsDirty },
		FindByGuid: d.storage.FindTagByGuid,
		FindByName: func(ctx context.Context, t model.Tag) (*model.Tag, error) {
			return d.storage.FindTagByName(ctx, normalizeName(t.Name), linkedNotebookGuid)
		},
		Put:          d.storage.PutTag,
		Resolve:      d.resolver.ResolveTagConflict,
		CloneAsMoved: CloneTagAsMoved,
	}
}

func (d *Downloader) savedSearchOps() ItemOps[model.SavedSearch] {
	return ItemOps[model.SavedSearch]{
		Guid:       func(s model.SavedSearch) model.Guid { return s.Guid },
		IsDirty:    func(s model.SavedSearch) bool { return s.IsDirty },
		FindByGuid: d.storage.FindSavedSearchByGuid,
		FindByName: func(ctx context.Context, s model.SavedSearch) (*model.SavedSearch, error) {
			return d.storage.FindSavedSearchByName(ctx, normalizeName(s.Name))
		},
		Put:          d.storage.PutSavedSearch,
		Resolve:      d.resolver.ResolveSavedSearchConflict,
		CloneAsMoved: CloneSavedSearchAsMoved,
	}
}

func (d *Downloader) noteOps() ItemOps[model.Note] {
	return ItemOps[model.Note]{
		Guid:         func(n model.Note) model.Guid { return n.Guid },
		IsDirty:      func(n model.Note) bool { return n.IsDirty },
		FindByGuid:   d.storage.FindNoteByGuid,
		Put:          d.storage.PutNote,
		Resolve:      d.resolver.ResolveNoteConflict,
		CloneAsMoved: CloneNoteAsMoved,
	}
}

func (d *Downloader) resourceOps() ItemOps[model.Resource] {
	return ItemOps[model.Resource]{
		Guid:       func(r model.Resource) model.Guid { return r.Guid },
		IsDirty:    func(r model.Resource) bool { return r.IsDirty },
		FindByGuid: d.storage.FindResourceByGuid,
		Put:        d.storage.PutResource,
		Resolve: func(_ context.Context, theirs, _ model.Resource) (ConflictResolution[model.Resource], error) {
			// Resources have no independent conflict policy in §4.7; the
			// remote resource always wins, whatever its note's resolution.
			return ConflictResolution[model.Resource]{Kind: UseTheirs}, nil
		},
	}
}

func (d *Downloader) notebookExpungeOps() ExpungeOps[model.Notebook] {
	return ExpungeOps[model.Notebook]{
		FindByGuid:   d.storage.FindNotebookByGuid,
		IsDirty:      func(nb model.Notebook) bool { return nb.IsDirty },
		Put:          d.storage.PutNotebook,
		Expunge:      d.storage.ExpungeNotebook,
		Resolve:      d.resolver.ResolveNotebookConflict,
		CloneAsMoved: CloneNotebookAsMoved,
	}
}

func (d *Downloader) tagExpungeOps() ExpungeOps[model.Tag] {
	return ExpungeOps[model.Tag]{
		FindByGuid:   d.storage.FindTagByGuid,
		IsDirty:      func(t model.Tag) bool { return t.IsDirty },
		Put:          d.storage.PutTag,
		Expunge:      d.storage.ExpungeTag,
		Resolve:      d.resolver.ResolveTagConflict,
		CloneAsMoved: CloneTagAsMoved,
	}
}

func (d *Downloader) savedSearchExpungeOps() ExpungeOps[model.SavedSearch] {
	return ExpungeOps[model.SavedSearch]{
		FindByGuid:   d.storage.FindSavedSearchByGuid,
		IsDirty:      func(s model.SavedSearch) bool { return s.IsDirty },
		Put:          d.storage.PutSavedSearch,
		Expunge:      d.storage.ExpungeSavedSearch,
		Resolve:      d.resolver.ResolveSavedSearchConflict,
		CloneAsMoved: CloneSavedSearchAsMoved,
	}
}

func (d *Downloader) noteExpungeOps() ExpungeOps[model.Note] {
	return ExpungeOps[model.Note]{
		FindByGuid:   d.storage.FindNoteByGuid,
		IsDirty:      func(n model.Note) bool { return n.IsDirty },
		Put:          d.storage.PutNote,
		Expunge:      d.storage.ExpungeNote,
		Resolve:      d.resolver.ResolveNoteConflict,
		CloneAsMoved: CloneNoteAsMoved,
	}
}

func (d *Downloader) resourceExpungeOps() ExpungeOps[model.Resource] {
	return ExpungeOps[model.Resource]{
		FindByGuid: d.storage.FindResourceByGuid,
		IsDirty:    func(r model.Resource) bool { return r.IsDirty },
		Expunge:    d.storage.ExpungeResource,
	}
}

func (d *Downloader) linkedNotebookExpungeOps() ExpungeOps[model.LinkedNotebook] {
	return ExpungeOps[model.LinkedNotebook]{
		FindByGuid: d.storage.FindLinkedNotebookByGuid,
		IsDirty:    func(ln model.LinkedNotebook) bool { return ln.IsDirty },
		Expunge:    d.storage.ExpungeLinkedNotebook,
	}
}

// authStopCondition classifies an AuthProvider failure as a stop
// condition when it stems from an auth-expired remote response, rather
// than a local fault (keychain, invalid argument).
func authStopCondition(err error) (StopSynchronizationError, bool) {
	if errors.Is(err, remote.ErrAuthExpired) {
		return StopSynchronizationError{Kind: StopAuthenticationExpired}, true
	}

	return StopSynchronizationError{}, false
}

func mergeNotesStatus(into *DownloadNotesStatus, from DownloadNotesStatus) {
	into.TotalNewNotes += from.TotalNewNotes
	into.TotalUpdatedNotes += from.TotalUpdatedNotes
	into.NotesWhichFailedToDownload = append(into.NotesWhichFailedToDownload, from.NotesWhichFailedToDownload...)
	into.NotesWhichFailedToProcess = append(into.NotesWhichFailedToProcess, from.NotesWhichFailedToProcess...)
	if !from.StopReason.None() {
		into.StopReason = from.StopReason
	}
}

func mergeResourcesStatus(into *DownloadResourcesStatus, from DownloadResourcesStatus) {
	into.TotalNewResources += from.TotalNewResources
	into.TotalUpdatedResources += from.TotalUpdatedResources
	into.ResourcesWhichFailedToDownload = append(into.ResourcesWhichFailedToDownload, from.ResourcesWhichFailedToDownload...)
	into.ResourcesWhichFailedToProcess = append(into.ResourcesWhichFailedToProcess, from.ResourcesWhichFailedToProcess...)
	if !from.StopReason.None() {
		into.StopReason = from.StopReason
	}
}

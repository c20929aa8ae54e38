// Package sync implements the Account Synchronizer: the pipelined state
// machine that downloads remote changes in sync chunks, reconciles them
// against the local store, resolves conflicts, uploads local
// modifications, and persists resumable progress.
package sync

import (
	"context"
	"time"

	"github.com/evernote-go/accountsync/internal/model"
)

// --- Consumer-defined interfaces for external collaborators ---
// These decouple this package from concrete local-storage and remote
// implementations, following "accept interfaces, return structs".

// LocalStorage is the consumed contract named in §6.1: CRUD, name/guid
// lookup, filtered listing, atomic mutation, and a put/expunge
// notification stream. The core never implements this; it is an external
// collaborator.
type LocalStorage interface {
	FindNotebookByGuid(ctx context.Context, guid model.Guid) (*model.Notebook, error)
	FindNotebookByName(ctx context.Context, name string, linkedNotebookGuid model.Guid) (*model.Notebook, error)
	PutNotebook(ctx context.Context, nb model.Notebook) error
	ExpungeNotebook(ctx context.Context, guid model.Guid) error

	FindTagByGuid(ctx context.Context, guid model.Guid) (*model.Tag, error)
	FindTagByName(ctx context.Context, name string, linkedNotebookGuid model.Guid) (*model.Tag, error)
	PutTag(ctx context.Context, tag model.Tag) error
	ExpungeTag(ctx context.Context, guid model.Guid) error

	FindSavedSearchByGuid(ctx context.Context, guid model.Guid) (*model.SavedSearch, error)
	FindSavedSearchByName(ctx context.Context, name string) (*model.SavedSearch, error)
	PutSavedSearch(ctx context.Context, s model.SavedSearch) error
	ExpungeSavedSearch(ctx context.Context, guid model.Guid) error

	FindNoteByGuid(ctx context.Context, guid model.Guid) (*model.Note, error)
	PutNote(ctx context.Context, note model.Note) error
	ExpungeNote(ctx context.Context, guid model.Guid) error

	FindResourceByGuid(ctx context.Context, guid model.Guid) (*model.Resource, error)
	PutResource(ctx context.Context, res model.Resource) error
	ExpungeResource(ctx context.Context, guid model.Guid) error

	FindLinkedNotebookByGuid(ctx context.Context, guid model.Guid) (*model.LinkedNotebook, error)
	PutLinkedNotebook(ctx context.Context, ln model.LinkedNotebook) error
	ExpungeLinkedNotebook(ctx context.Context, guid model.Guid) error

	// ListLinkedNotebooks returns every linked notebook currently known
	// locally, in guid-sorted order, for the Downloader (§4.8) to iterate
	// as scopes alongside the account's own.
	ListLinkedNotebooks(ctx context.Context) ([]model.LinkedNotebook, error)

	PutUser(ctx context.Context, u model.User) error

	// ListDirtyNotebooks/Tags/SavedSearches/Notes return locally-modified
	// items for the Sender (§4.9) to upload, in guid-stable iteration order.
	ListDirtyNotebooks(ctx context.Context) ([]model.Notebook, error)
	ListDirtyTags(ctx context.Context) ([]model.Tag, error)
	ListDirtySavedSearches(ctx context.Context) ([]model.SavedSearch, error)
	ListDirtyNotes(ctx context.Context) ([]model.Note, error)

	// ListLinkedNotebookTagsWithoutNotes supports the tags-cleaner (§4.8.4):
	// "affiliation = AnyLinkedNotebook", "tagNotesRelation = WithoutNotes".
	ListLinkedNotebookTagsWithoutNotes(ctx context.Context, linkedNotebookGuid model.Guid) ([]model.Tag, error)

	// Notifications returns a stream of per-category put/expunge events.
	// Implementations may return a nil channel if no subscriber is needed.
	Notifications() <-chan StorageEvent
}

// StorageEventKind distinguishes put from expunge notifications.
type StorageEventKind int

const (
	EventPut StorageEventKind = iota
	EventExpunged
)

// StorageCategory names the item category an event pertains to.
type StorageCategory int

const (
	CategoryNotebook StorageCategory = iota
	CategoryTag
	CategorySavedSearch
	CategoryNote
	CategoryResource
	CategoryLinkedNotebook
)

// StorageEvent is one notification from the local storage's event stream.
type StorageEvent struct {
	Kind     StorageEventKind
	Category StorageCategory
	Guid     model.Guid
}

// ConflictResolver is the external collaborator consumed by the per-item
// processors and the sender (§4.7). Implementations decide, per category,
// how to reconcile a remote version against a dirty local version.
type ConflictResolver interface {
	ResolveNotebookConflict(ctx context.Context, theirs, mine model.Notebook) (ConflictResolution[model.Notebook], error)
	ResolveTagConflict(ctx context.Context, theirs, mine model.Tag) (ConflictResolution[model.Tag], error)
	ResolveSavedSearchConflict(ctx context.Context, theirs, mine model.SavedSearch) (ConflictResolution[model.SavedSearch], error)
	ResolveNoteConflict(ctx context.Context, theirs, mine model.Note) (ConflictResolution[model.Note], error)
}

// ResolutionKind is one of the four standard resolutions named in §4.7.
type ResolutionKind int

const (
	UseTheirs ResolutionKind = iota
	UseMine
	IgnoreMine
	MoveMine
)

// ConflictResolution is the generic result of a conflict resolver call.
// When Kind == MoveMine, the caller builds the renamed/duplicated local
// item itself via the relevant ItemOps/ExpungeOps/SendOps.CloneAsMoved
// hook; the resolver only names which resolution applies.
type ConflictResolution[T any] struct {
	Kind ResolutionKind
}

// --- Status and progress types (§3, §6.4) ---

// SyncChunksDataCounters tracks per-category progress within a single run.
// Monotonic across the run; never decreases.
type SyncChunksDataCounters struct {
	TotalNotebooks       int `json:"totalNotebooks"`
	TotalTags            int `json:"totalTags"`
	TotalSavedSearches   int `json:"totalSavedSearches"`
	TotalNotes           int `json:"totalNotes"`
	TotalResources       int `json:"totalResources"`
	TotalLinkedNotebooks int `json:"totalLinkedNotebooks"`

	AddedNotebooks       int `json:"addedNotebooks"`
	AddedTags            int `json:"addedTags"`
	AddedSavedSearches   int `json:"addedSavedSearches"`
	AddedNotes           int `json:"addedNotes"`
	AddedResources       int `json:"addedResources"`
	AddedLinkedNotebooks int `json:"addedLinkedNotebooks"`

	UpdatedNotebooks       int `json:"updatedNotebooks"`
	UpdatedTags            int `json:"updatedTags"`
	UpdatedSavedSearches   int `json:"updatedSavedSearches"`
	UpdatedNotes           int `json:"updatedNotes"`
	UpdatedResources       int `json:"updatedResources"`
	UpdatedLinkedNotebooks int `json:"updatedLinkedNotebooks"`

	ExpungedNotebooks       int `json:"expungedNotebooks"`
	ExpungedTags            int `json:"expungedTags"`
	ExpungedSavedSearches   int `json:"expungedSavedSearches"`
	ExpungedNotes           int `json:"expungedNotes"`
	ExpungedResources       int `json:"expungedResources"`
	ExpungedLinkedNotebooks int `json:"expungedLinkedNotebooks"`
}

// ItemFailure pairs an item identifier with the error that prevented it
// from downloading/processing/sending. Per-item failures never abort a
// run (§4.6, §4.9); they accumulate here.
type ItemFailure struct {
	Guid  model.Guid `json:"guid"`
	Error string     `json:"error"`
}

// DownloadNotesStatus is the per-run outcome of note content downloading.
type DownloadNotesStatus struct {
	TotalNewNotes              int                      `json:"totalNewNotes"`
	TotalUpdatedNotes          int                      `json:"totalUpdatedNotes"`
	TotalExpungedNotes         int                      `json:"totalExpungedNotes"`
	DownloadedBytes            int64                    `json:"downloadedBytes"`
	NotesWhichFailedToDownload []ItemFailure            `json:"notesWhichFailedToDownload,omitempty"`
	NotesWhichFailedToProcess  []ItemFailure            `json:"notesWhichFailedToProcess,omitempty"`
	StopReason                 StopSynchronizationError `json:"stopReason"`
}

// DownloadResourcesStatus is the per-run outcome of resource downloading.
type DownloadResourcesStatus struct {
	TotalNewResources              int                      `json:"totalNewResources"`
	TotalUpdatedResources          int                      `json:"totalUpdatedResources"`
	DownloadedBytes                int64                    `json:"downloadedBytes"`
	ResourcesWhichFailedToDownload []ItemFailure            `json:"resourcesWhichFailedToDownload,omitempty"`
	ResourcesWhichFailedToProcess  []ItemFailure            `json:"resourcesWhichFailedToProcess,omitempty"`
	StopReason                     StopSynchronizationError `json:"stopReason"`
}

// SendStatus is the per-run outcome of the upload phase (§4.9).
type SendStatus struct {
	TotalSuccessfulUpdates int                      `json:"totalSuccessfulUpdates"`
	UploadedBytes          int64                    `json:"uploadedBytes"`
	FailedToSendItems      []ItemFailure            `json:"failedToSendItems,omitempty"`
	HighestSentUSN         model.USN                `json:"highestSentUsn"`
	StopReason             StopSynchronizationError `json:"stopReason"`
}

// SyncStats carries byte-level throughput figures alongside the item
// counters in SyncChunksDataCounters (SUPPLEMENTED FEATURES: original_source
// SyncStats.h/.cpp).
type SyncStats struct {
	DownloadedBytes int64 `json:"downloadedBytes"`
	UploadedBytes   int64 `json:"uploadedBytes"`
}

// SyncResult is the final, user-visible outcome of one synchronize() call:
// counters, per-item failure lists, the optional stop condition, and the
// updated SyncState.
type SyncResult struct {
	Counters           SyncChunksDataCounters  `json:"counters"`
	DownloadNotesStatus DownloadNotesStatus    `json:"downloadNotesStatus"`
	DownloadResourcesStatus DownloadResourcesStatus `json:"downloadResourcesStatus"`
	SendStatus         SendStatus              `json:"sendStatus"`
	Stats              SyncStats               `json:"stats"`
	SyncState          model.SyncState         `json:"syncState"`
	StopReason         StopSynchronizationError `json:"stopReason"`
}

// --- Timestamp helpers ---

// NowMillis returns the current time as Unix milliseconds, the wire format
// used throughout this package.
func NowMillis() model.Timestamp {
	return model.Timestamp(time.Now().UnixMilli())
}

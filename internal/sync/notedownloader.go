package sync

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/evernote-go/accountsync/internal/model"
	"github.com/evernote-go/accountsync/internal/remote"
)

// NoteContentFetcher is the slice of the remote note-store contract the
// full-data downloader needs.
type NoteContentFetcher interface {
	GetNoteWithResultSpec(ctx context.Context, guid model.Guid, spec remote.NoteResultSpec) (*model.Note, error)
}

// NoteDownloader fetches full note content on demand, bounded by a
// semaphore of size maxInFlightDownloads (§4.6, §5). Chunk metadata
// carries only stub notes; this is what fills in HasFullContent.
type NoteDownloader struct {
	sem *semaphore.Weighted
}

// NewNoteDownloader returns a downloader allowing at most maxInFlight
// concurrent full-note fetches.
func NewNoteDownloader(maxInFlight int) *NoteDownloader {
	return &NoteDownloader{sem: semaphore.NewWeighted(int64(maxInFlight))}
}

// DownloadAll fetches full content for each stub note concurrently, up to
// the configured concurrency limit. requestLimitsForFirst is true only
// when the caller hasn't yet requested account-limit metadata anywhere
// in the current run (IncludeNoteLimits=Yes per §4.6 goes on exactly one
// note per run, not one per call); the first stub in this batch carries
// it when that's the case. Per-item failures are collected into the
// returned status rather than aborting the batch, unless the underlying
// error is a rate-limit or auth-expired stop condition, which aborts the
// whole batch and is surfaced via status.StopReason.
func (d *NoteDownloader) DownloadAll(ctx context.Context, canceler Canceler, fetcher NoteContentFetcher, stubs []model.Note, requestLimitsForFirst bool, onDownloaded func(model.Note)) DownloadNotesStatus {
	var (
		status DownloadNotesStatus
		mu     sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)

	for i, stub := range stubs {
		i, stub := i, stub

		if canceler != nil && canceler.IsCanceled() {
			break
		}

		if err := d.sem.Acquire(gctx, 1); err != nil {
			break
		}

		includeLimits := requestLimitsForFirst && i == 0

		g.Go(func() error {
			defer d.sem.Release(1)

			if canceler != nil && canceler.IsCanceled() {
				return ErrOperationCancelled
			}

			spec := remote.NoteResultSpec{WithContent: true, WithResourcesData: true, IncludeNoteLimits: includeLimits}

			full, err := fetcher.GetNoteWithResultSpec(gctx, stub.Guid, spec)
			if err != nil {
				if stop, ok := stopConditionFor(err); ok {
					return stop
				}

				mu.Lock()
				status.NotesWhichFailedToDownload = append(status.NotesWhichFailedToDownload, ItemFailure{
					Guid: stub.Guid, Error: err.Error(),
				})
				mu.Unlock()

				return nil
			}

			mu.Lock()
			if stub.IsDirty {
				status.TotalUpdatedNotes++
			} else {
				status.TotalNewNotes++
			}
			status.DownloadedBytes += int64(len(full.Content))
			mu.Unlock()

			onDownloaded(*full)

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		var stop stopSentinel
		if errors.As(err, &stop) {
			status.StopReason = stop.reason
		} else if !errors.Is(err, ErrOperationCancelled) {
			status.NotesWhichFailedToDownload = append(status.NotesWhichFailedToDownload, ItemFailure{Error: err.Error()})
		}
	}

	return status
}

// stopSentinel wraps a StopSynchronizationError so it can travel as a Go
// error through errgroup without losing its structured payload.
type stopSentinel struct {
	reason StopSynchronizationError
}

func (s stopSentinel) Error() string {
	return "sync: stop condition: " + s.reason.String()
}

// stopConditionFor classifies a remote error into a stop condition per
// §7: rate-limit and auth-expired bypass per-item failure accumulation
// and abort the whole batch.
func stopConditionFor(err error) (error, bool) {
	if errors.Is(err, remote.ErrRateLimited) {
		wait := 0

		var remoteErr *remote.Error
		if errors.As(err, &remoteErr) {
			wait = remoteErr.RateLimitWaitS
		}

		return stopSentinel{reason: StopSynchronizationError{Kind: StopRateLimitReached, SecondsToWait: wait}}, true
	}

	if errors.Is(err, remote.ErrAuthExpired) {
		return stopSentinel{reason: StopSynchronizationError{Kind: StopAuthenticationExpired}}, true
	}

	return nil, false
}

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

// ResourceContentFetcher is the slice of the remote note-store contract
// the full-data downloader needs for resource bodies.
type ResourceContentFetcher interface {
	GetResource(ctx context.Context, guid model.Guid, opts remote.ResourceOptions) (*model.Resource, error)
}

// ResourceDownloader fetches full resource bodies on demand, bounded by
// the same class of semaphore as NoteDownloader (§4.6, §5). It shares no
// state with NoteDownloader — each owns its own slice of the
// maxInFlightDownloads budget, mirroring how the chunk processors treat
// notes and resources as separate categories.
type ResourceDownloader struct {
	sem *semaphore.Weighted
}

// NewResourceDownloader returns a downloader allowing at most maxInFlight
// concurrent full-resource fetches.
func NewResourceDownloader(maxInFlight int) *ResourceDownloader {
	return &ResourceDownloader{sem: semaphore.NewWeighted(int64(maxInFlight))}
}

// DownloadAll fetches full bodies for each stub resource concurrently.
// withData controls whether the resource's binary body is actually
// requested; with false only metadata is fetched. When
// RunOptions.DownloadNotesWithoutResources is set the Downloader passes no
// stubs at all, so no resource is fetched. Per-item failures accumulate in the returned
// status; a rate-limit or auth-expired condition aborts the whole batch.
func (d *ResourceDownloader) DownloadAll(ctx context.Context, canceler Canceler, fetcher ResourceContentFetcher, stubs []model.Resource, withData bool, onDownloaded func(model.Resource)) DownloadResourcesStatus {
	var (
		status DownloadResourcesStatus
		mu     sync.Mutex
	)

	g, gctx := errgroup.WithContext(ctx)

	for _, stub := range stubs {
		stub := stub

		if canceler != nil && canceler.IsCanceled() {
			break
		}

		if err := d.sem.Acquire(gctx, 1); err != nil {
			break
		}

		g.Go(func() error {
			defer d.sem.Release(1)

			if canceler != nil && canceler.IsCanceled() {
				return ErrOperationCancelled
			}

			opts := remote.ResourceOptions{WithData: withData, WithRecognition: withData, WithAlternateData: withData}

			full, err := fetcher.GetResource(gctx, stub.Guid, opts)
			if err != nil {
				if stop, ok := stopConditionFor(err); ok {
					return stop
				}

				mu.Lock()
				status.ResourcesWhichFailedToDownload = append(status.ResourcesWhichFailedToDownload, ItemFailure{
					Guid: stub.Guid, Error: err.Error(),
				})
				mu.Unlock()

				return nil
			}

			mu.Lock()
			if stub.IsDirty {
				status.TotalUpdatedResources++
			} else {
				status.TotalNewResources++
			}
			status.DownloadedBytes += int64(len(full.Data))
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
			status.ResourcesWhichFailedToDownload = append(status.ResourcesWhichFailedToDownload, ItemFailure{Error: err.Error()})
		}
	}

	return status
}

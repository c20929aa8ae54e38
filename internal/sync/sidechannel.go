package sync

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/evernote-go/accountsync/internal/model"
)

// ThumbnailFetcher is the slice of the remote note-store contract the
// side channel needs. Thumbnails and ink-image recognition data share no
// real kinship with full-content downloads: they are opportunistic,
// best-effort, and never gate the rest of the run.
type ThumbnailFetcher interface {
	GetNoteThumbnail(ctx context.Context, guid model.Guid) ([]byte, error)
}

// SideChannel fetches thumbnails (and, for ink notes, recognition images)
// in parallel with the main download pipeline (§4.8 step 3). Every
// failure is logged and discarded; the side channel never produces a
// StopSynchronizationError and never blocks the Downloader beyond its own
// completion.
type SideChannel struct {
	logger      *slog.Logger
	concurrency int
}

// NewSideChannel returns a side channel that runs up to concurrency
// thumbnail fetches at once.
func NewSideChannel(logger *slog.Logger, concurrency int) *SideChannel {
	if concurrency < 1 {
		concurrency = 1
	}

	return &SideChannel{logger: logger, concurrency: concurrency}
}

// FetchThumbnails kicks off one fetch per guid and waits for them all to
// finish (or for the canceler to fire). Call it from its own goroutine if
// the Downloader wants a truly non-blocking handoff; the method itself is
// synchronous so callers can still observe when the batch has drained.
func (s *SideChannel) FetchThumbnails(ctx context.Context, canceler Canceler, fetcher ThumbnailFetcher, guids []model.Guid, onFetched func(model.Guid, []byte)) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, guid := range guids {
		guid := guid

		if canceler != nil && canceler.IsCanceled() {
			break
		}

		g.Go(func() error {
			if canceler != nil && canceler.IsCanceled() {
				return nil
			}

			data, err := fetcher.GetNoteThumbnail(gctx, guid)
			if err != nil {
				s.logger.Warn("side channel: thumbnail fetch failed", "guid", guid, "error", err)
				return nil
			}

			onFetched(guid, data)

			return nil
		})
	}

	_ = g.Wait()
}

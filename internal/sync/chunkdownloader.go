package sync

import (
	"context"
	"fmt"

	"github.com/evernote-go/accountsync/internal/model"
)

// SyncChunkFetcher is the slice of the remote note-store contract (§6.2)
// the chunk downloader needs. *remote.NoteStore satisfies this structurally
// for both the account's own endpoint and a linked notebook's endpoint.
type SyncChunkFetcher interface {
	GetSyncChunk(ctx context.Context, afterUSN model.USN, maxEntries int, fullSync bool) (*model.SyncChunk, error)
}

// ChunkDownloader drives one endpoint (account-own or one linked notebook)
// to completion, pulling chunks until the server reports it is current
// (§4.5).
type ChunkDownloader struct {
	maxEntries int
}

// NewChunkDownloader returns a downloader that requests at most maxEntries
// records per chunk.
func NewChunkDownloader(maxEntries int) *ChunkDownloader {
	return &ChunkDownloader{maxEntries: maxEntries}
}

// Download pulls chunks starting at afterUSN until the server reports the
// sequence is current (chunk.IsFull()), honoring canceler at each
// iteration. fullSync requests the server drop the afterUSN filter
// entirely (used on first sync or after a forced resync).
//
// A chunk whose HighUSN equals afterUSN (server has nothing new) ends the
// loop with whatever was already collected, per §4.5's tie-break.
func (d *ChunkDownloader) Download(ctx context.Context, canceler Canceler, fetcher SyncChunkFetcher, afterUSN model.USN, fullSync bool) ([]model.SyncChunk, error) {
	var chunks []model.SyncChunk

	cursor := afterUSN
	first := true

	for {
		if canceler != nil && canceler.IsCanceled() {
			return chunks, ErrOperationCancelled
		}
		if err := ctx.Err(); err != nil {
			return chunks, err
		}

		chunk, err := fetcher.GetSyncChunk(ctx, cursor, d.maxEntries, fullSync && first)
		if err != nil {
			return chunks, fmt.Errorf("sync: downloading chunk after usn %d: %w", cursor, err)
		}
		first = false

		if chunk.HighUSN == cursor {
			break
		}

		chunks = append(chunks, *chunk)

		if chunk.IsFull() {
			break
		}

		cursor = chunk.HighUSN
	}

	return chunks, nil
}

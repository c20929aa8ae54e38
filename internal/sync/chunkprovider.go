package sync

import (
	"context"

	"github.com/evernote-go/accountsync/internal/model"
)

// ChunkProvider merges the on-disk chunk cache (§4.3) with live downloads
// (§4.5): it emits cached chunks first, then downloads and caches whatever
// the cache does not yet cover.
type ChunkProvider struct {
	store      *ChunkStore
	downloader *ChunkDownloader
}

// NewChunkProvider wires a cache and a downloader together.
func NewChunkProvider(store *ChunkStore, downloader *ChunkDownloader) *ChunkProvider {
	return &ChunkProvider{store: store, downloader: downloader}
}

// Provide returns all chunks with HighUSN > afterUSN for the given scope
// (linkedNotebookGuid zero means the account's own data), consulting the
// cache before the network and writing new downloads back into the cache.
func (p *ChunkProvider) Provide(ctx context.Context, canceler Canceler, fetcher SyncChunkFetcher, linkedNotebookGuid model.Guid, afterUSN model.USN, fullSync bool) ([]model.SyncChunk, error) {
	cached, err := p.store.FetchRelevant(ctx, linkedNotebookGuid, afterUSN)
	if err != nil {
		return nil, err
	}

	cursor := afterUSN
	for _, c := range cached {
		if c.HighUSN > cursor {
			cursor = c.HighUSN
		}
	}

	downloaded, err := p.downloader.Download(ctx, canceler, fetcher, cursor, fullSync && len(cached) == 0)
	if err != nil {
		// Partial progress already lives in the cache from prior Provide
		// calls; nothing from this failed attempt needs to be written.
		return nil, err
	}

	if len(downloaded) > 0 {
		if err := p.store.Put(ctx, linkedNotebookGuid, downloaded); err != nil {
			return nil, err
		}
	}

	return append(cached, downloaded...), nil
}

package sync

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evernote-go/accountsync/internal/model"
)

type fakeFetcher struct {
	chunks []model.SyncChunk // in the order they should be returned
	calls  int
	err    error
}

func (f *fakeFetcher) GetSyncChunk(_ context.Context, afterUSN model.USN, _ int, _ bool) (*model.SyncChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.chunks) {
		last := f.chunks[len(f.chunks)-1]
		return &model.SyncChunk{LowUSN: afterUSN, HighUSN: afterUSN, ChunkHighUSN: last.ChunkHighUSN}, nil
	}
	c := f.chunks[f.calls]
	f.calls++
	return &c, nil
}

func TestChunkDownloaderStopsWhenFull(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{chunks: []model.SyncChunk{
		{LowUSN: 1, HighUSN: 10, ChunkHighUSN: 20},
		{LowUSN: 11, HighUSN: 20, ChunkHighUSN: 20},
	}}

	d := NewChunkDownloader(100)
	chunks, err := d.Download(context.Background(), nil, fetcher, 0, true)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, model.USN(20), chunks[1].HighUSN)
	assert.Equal(t, 2, fetcher.calls)
}

func TestChunkDownloaderEmptyWhenServerHasNothingNew(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{chunks: []model.SyncChunk{
		{LowUSN: 5, HighUSN: 5, ChunkHighUSN: 5},
	}}

	d := NewChunkDownloader(100)
	chunks, err := d.Download(context.Background(), nil, fetcher, 5, false)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkDownloaderRespectsCanceler(t *testing.T) {
	t.Parallel()

	c := NewManualCanceler()
	c.Cancel()

	fetcher := &fakeFetcher{chunks: []model.SyncChunk{{LowUSN: 1, HighUSN: 10, ChunkHighUSN: 20}}}
	d := NewChunkDownloader(100)

	chunks, err := d.Download(context.Background(), c, fetcher, 0, false)
	assert.ErrorIs(t, err, ErrOperationCancelled)
	assert.Empty(t, chunks)
	assert.Equal(t, 0, fetcher.calls)
}

func TestChunkDownloaderSurfacesFetchError(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{err: errors.New("boom")}
	d := NewChunkDownloader(100)

	_, err := d.Download(context.Background(), nil, fetcher, 0, false)
	assert.ErrorContains(t, err, "boom")
}

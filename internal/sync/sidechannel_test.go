package sync

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/evernote-go/accountsync/internal/model"
)

type fakeThumbnailFetcher struct {
	mu     sync.Mutex
	byGuid map[model.Guid][]byte
	err    map[model.Guid]error
}

func (f *fakeThumbnailFetcher) GetNoteThumbnail(_ context.Context, guid model.Guid) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.err[guid]; ok {
		return nil, err
	}

	return f.byGuid[guid], nil
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSideChannelFetchesAllThumbnails(t *testing.T) {
	t.Parallel()

	fetcher := &fakeThumbnailFetcher{byGuid: map[model.Guid][]byte{
		"1111": []byte("a"),
		"2222": []byte("b"),
	}}

	sc := NewSideChannel(silentLogger(), 4)

	var mu sync.Mutex
	fetched := make(map[model.Guid][]byte)

	sc.FetchThumbnails(context.Background(), nil, fetcher, []model.Guid{"1111", "2222"}, func(g model.Guid, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		fetched[g] = data
	})

	assert.Equal(t, []byte("a"), fetched["1111"])
	assert.Equal(t, []byte("b"), fetched["2222"])
}

func TestSideChannelSwallowsFailures(t *testing.T) {
	t.Parallel()

	fetcher := &fakeThumbnailFetcher{
		byGuid: map[model.Guid][]byte{"1111": []byte("a")},
		err:    map[model.Guid]error{"2222": assertError("thumbnail unavailable")},
	}

	sc := NewSideChannel(silentLogger(), 2)

	var calls int
	assert.NotPanics(t, func() {
		sc.FetchThumbnails(context.Background(), nil, fetcher, []model.Guid{"1111", "2222"}, func(model.Guid, []byte) {
			calls++
		})
	})

	assert.Equal(t, 1, calls, "only the successful fetch should invoke the callback")
}

func TestSideChannelRespectsCanceler(t *testing.T) {
	t.Parallel()

	fetcher := &fakeThumbnailFetcher{byGuid: map[model.Guid][]byte{"1111": []byte("a")}}

	canceler := NewManualCanceler()
	canceler.Cancel()

	sc := NewSideChannel(silentLogger(), 1)

	var calls int
	sc.FetchThumbnails(context.Background(), canceler, fetcher, []model.Guid{"1111"}, func(model.Guid, []byte) {
		calls++
	})

	assert.Zero(t, calls)
}

package sync

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evernote-go/accountsync/internal/model"
	"github.com/evernote-go/accountsync/internal/remote"
)

type fakeNoteFetcher struct {
	mu            sync.Mutex
	byGuid        map[model.Guid]model.Note
	err           map[model.Guid]error
	limitsAskedOn []model.Guid
}

func newFakeNoteFetcher() *fakeNoteFetcher {
	return &fakeNoteFetcher{byGuid: make(map[model.Guid]model.Note), err: make(map[model.Guid]error)}
}

func (f *fakeNoteFetcher) GetNoteWithResultSpec(_ context.Context, guid model.Guid, spec remote.NoteResultSpec) (*model.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if spec.IncludeNoteLimits {
		f.limitsAskedOn = append(f.limitsAskedOn, guid)
	}

	if err, ok := f.err[guid]; ok {
		return nil, err
	}

	note := f.byGuid[guid]
	note.HasFullContent = true

	return &note, nil
}

func TestNoteDownloaderFetchesAllAndMarksFirstForLimits(t *testing.T) {
	t.Parallel()

	fetcher := newFakeNoteFetcher()
	guids := []model.Guid{"1111", "2222", "3333"}
	stubs := make([]model.Note, len(guids))

	for i, g := range guids {
		stubs[i].Guid = g
		note := model.Note{Title: string(g)}
		note.Guid = g
		fetcher.byGuid[g] = note
	}

	downloader := NewNoteDownloader(2)

	var mu sync.Mutex
	var downloaded []model.Note
	status := downloader.DownloadAll(context.Background(), nil, fetcher, stubs, true, func(n model.Note) {
		mu.Lock()
		defer mu.Unlock()
		downloaded = append(downloaded, n)
	})

	assert.Equal(t, 3, status.TotalNewNotes)
	assert.Empty(t, status.NotesWhichFailedToDownload)
	assert.Len(t, downloaded, 3)
	assert.Len(t, fetcher.limitsAskedOn, 1, "only the first note of the run should request account limits")
}

func TestNoteDownloaderSkipsLimitsWhenAlreadyRequestedThisRun(t *testing.T) {
	t.Parallel()

	fetcher := newFakeNoteFetcher()
	guid := model.Guid("1111")
	note := model.Note{}
	note.Guid = guid
	fetcher.byGuid[guid] = note

	downloader := NewNoteDownloader(1)
	stubs := []model.Note{{}}
	stubs[0].Guid = guid

	downloader.DownloadAll(context.Background(), nil, fetcher, stubs, false, func(model.Note) {})
	assert.Empty(t, fetcher.limitsAskedOn)
}

func TestNoteDownloaderAccumulatesPerItemFailures(t *testing.T) {
	t.Parallel()

	fetcher := newFakeNoteFetcher()
	ok := model.Guid("1111")
	bad := model.Guid("2222")

	okNote := model.Note{}
	okNote.Guid = ok
	fetcher.byGuid[ok] = okNote
	fetcher.err[bad] = assertError("boom")

	downloader := NewNoteDownloader(4)
	stubs := []model.Note{{}, {}}
	stubs[0].Guid = ok
	stubs[1].Guid = bad

	status := downloader.DownloadAll(context.Background(), nil, fetcher, stubs, true, func(model.Note) {})

	require.Len(t, status.NotesWhichFailedToDownload, 1)
	assert.Equal(t, bad, status.NotesWhichFailedToDownload[0].Guid)
	assert.Equal(t, 1, status.TotalNewNotes)
}

func TestNoteDownloaderRateLimitAbortsAndSurfacesStopReason(t *testing.T) {
	t.Parallel()

	fetcher := newFakeNoteFetcher()
	limited := model.Guid("1111")
	fetcher.err[limited] = &remote.Error{StatusCode: 429, RateLimitWaitS: 30, Err: remote.ErrRateLimited}

	downloader := NewNoteDownloader(1)
	stubs := []model.Note{{}}
	stubs[0].Guid = limited

	status := downloader.DownloadAll(context.Background(), nil, fetcher, stubs, true, func(model.Note) {})

	assert.Equal(t, StopRateLimitReached, status.StopReason.Kind)
	assert.Equal(t, 30, status.StopReason.SecondsToWait)
}

func TestNoteDownloaderRespectsCanceler(t *testing.T) {
	t.Parallel()

	fetcher := newFakeNoteFetcher()
	guid := model.Guid("1111")
	note := model.Note{}
	note.Guid = guid
	fetcher.byGuid[guid] = note

	canceler := NewManualCanceler()
	canceler.Cancel()

	downloader := NewNoteDownloader(1)
	stubs := []model.Note{{}}
	stubs[0].Guid = guid

	status := downloader.DownloadAll(context.Background(), canceler, fetcher, stubs, true, func(model.Note) {
		t.Fatal("onDownloaded must not be called once canceled")
	})

	assert.Zero(t, status.TotalNewNotes)
}

type assertError string

func (e assertError) Error() string { return string(e) }

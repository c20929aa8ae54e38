package sync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evernote-go/accountsync/internal/config"
	"github.com/evernote-go/accountsync/internal/model"
	"github.com/evernote-go/accountsync/internal/remote"
	"github.com/evernote-go/accountsync/internal/secrets"
)

// newSynchronizerTestRig wires a Downloader and a Sender against the same
// mock note-store mux, storage, and auth provider, mirroring
// newDownloaderTestRig/newSenderTestRig so the two halves share state the
// way AccountSynchronizer expects.
func newSynchronizerTestRig(t *testing.T, mux *http.ServeMux, cfg config.Config) (*AccountSynchronizer, *memStorage) {
	t.Helper()

	noteStoreSrv := httptest.NewServer(mux)
	t.Cleanup(noteStoreSrv.Close)

	oauthCfg := newTokenOnlyOAuthServer(t, nil)

	kc, err := secrets.NewFileKeychain(t.TempDir())
	require.NoError(t, err)

	endpoint := AccountEndpoint{ShardID: "s1", NoteStoreURL: noteStoreSrv.URL, WebAPIURLPrefix: noteStoreSrv.URL + "/"}
	auth := NewAuthProvider(model.UserId(7), "accountsync-test", oauthCfg, endpoint, int64(10*60*1000), kc, nil, nil)

	require.NoError(t, kc.WritePassword(context.Background(), "accountsync-test", auth.keychainKey(), "seed-refresh-token"))

	_, err = auth.AuthenticateAccount(context.Background(), Refresh)
	require.NoError(t, err)

	factory := remote.NewFactory(noteStoreSrv.Client(), remote.RetryPolicy{MaxRetries: 0}, nil)

	accountDir := t.TempDir()
	syncStates := NewSyncStateStore(accountDir, nil)
	chunkStore := NewChunkStore(accountDir)
	chunkDownloader := NewChunkDownloader(50)
	chunkProvider := NewChunkProvider(chunkStore, chunkDownloader)

	storage := newMemStorage()

	downloader := NewDownloader(
		syncStates, chunkProvider, auth, factory, storage, alwaysUseTheirsResolver{},
		NewNoteDownloader(4), NewResourceDownloader(4), nil, NewTagsCleaner(storage, silentLogger()), silentLogger(),
	)

	sender := NewSender(storage, alwaysUseTheirsResolver{}, factory, auth, silentLogger())

	return NewAccountSynchronizer(downloader, sender, auth, cfg, silentLogger(), nil), storage
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Sync.DefaultRateLimitWait = "1ms"
	return cfg
}

func emptySyncChunkHandler(t *testing.T) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(t, w, model.SyncChunk{LowUSN: 0, HighUSN: 0, ChunkHighUSN: 0})
	}
}

// TestAccountSynchronizerDoneWhenNothingToSync covers the trivial loop: an
// empty remote and no locally dirty items reaches stateDone on the very
// first pass, with no stop condition surfaced.
func TestAccountSynchronizerDoneWhenNothingToSync(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /notestore/syncChunk", emptySyncChunkHandler(t))

	synchronizer, _ := newSynchronizerTestRig(t, mux, testConfig())

	result, err := synchronizer.Synchronize(context.Background(), nil, RunOptions{})
	require.NoError(t, err)
	assert.True(t, result.StopReason.None())
	assert.Equal(t, model.USN(0), result.SyncState.UserDataUpdateCount)
	assert.Empty(t, result.DownloadNotesStatus.NotesWhichFailedToDownload)
	assert.Empty(t, result.SendStatus.FailedToSendItems)
}

// TestAccountSynchronizerSleepsThenRetriesOnRateLimit drives a rate-limited
// first syncChunk call followed by a successful one, asserting the
// synchronizer retries the Downloading state (rather than failing outright
// or advancing to Sending prematurely) and the endpoint is hit more than
// once.
func TestAccountSynchronizerSleepsThenRetriesOnRateLimit(t *testing.T) {
	t.Parallel()

	var calls int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /notestore/syncChunk", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		emptySyncChunkHandler(t)(w, r)
	})

	synchronizer, _ := newSynchronizerTestRig(t, mux, testConfig())

	result, err := synchronizer.Synchronize(context.Background(), nil, RunOptions{})
	require.NoError(t, err)
	assert.True(t, result.StopReason.None())
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

// TestAccountSynchronizerRefreshesAuthThenRetries drives a syncChunk call
// that reports the credential as expired once, confirming the synchronizer
// refreshes the token (rather than bubbling the condition up as a fatal
// error) and completes on the retry.
func TestAccountSynchronizerRefreshesAuthThenRetries(t *testing.T) {
	t.Parallel()

	var calls int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /notestore/syncChunk", func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		emptySyncChunkHandler(t)(w, r)
	})

	synchronizer, _ := newSynchronizerTestRig(t, mux, testConfig())

	result, err := synchronizer.Synchronize(context.Background(), nil, RunOptions{})
	require.NoError(t, err)
	assert.True(t, result.StopReason.None())
	assert.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(2))
}

// TestAccountSynchronizerLoopsBackToDownloadingAfterSending seeds a dirty
// notebook so the Sending half actually uploads something whose assigned
// USN lands above what Downloading observed as the starting point,
// confirming the loop returns to another Downloading half-round (and that
// round, seeing the remote now at that USN, completes the run) rather than
// stopping immediately at Done after the first send.
func TestAccountSynchronizerLoopsBackToDownloadingAfterSending(t *testing.T) {
	t.Parallel()

	var chunkCalls int32

	mux := http.NewServeMux()
	mux.HandleFunc("GET /notestore/syncChunk", func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&chunkCalls, 1)
		if n == 1 {
			writeJSON(t, w, model.SyncChunk{LowUSN: 0, HighUSN: 0, ChunkHighUSN: 0})
			return
		}
		writeJSON(t, w, model.SyncChunk{LowUSN: 5, HighUSN: 5, ChunkHighUSN: 5})
	})
	mux.HandleFunc("POST /notestore/notebook", func(w http.ResponseWriter, r *http.Request) {
		var nb model.Notebook
		require.NoError(t, decodeJSON(r, &nb))
		nb.Guid = model.Guid("33333333-3333-3333-3333-333333333333")
		nb.USN = 5
		writeJSON(t, w, nb)
	})

	synchronizer, storage := newSynchronizerTestRig(t, mux, testConfig())

	dirty := model.Notebook{Name: "Personal"}
	dirty.IsDirty = true
	require.NoError(t, storage.PutNotebook(context.Background(), dirty))

	result, err := synchronizer.Synchronize(context.Background(), nil, RunOptions{})
	require.NoError(t, err)
	assert.True(t, result.StopReason.None())
	assert.Equal(t, 1, result.SendStatus.TotalSuccessfulUpdates)
	assert.Equal(t, model.USN(5), result.SyncState.UserDataUpdateCount)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&chunkCalls), int32(2))
}

// TestAccountSynchronizerHonorsCancellation confirms an already-canceled
// Canceler stops the loop before any half-round runs.
func TestAccountSynchronizerHonorsCancellation(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /notestore/syncChunk", func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("syncChunk should not be called once canceled")
	})

	synchronizer, _ := newSynchronizerTestRig(t, mux, testConfig())

	_, err := synchronizer.Synchronize(context.Background(), alwaysCanceled{}, RunOptions{})
	require.ErrorIs(t, err, ErrOperationCancelled)
}

type alwaysCanceled struct{}

func (alwaysCanceled) IsCanceled() bool { return true }

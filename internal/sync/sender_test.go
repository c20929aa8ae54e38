package sync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evernote-go/accountsync/internal/model"
	"github.com/evernote-go/accountsync/internal/remote"
	"github.com/evernote-go/accountsync/internal/secrets"
)

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// newSenderTestRig wires a Sender against an httptest note-store server and
// a seeded in-memory storage, reusing the same auth-provider setup as
// newDownloaderTestRig.
func newSenderTestRig(t *testing.T, mux *http.ServeMux, resolver ConflictResolver) (*Sender, *memStorage) {
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

	storage := newMemStorage()

	sender := NewSender(storage, resolver, factory, auth, silentLogger())

	return sender, storage
}

func TestSenderCreatesDirtyNotebookAndClearsDirtyFlag(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /notestore/notebook", func(w http.ResponseWriter, r *http.Request) {
		var nb model.Notebook
		require.NoError(t, decodeJSON(r, &nb))
		nb.Guid = model.Guid("33333333-3333-3333-3333-333333333333")
		nb.USN = 5
		writeJSON(t, w, nb)
	})

	sender, storage := newSenderTestRig(t, mux, alwaysUseTheirsResolver{})

	dirty := model.Notebook{Name: "Personal"}
	dirty.IsDirty = true
	require.NoError(t, storage.PutNotebook(context.Background(), dirty))

	status, err := sender.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, status.StopReason.None())
	assert.Equal(t, 1, status.TotalSuccessfulUpdates)
	assert.Empty(t, status.FailedToSendItems)
	assert.Equal(t, model.USN(5), status.HighestSentUSN)

	stored, err := storage.FindNotebookByGuid(context.Background(), model.Guid("33333333-3333-3333-3333-333333333333"))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.False(t, stored.IsDirty)
	assert.Equal(t, model.USN(5), stored.USN)
}

func TestSenderUpdatesExistingNotebookByGuid(t *testing.T) {
	t.Parallel()

	var sawMethod string

	mux := http.NewServeMux()
	mux.HandleFunc("/notestore/notebook/44444444-4444-4444-4444-444444444444", func(w http.ResponseWriter, r *http.Request) {
		sawMethod = r.Method
		var nb model.Notebook
		require.NoError(t, decodeJSON(r, &nb))
		nb.USN = 9
		writeJSON(t, w, nb)
	})

	sender, storage := newSenderTestRig(t, mux, alwaysUseTheirsResolver{})

	dirty := model.Notebook{Name: "Work"}
	dirty.Guid = model.Guid("44444444-4444-4444-4444-444444444444")
	dirty.USN = 3
	dirty.IsDirty = true
	require.NoError(t, storage.PutNotebook(context.Background(), dirty))

	status, err := sender.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, sawMethod)
	assert.Equal(t, 1, status.TotalSuccessfulUpdates)
	assert.Equal(t, model.USN(9), status.HighestSentUSN)
}

func TestSenderConflictResolvesUseTheirs(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/notestore/search/55555555-5555-5555-5555-555555555555", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPut:
			w.WriteHeader(http.StatusConflict)
		case http.MethodGet:
			theirs := model.SavedSearch{Name: "Theirs Query", Query: "tag:work"}
			theirs.Guid = model.Guid("55555555-5555-5555-5555-555555555555")
			theirs.USN = 20
			writeJSON(t, w, theirs)
		}
	})

	sender, storage := newSenderTestRig(t, mux, alwaysUseTheirsResolver{})

	mine := model.SavedSearch{Name: "Mine Query", Query: "tag:home"}
	mine.Guid = model.Guid("55555555-5555-5555-5555-555555555555")
	mine.USN = 10
	mine.IsDirty = true
	require.NoError(t, storage.PutSavedSearch(context.Background(), mine))

	status, err := sender.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, status.StopReason.None())
	assert.Empty(t, status.FailedToSendItems)
	assert.Equal(t, model.USN(20), status.HighestSentUSN)

	stored, err := storage.FindSavedSearchByGuid(context.Background(), model.Guid("55555555-5555-5555-5555-555555555555"))
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Theirs Query", stored.Name)
	assert.False(t, stored.IsDirty)
}

func TestSenderRateLimitedCreateSurfacesStopReason(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /notestore/search", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	sender, storage := newSenderTestRig(t, mux, alwaysUseTheirsResolver{})

	dirty := model.SavedSearch{Name: "New Search", Query: "tag:x"}
	dirty.IsDirty = true
	require.NoError(t, storage.PutSavedSearch(context.Background(), dirty))

	status, err := sender.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, StopRateLimitReached, status.StopReason.Kind)
	assert.Equal(t, 7, status.StopReason.SecondsToWait)
}

func TestSenderDefersNoteWhoseNotebookIsStillDirty(t *testing.T) {
	t.Parallel()

	// No /notestore/notebook handler is registered: the notebook already
	// carries a guid, so its update attempt 404s and it stays dirty, and the
	// note referencing it must be deferred rather than sent.
	mux := http.NewServeMux()
	mux.HandleFunc("/notestore/note", func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("note should have been deferred, not sent")
	})

	sender, storage := newSenderTestRig(t, mux, alwaysUseTheirsResolver{})

	nb := model.Notebook{Name: "Unsent Notebook"}
	nb.Guid = model.Guid("nb-unsent")
	nb.IsDirty = true
	require.NoError(t, storage.PutNotebook(context.Background(), nb))

	note := model.Note{Title: "Orphaned draft", NotebookGuid: model.Guid("nb-unsent")}
	note.IsDirty = true
	require.NoError(t, storage.PutNote(context.Background(), note))

	status, err := sender.Run(context.Background(), nil)
	require.NoError(t, err)

	var deferredFailure, notebookFailure bool
	for _, f := range status.FailedToSendItems {
		switch f.Guid {
		case note.Guid:
			deferredFailure = true
		case nb.Guid:
			notebookFailure = true
		}
	}
	assert.True(t, deferredFailure, "expected the deferred note to be recorded as failed-to-send")
	assert.True(t, notebookFailure, "expected the unreachable notebook update to be recorded as failed-to-send")
}

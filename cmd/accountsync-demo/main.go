// Thin demo wiring a scripted note-store server and an in-memory local
// store into one end-to-end AccountSynchronizer.Synchronize call.
//
// Usage:
//
//	go run ./cmd/accountsync-demo
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/evernote-go/accountsync/internal/config"
	"github.com/evernote-go/accountsync/internal/model"
	"github.com/evernote-go/accountsync/internal/remote"
	"github.com/evernote-go/accountsync/internal/secrets"
	syncpkg "github.com/evernote-go/accountsync/internal/sync"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "accountsync-demo: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Default()
	logger := newLogger(cfg.Logging)
	ctx := context.Background()

	oauthSrv := newScriptedOAuthServer()
	defer oauthSrv.Close()

	notebookGuid := model.Guid("11111111-1111-1111-1111-111111111111")
	noteGuid := model.Guid("22222222-2222-2222-2222-222222222222")
	noteStoreSrv := newScriptedNoteStoreServer(notebookGuid, noteGuid)
	defer noteStoreSrv.Close()

	keychainDir, err := os.MkdirTemp("", "accountsync-demo-keychain")
	if err != nil {
		return fmt.Errorf("create keychain dir: %w", err)
	}
	defer os.RemoveAll(keychainDir)

	keychain, err := secrets.NewFileKeychain(keychainDir)
	if err != nil {
		return fmt.Errorf("create keychain: %w", err)
	}

	oauthCfg := remote.OAuthConfig{ClientID: "accountsync-demo", TokenURL: oauthSrv.URL + "/token"}
	endpoint := syncpkg.AccountEndpoint{ShardID: "s1", NoteStoreURL: noteStoreSrv.URL, WebAPIURLPrefix: noteStoreSrv.URL + "/"}

	userID := model.UserId(1)
	keyName := secrets.KeyName("accountsync-demo", int32(userID), endpoint.ShardID)
	if err := keychain.WritePassword(ctx, "accountsync-demo", keyName, "seed-refresh-token"); err != nil {
		return fmt.Errorf("seed refresh token: %w", err)
	}

	auth := syncpkg.NewAuthProvider(userID, "accountsync-demo", oauthCfg, endpoint, 10*60*1000, keychain, nil, logger)

	retry := remote.RetryPolicy{BaseDelay: 0, MaxDelay: 0, MaxRetries: 0, JitterFraction: 0}
	factory := remote.NewFactory(noteStoreSrv.Client(), retry, logger)

	accountDir, err := os.MkdirTemp("", "accountsync-demo-account")
	if err != nil {
		return fmt.Errorf("create account dir: %w", err)
	}
	defer os.RemoveAll(accountDir)

	syncStates := syncpkg.NewSyncStateStore(accountDir, logger)
	chunkProvider := syncpkg.NewChunkProvider(syncpkg.NewChunkStore(accountDir), syncpkg.NewChunkDownloader(cfg.Sync.SyncChunkMaxEntries))

	storage := newMemStorage()
	resolver := alwaysUseTheirsResolver{}

	downloader := syncpkg.NewDownloader(
		syncStates, chunkProvider, auth, factory, storage, resolver,
		syncpkg.NewNoteDownloader(cfg.Sync.MaxInFlightDownloads), syncpkg.NewResourceDownloader(cfg.Sync.MaxInFlightDownloads),
		nil, syncpkg.NewTagsCleaner(storage, logger), logger,
	)
	sender := syncpkg.NewSender(storage, resolver, factory, auth, logger)
	metrics := syncpkg.NewMetrics(prometheus.NewRegistry())

	synchronizer := syncpkg.NewAccountSynchronizer(downloader, sender, auth, cfg, logger, metrics)

	result, err := synchronizer.Synchronize(ctx, syncpkg.NewManualCanceler(), syncpkg.RunOptions{})
	if err != nil {
		return fmt.Errorf("synchronize: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newScriptedOAuthServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"demo-access-token","token_type":"Bearer","refresh_token":"demo-refresh-token","expires_in":3600}`))
	})
	return httptest.NewServer(mux)
}

// newScriptedNoteStoreServer simulates a remote account with one notebook
// and one note, then reports the account as fully synced on any later
// poll: a first-sync scenario with no rate-limit or auth-expired stop
// conditions, enough to drive one Downloading, Sending, Done pass.
func newScriptedNoteStoreServer(notebookGuid, noteGuid model.Guid) *httptest.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /notestore/syncChunk", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("afterUSN") == "0" {
			nb := model.Notebook{Name: "Personal"}
			nb.Guid = notebookGuid
			nb.USN = 1

			note := model.Note{Title: "Welcome", NotebookGuid: notebookGuid}
			note.Guid = noteGuid
			note.USN = 2

			writeJSON(w, model.SyncChunk{
				LowUSN: 1, HighUSN: 2, ChunkHighUSN: 2,
				Notebooks: []model.Notebook{nb},
				Notes:     []model.Note{note},
			})
			return
		}

		writeJSON(w, model.SyncChunk{LowUSN: 2, HighUSN: 2, ChunkHighUSN: 2})
	})

	mux.HandleFunc("GET /notestore/note/", func(w http.ResponseWriter, _ *http.Request) {
		full := model.Note{Title: "Welcome", Content: "<en-note>Thanks for trying accountsync.</en-note>", NotebookGuid: notebookGuid}
		full.Guid = noteGuid
		full.USN = 2
		full.HasFullContent = true
		writeJSON(w, full)
	})

	return httptest.NewServer(mux)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

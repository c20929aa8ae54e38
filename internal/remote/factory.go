package remote

import (
	"log/slog"
	"net/http"

	"github.com/evernote-go/accountsync/internal/model"
)

// staticToken is a TokenSource that always returns the token captured from
// an AuthenticationInfo snapshot. The authentication-info provider hands
// out a fresh one each time a token may have been refreshed.
type staticToken struct {
	token string
}

func (s staticToken) Token() (string, error) {
	return s.token, nil
}

// Factory hands out per-destination NoteStore/UserStore clients given a
// URL, an AuthenticationInfo, and a retry policy (§4.5). Each call returns
// a fresh Client bound to that destination; nothing is cached here — the
// authentication-info provider owns token caching, this owns wiring.
type Factory struct {
	httpClient *http.Client
	retry      RetryPolicy
	logger     *slog.Logger
}

// NewFactory builds a note-store/user-store factory.
func NewFactory(httpClient *http.Client, retry RetryPolicy, logger *slog.Logger) *Factory {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Factory{httpClient: httpClient, retry: retry, logger: logger}
}

// NoteStoreFor returns a NoteStore bound to auth.NoteStoreURL, using
// auth.AuthToken as the bearer credential. Pass the account's own
// AuthenticationInfo for the user-own note store, or a linked notebook's
// AuthenticationInfo (obtained via AuthenticateToSharedNotebook) for a
// linked notebook's note store.
func (f *Factory) NoteStoreFor(auth model.AuthenticationInfo) *NoteStore {
	client := NewClient(auth.NoteStoreURL, f.httpClient, staticToken{token: auth.AuthToken}, f.retry, f.logger)
	return NewNoteStore(client)
}

// UserStoreFor returns a UserStore for the account's own endpoint. Linked
// notebooks have no user-store equivalent.
func (f *Factory) UserStoreFor(auth model.AuthenticationInfo, userStoreURL string) *UserStore {
	client := NewClient(userStoreURL, f.httpClient, staticToken{token: auth.AuthToken}, f.retry, f.logger)
	return NewUserStore(client)
}

package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/evernote-go/accountsync/internal/model"
	"github.com/evernote-go/accountsync/internal/remote"
	"github.com/evernote-go/accountsync/internal/secrets"
)

// ErrAuthNotFound is returned by AuthenticateAccount(UseCached, ...) when no
// cached AuthenticationInfo exists for the requested scope (§4.4).
var ErrAuthNotFound = errors.New("sync: no cached authentication")

// AuthOption selects how AuthenticateAccount resolves a token (§4.4).
type AuthOption int

const (
	// UseCached fails with ErrAuthNotFound if nothing is cached.
	UseCached AuthOption = iota
	// Refresh always re-authenticates, ignoring any cached value.
	Refresh
	// UseCachedOrRefresh returns the cached value if still valid (with the
	// configured safety margin), otherwise refreshes.
	UseCachedOrRefresh
)

// CacheClearOptions selects which caches ClearCaches empties.
type CacheClearOptions struct {
	User            bool
	LinkedNotebooks bool
}

// All reports whether both cache domains are selected.
func (o CacheClearOptions) All() bool {
	return o.User && o.LinkedNotebooks
}

// AccountEndpoint carries the account metadata needed to mint or refresh a
// token without an interactive step: shard, note-store URL, web API prefix.
type AccountEndpoint struct {
	ShardID         string
	NoteStoreURL    string
	WebAPIURLPrefix string
}

// AuthProvider is the single collaborator responsible for producing a
// valid, non-expired AuthenticationInfo on demand (§4.4). At most one
// refresh is in flight per cache key; concurrent callers share the result
// via singleflight.
type AuthProvider struct {
	userID             model.UserId
	appName            string
	oauthCfg           remote.OAuthConfig
	endpoint           AccountEndpoint
	safetyMarginMillis int64
	keychain           secrets.Keychain
	noteStore          *remote.NoteStore // account-scoped store, used to mint linked-notebook tokens
	logger             *slog.Logger

	mu     sync.Mutex
	user   *model.AuthenticationInfo
	linked map[model.Guid]model.AuthenticationInfo
	sf     singleflight.Group
}

// NewAuthProvider constructs a provider for one account. noteStore must be
// scoped to the account's own credentials; it is used only to exchange
// linked-notebook metadata for a short-lived token.
func NewAuthProvider(
	userID model.UserId, appName string, oauthCfg remote.OAuthConfig, endpoint AccountEndpoint,
	safetyMargin int64, keychain secrets.Keychain, noteStore *remote.NoteStore, logger *slog.Logger,
) *AuthProvider {
	if logger == nil {
		logger = slog.Default()
	}

	return &AuthProvider{
		userID:             userID,
		appName:            appName,
		oauthCfg:           oauthCfg,
		endpoint:           endpoint,
		safetyMarginMillis: safetyMargin,
		keychain:           keychain,
		noteStore:          noteStore,
		logger:             logger,
		linked:             make(map[model.Guid]model.AuthenticationInfo),
	}
}

func (p *AuthProvider) keychainKey() string {
	return secrets.KeyName(p.appName, int32(p.userID), p.endpoint.ShardID)
}

// AuthenticateNewAccount triggers interactive device-code OAuth and caches
// the result, persisting the refresh token to the keychain (never to an
// application file, per §6.5).
func (p *AuthProvider) AuthenticateNewAccount(ctx context.Context, prompt remote.DeviceCodePrompt) (model.AuthenticationInfo, error) {
	info, refreshToken, err := remote.AuthenticateNewAccount(
		ctx, p.oauthCfg, p.endpoint.ShardID, p.endpoint.NoteStoreURL, p.endpoint.WebAPIURLPrefix, prompt, p.logger,
	)
	if err != nil {
		return model.AuthenticationInfo{}, WithKind(KindRemoteTransport, err)
	}

	if err := p.keychain.WritePassword(ctx, p.appName, p.keychainKey(), refreshToken); err != nil {
		return model.AuthenticationInfo{}, WithKind(KindLocalStorage, fmt.Errorf("sync: persisting refresh token: %w", err))
	}

	p.mu.Lock()
	p.user = &info
	p.mu.Unlock()

	return info, nil
}

// AuthenticateAccount resolves the account-level token per option (§4.4).
func (p *AuthProvider) AuthenticateAccount(ctx context.Context, option AuthOption) (model.AuthenticationInfo, error) {
	p.mu.Lock()
	cached := p.user
	p.mu.Unlock()

	now := NowMillis()

	switch option {
	case UseCached:
		if cached == nil {
			return model.AuthenticationInfo{}, ErrAuthNotFound
		}
		return *cached, nil

	case UseCachedOrRefresh:
		if cached != nil && cached.IsValid(now, p.safetyMarginMillis) {
			return *cached, nil
		}
		return p.refreshAccount(ctx)

	case Refresh:
		return p.refreshAccount(ctx)

	default:
		return model.AuthenticationInfo{}, WithKind(KindInvalidArgument, fmt.Errorf("sync: unknown auth option %d", option))
	}
}

// refreshAccount performs the actual refresh exchange, deduplicated across
// concurrent callers via singleflight so at most one refresh is in flight
// per account (§4.4's invariant).
func (p *AuthProvider) refreshAccount(ctx context.Context) (model.AuthenticationInfo, error) {
	v, err, _ := p.sf.Do(fmt.Sprintf("account:%d", p.userID), func() (any, error) {
		refreshToken, err := p.keychain.ReadPassword(ctx, p.appName, p.keychainKey())
		if err != nil {
			return nil, WithKind(KindLocalStorage, fmt.Errorf("sync: reading refresh token: %w", err))
		}

		info, err := remote.RefreshToken(ctx, p.oauthCfg, refreshToken, p.endpoint.ShardID, p.endpoint.NoteStoreURL, p.endpoint.WebAPIURLPrefix)
		if err != nil {
			return nil, WithKind(KindRemoteTransport, err)
		}

		p.mu.Lock()
		p.user = &info
		p.mu.Unlock()

		return info, nil
	})
	if err != nil {
		return model.AuthenticationInfo{}, err
	}

	return v.(model.AuthenticationInfo), nil
}

// AuthenticateToLinkedNotebook resolves a short-lived linked-notebook token
// by exchanging the account token against the linked notebook's metadata
// (§4.4). Linked-notebook tokens are never persisted to the keychain: they
// are cheap to re-mint and intentionally short-lived.
func (p *AuthProvider) AuthenticateToLinkedNotebook(ctx context.Context, ln model.LinkedNotebook, option AuthOption) (model.AuthenticationInfo, error) {
	p.mu.Lock()
	cached, ok := p.linked[ln.Guid]
	p.mu.Unlock()

	now := NowMillis()

	switch option {
	case UseCached:
		if !ok {
			return model.AuthenticationInfo{}, ErrAuthNotFound
		}
		return cached, nil

	case UseCachedOrRefresh:
		if ok && cached.IsValid(now, p.safetyMarginMillis) {
			return cached, nil
		}
		return p.mintLinkedNotebookToken(ctx, ln)

	case Refresh:
		return p.mintLinkedNotebookToken(ctx, ln)

	default:
		return model.AuthenticationInfo{}, WithKind(KindInvalidArgument, fmt.Errorf("sync: unknown auth option %d", option))
	}
}

func (p *AuthProvider) mintLinkedNotebookToken(ctx context.Context, ln model.LinkedNotebook) (model.AuthenticationInfo, error) {
	key := "linked:" + string(ln.Guid)

	v, err, _ := p.sf.Do(key, func() (any, error) {
		info, err := p.noteStore.AuthenticateToSharedNotebook(ctx, ln.Guid)
		if err != nil {
			return nil, WithKind(KindRemoteTransport, err)
		}

		info.LinkedNotebookGuid = ln.Guid

		p.mu.Lock()
		p.linked[ln.Guid] = *info
		p.mu.Unlock()

		return *info, nil
	})
	if err != nil {
		return model.AuthenticationInfo{}, err
	}

	return v.(model.AuthenticationInfo), nil
}

// ClearCaches empties the selected in-memory caches, forcing the next
// AuthenticateAccount/AuthenticateToLinkedNotebook call to re-authenticate.
func (p *AuthProvider) ClearCaches(options CacheClearOptions) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if options.User {
		p.user = nil
	}
	if options.LinkedNotebooks {
		p.linked = make(map[model.Guid]model.AuthenticationInfo)
	}
}

// RevokeAuthentication removes the account from the in-memory caches and
// deletes its persisted refresh token from the keychain.
func (p *AuthProvider) RevokeAuthentication(ctx context.Context) error {
	p.ClearCaches(CacheClearOptions{User: true, LinkedNotebooks: true})

	if err := p.keychain.DeletePassword(ctx, p.appName, p.keychainKey()); err != nil {
		return WithKind(KindLocalStorage, fmt.Errorf("sync: deleting refresh token: %w", err))
	}

	return nil
}

package remote

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2"

	"github.com/evernote-go/accountsync/internal/model"
)

// OAuthConfig names the endpoint used for the account-level authorization
// handshake that mints the first AuthenticationInfo for a new account
// (§4.4's authenticateNewAccount). Linked-notebook tokens are never minted
// this way — they come from AuthenticateToSharedNotebook (notestore.go).
type OAuthConfig struct {
	ClientID      string
	ClientSecret  string
	DeviceAuthURL string
	TokenURL      string
	Scopes        []string
}

func (c OAuthConfig) oauth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		Scopes:       c.Scopes,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: c.DeviceAuthURL,
			TokenURL:      c.TokenURL,
		},
	}
}

// DeviceCodePrompt is called once the device/user codes are available, so
// the caller (CLI, GUI, test harness) can surface the verification URL to
// the account owner. It is invoked synchronously before polling begins.
type DeviceCodePrompt func(userCode, verificationURI string)

// AuthenticateNewAccount drives the device-code OAuth2 exchange to
// completion and mints the account's first AuthenticationInfo. Polling
// honors ctx cancellation throughout (§5's suspension-point contract). The
// returned refresh token is never embedded in AuthenticationInfo (§6.5:
// secrets live in the keychain, never in application-visible structs) —
// the caller is responsible for handing it to the secrets collaborator.
func AuthenticateNewAccount(
	ctx context.Context, cfg OAuthConfig, shardID, noteStoreURL, webAPIURLPrefix string,
	prompt DeviceCodePrompt, logger *slog.Logger,
) (info model.AuthenticationInfo, refreshToken string, err error) {
	if logger == nil {
		logger = slog.Default()
	}

	conf := cfg.oauth2Config()

	da, err := conf.DeviceAuth(ctx)
	if err != nil {
		return model.AuthenticationInfo{}, "", fmt.Errorf("remote: device authorization request: %w", err)
	}

	if prompt != nil {
		prompt(da.UserCode, da.VerificationURI)
	}

	logger.Info("remote: waiting for device authorization",
		slog.String("verification_uri", da.VerificationURI),
	)

	tok, err := conf.DeviceAccessToken(ctx, da)
	if err != nil {
		return model.AuthenticationInfo{}, "", fmt.Errorf("remote: device access token exchange: %w", err)
	}

	return tokenToAuthenticationInfo(tok, shardID, noteStoreURL, webAPIURLPrefix), tok.RefreshToken, nil
}

// RefreshToken exchanges a refresh token for a new access token, without
// any interactive step. Used by the authentication-info provider's
// Refresh/UseCachedOrRefresh paths (§4.4).
func RefreshToken(
	ctx context.Context, cfg OAuthConfig, refreshToken, shardID, noteStoreURL, webAPIURLPrefix string,
) (model.AuthenticationInfo, error) {
	conf := cfg.oauth2Config()

	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})

	tok, err := src.Token()
	if err != nil {
		return model.AuthenticationInfo{}, fmt.Errorf("remote: refresh token exchange: %w", err)
	}

	return tokenToAuthenticationInfo(tok, shardID, noteStoreURL, webAPIURLPrefix), nil
}

func tokenToAuthenticationInfo(tok *oauth2.Token, shardID, noteStoreURL, webAPIURLPrefix string) model.AuthenticationInfo {
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = time.Now().Add(time.Hour)
	}

	return model.AuthenticationInfo{
		AuthToken:               tok.AccessToken,
		AuthTokenExpirationTime: model.Timestamp(expiry.UnixMilli()),
		AuthenticationTime:      model.Timestamp(time.Now().UnixMilli()),
		ShardID:                 shardID,
		NoteStoreURL:            noteStoreURL,
		WebAPIURLPrefix:         webAPIURLPrefix,
	}
}

// Package secrets defines the keychain collaborator the Account
// Synchronizer consumes (§6.5) and a file-backed reference implementation
// for environments with no OS keychain. Tokens and cookies never live in
// application state files — only the keychain.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNotFound is returned by ReadPassword when no secret is stored for the
// given service/key pair.
var ErrNotFound = errors.New("secrets: not found")

// Keychain is the consumed contract named in §6.5. All operations are
// asynchronous collaborators in the original design (futures); here they
// are plain blocking calls taking a context, since Go's idiom is to
// cancel via context rather than return a future value.
type Keychain interface {
	WritePassword(ctx context.Context, service, key, password string) error
	ReadPassword(ctx context.Context, service, key string) (string, error)
	DeletePassword(ctx context.Context, service, key string) error
}

// KeyName builds the key naming scheme required by §6.5:
// "<app>-evernote-<userId>-<shardId>".
func KeyName(app string, userID int32, shardID string) string {
	return fmt.Sprintf("%s-evernote-%d-%s", app, userID, shardID)
}

// FileKeychain is a reference Keychain implementation backing secrets with
// 0600-permissioned files under a base directory, one file per (service,
// key) pair. Writes are atomic (temp file in the same directory, then
// rename), matching the token-persistence pattern used elsewhere in this
// module.
type FileKeychain struct {
	baseDir string
}

// NewFileKeychain creates a keychain rooted at baseDir, creating it if
// necessary.
func NewFileKeychain(baseDir string) (*FileKeychain, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("secrets: creating keychain dir %s: %w", baseDir, err)
	}

	return &FileKeychain{baseDir: baseDir}, nil
}

func (k *FileKeychain) path(service, key string) string {
	return filepath.Join(k.baseDir, service+"_"+key+".secret")
}

// WritePassword atomically writes password to the file backing (service, key).
func (k *FileKeychain) WritePassword(_ context.Context, service, key, password string) error {
	path := k.path(service, key)

	tmp, err := os.CreateTemp(k.baseDir, ".secret-*.tmp")
	if err != nil {
		return fmt.Errorf("secrets: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, 0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("secrets: setting permissions: %w", err)
	}

	if _, err := tmp.WriteString(password); err != nil {
		tmp.Close()
		return fmt.Errorf("secrets: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("secrets: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("secrets: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("secrets: renaming: %w", err)
	}

	success = true

	return nil
}

// ReadPassword returns the secret for (service, key), or ErrNotFound.
func (k *FileKeychain) ReadPassword(_ context.Context, service, key string) (string, error) {
	data, err := os.ReadFile(k.path(service, key))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNotFound
	}

	if err != nil {
		return "", fmt.Errorf("secrets: reading: %w", err)
	}

	return string(data), nil
}

// DeletePassword removes the secret for (service, key). Deleting a missing
// secret is not an error.
func (k *FileKeychain) DeletePassword(_ context.Context, service, key string) error {
	err := os.Remove(k.path(service, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("secrets: deleting: %w", err)
	}

	return nil
}

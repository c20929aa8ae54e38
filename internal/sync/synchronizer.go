package sync

import (
	"context"
	"log/slog"
	"time"

	"github.com/evernote-go/accountsync/internal/config"
	"github.com/evernote-go/accountsync/internal/model"
)

// synchronizerState is the pseudo-state machine's three states (§4.10).
type synchronizerState int

const (
	stateDownloading synchronizerState = iota
	stateSending
	stateDone
)

// AccountSynchronizer drives the Downloading/Sending loop (§4.10): run the
// Downloader, then the Sender, looping back to another download half-round
// whenever the send phase pushed the account's USN past where the download
// phase left it (another client may have changed things in the meantime),
// and honoring rate-limit/auth-expired stop conditions from either half by
// sleeping or refreshing before retrying the same state.
type AccountSynchronizer struct {
	downloader *Downloader
	sender     *Sender
	auth       *AuthProvider
	cfg        config.Config
	logger     *slog.Logger
	metrics    *Metrics
}

// NewAccountSynchronizer wires an AccountSynchronizer from its collaborators.
// metrics may be nil; a nil *Metrics is a no-op (see metrics.go).
func NewAccountSynchronizer(downloader *Downloader, sender *Sender, auth *AuthProvider, cfg config.Config, logger *slog.Logger, metrics *Metrics) *AccountSynchronizer {
	if logger == nil {
		logger = slog.Default()
	}

	return &AccountSynchronizer{downloader: downloader, sender: sender, auth: auth, cfg: cfg, logger: logger, metrics: metrics}
}

// Synchronize runs the loop to completion: either Done, a cancellation, or
// a non-stop-condition error from one of the two halves.
func (a *AccountSynchronizer) Synchronize(ctx context.Context, canceler Canceler, opts RunOptions) (SyncResult, error) {
	var result SyncResult

	state := stateDownloading
	var startUSN model.USN

	for {
		if canceler != nil && canceler.IsCanceled() {
			return result, ErrOperationCancelled
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		switch state {
		case stateDownloading:
			dr, err := a.downloader.Run(ctx, canceler, opts)
			if err != nil {
				return result, err
			}

			result.Counters = dr.Counters
			result.DownloadNotesStatus = dr.NotesStatus
			result.DownloadResourcesStatus = dr.ResourcesStatus
			result.SyncState = dr.SyncState
			result.Stats.DownloadedBytes += dr.NotesStatus.DownloadedBytes + dr.ResourcesStatus.DownloadedBytes
			a.metrics.observeDownload(dr)

			next, err := a.handleStop(ctx, canceler, dr.StopReason)
			if err != nil {
				result.StopReason = dr.StopReason
				return result, err
			}
			if !next {
				continue
			}

			startUSN = dr.SyncState.UserDataUpdateCount
			state = stateSending

		case stateSending:
			sr, err := a.sender.Run(ctx, canceler)
			if err != nil {
				return result, err
			}

			result.SendStatus = sr
			result.Stats.UploadedBytes += sr.UploadedBytes
			a.metrics.observeSend(sr)

			next, err := a.handleStop(ctx, canceler, sr.StopReason)
			if err != nil {
				result.StopReason = sr.StopReason
				return result, err
			}
			if !next {
				continue
			}

			if sr.HighestSentUSN > startUSN {
				state = stateDownloading
			} else {
				state = stateDone
			}

		case stateDone:
			return result, nil
		}
	}
}

// handleStop reacts to a half-round's stop condition: sleeping out a
// rate-limit wait or refreshing an expired token, then signaling the caller
// to retry the same state (`next == false`). `next == true, err == nil`
// means there was no stop condition and the caller should advance.
func (a *AccountSynchronizer) handleStop(ctx context.Context, canceler Canceler, stop StopSynchronizationError) (advance bool, err error) {
	switch stop.Kind {
	case StopNone:
		return true, nil

	case StopRateLimitReached:
		wait := time.Duration(stop.SecondsToWait) * time.Second
		if wait <= 0 {
			wait = a.defaultRateLimitWait()
		}

		a.logger.Warn("sync: rate limited, sleeping before retry", slog.Duration("wait", wait))

		if err := sleepCancelable(ctx, canceler, wait); err != nil {
			return false, err
		}

		return false, nil

	case StopAuthenticationExpired:
		a.logger.Warn("sync: authentication expired, refreshing")

		if _, err := a.auth.AuthenticateAccount(ctx, Refresh); err != nil {
			return false, err
		}

		return false, nil

	default:
		return true, nil
	}
}

// defaultRateLimitWait falls back to Config.Sync.DefaultRateLimitWait when
// the server did not specify a wait (SUPPLEMENTED FEATURES: the original's
// RateLimitReached{s=None} case).
func (a *AccountSynchronizer) defaultRateLimitWait() time.Duration {
	d, err := time.ParseDuration(a.cfg.Sync.DefaultRateLimitWait)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}

	return d
}

// sleepCancelable waits for d, returning early with ErrOperationCancelled or
// ctx.Err() if either fires first. Grounded on internal/graph/client.go's
// timeSleep, extended to also poll the Canceler (which is not a channel).
func sleepCancelable(ctx context.Context, canceler Canceler, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	if canceler == nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		}
	}

	const pollInterval = 200 * time.Millisecond
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-ticker.C:
			if canceler.IsCanceled() {
				return ErrOperationCancelled
			}
		}
	}
}

package sync

// RunOptions are per-run overrides distinct from the process-wide Config
// (SUPPLEMENTED FEATURES: original_source ISyncOptions.h).
type RunOptions struct {
	// ForceFullSync discards any resumable SyncState and requests chunks
	// from the beginning, as if this were the first sync.
	ForceFullSync bool
	// DownloadNotesWithoutResources skips resource body fetches, useful
	// for low-bandwidth or metadata-only callers.
	DownloadNotesWithoutResources bool
}

package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/evernote-go/accountsync/internal/model"
)

const chunkStoreDirPerms = 0o700
const chunkStoreFilePerms = 0o600
const chunksSubdir = "sync_chunks"
const linkedNotebookSubdir = "linked_notebook"

// usnRange is a chunk's [low, high] USN bound, also its file name stem.
type usnRange struct {
	low  model.USN
	high model.USN
}

func (r usnRange) fileName() string {
	return fmt.Sprintf("%d-%d.bin", r.low, r.high)
}

func parseUSNRange(fileName string) (usnRange, bool) {
	name := strings.TrimSuffix(fileName, ".bin")
	parts := strings.SplitN(name, "-", 2)
	if len(parts) != 2 {
		return usnRange{}, false
	}

	low, err1 := strconv.ParseInt(parts[0], 10, 32)
	high, err2 := strconv.ParseInt(parts[1], 10, 32)
	if err1 != nil || err2 != nil {
		return usnRange{}, false
	}

	return usnRange{low: model.USN(low), high: model.USN(high)}, true
}

// ChunkStore keeps downloaded sync chunks under a per-account directory,
// each as a self-describing JSON record named by its USN range (§4.3,
// §6.3): "<accountDir>/sync_chunks/<low>-<high>.bin" for the user's own
// data, "<accountDir>/sync_chunks/linked_notebook/<guid>/<low>-<high>.bin"
// for a linked notebook's data.
type ChunkStore struct {
	accountDir string
}

// NewChunkStore returns a store rooted at accountDir.
func NewChunkStore(accountDir string) *ChunkStore {
	return &ChunkStore{accountDir: accountDir}
}

func (c *ChunkStore) dirFor(linkedNotebookGuid model.Guid) string {
	if linkedNotebookGuid.IsZero() {
		return filepath.Join(c.accountDir, chunksSubdir)
	}
	return filepath.Join(c.accountDir, chunksSubdir, linkedNotebookSubdir, string(linkedNotebookGuid))
}

// FetchRanges returns the stored USN ranges for one account (zero guid) or
// one linked notebook, sorted by low USN ascending.
func (c *ChunkStore) FetchRanges(ctx context.Context, linkedNotebookGuid model.Guid) ([][2]model.USN, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ranges, err := c.listRanges(linkedNotebookGuid)
	if err != nil {
		return nil, err
	}

	out := make([][2]model.USN, 0, len(ranges))
	for _, r := range ranges {
		out = append(out, [2]model.USN{r.low, r.high})
	}

	return out, nil
}

func (c *ChunkStore) listRanges(linkedNotebookGuid model.Guid) ([]usnRange, error) {
	dir := c.dirFor(linkedNotebookGuid)

	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, WithKind(KindLocalStorage, fmt.Errorf("sync: listing chunk store %s: %w", dir, err))
	}

	ranges := make([]usnRange, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if r, ok := parseUSNRange(e.Name()); ok {
			ranges = append(ranges, r)
		}
	}

	sort.Slice(ranges, func(i, j int) bool { return ranges[i].low < ranges[j].low })

	return ranges, nil
}

// FetchRelevant returns all stored chunks for the account (linkedNotebookGuid
// zero) or one linked notebook with highUSN > afterUSN, in USN order.
func (c *ChunkStore) FetchRelevant(ctx context.Context, linkedNotebookGuid model.Guid, afterUSN model.USN) ([]model.SyncChunk, error) {
	ranges, err := c.listRanges(linkedNotebookGuid)
	if err != nil {
		return nil, err
	}

	dir := c.dirFor(linkedNotebookGuid)
	chunks := make([]model.SyncChunk, 0, len(ranges))

	for _, r := range ranges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if r.high <= afterUSN {
			continue
		}

		chunk, err := c.readChunk(filepath.Join(dir, r.fileName()))
		if err != nil {
			return nil, err
		}

		chunks = append(chunks, chunk)
	}

	return chunks, nil
}

func (c *ChunkStore) readChunk(path string) (model.SyncChunk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.SyncChunk{}, WithKind(KindLocalStorage, fmt.Errorf("sync: reading chunk %s: %w", path, err))
	}

	var chunk model.SyncChunk
	if err := json.Unmarshal(data, &chunk); err != nil {
		return model.SyncChunk{}, WithKind(KindLocalStorage, fmt.Errorf("sync: decoding chunk %s: %w", path, err))
	}

	return chunk, nil
}

// Put writes chunks for the account (linkedNotebookGuid zero) or one linked
// notebook. Each write is write-to-temp-then-rename so a process death
// mid-write never leaves a corrupt chunk file. A chunk whose range overlaps
// an existing file on disk replaces it.
func (c *ChunkStore) Put(ctx context.Context, linkedNotebookGuid model.Guid, chunks []model.SyncChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	dir := c.dirFor(linkedNotebookGuid)
	if err := os.MkdirAll(dir, chunkStoreDirPerms); err != nil {
		return WithKind(KindLocalStorage, fmt.Errorf("sync: creating chunk store dir %s: %w", dir, err))
	}

	for _, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}

		r := usnRange{low: chunk.LowUSN, high: chunk.HighUSN}
		if err := c.writeOne(dir, r, chunk); err != nil {
			return err
		}
	}

	return c.removeOverlapped(dir, chunks)
}

func (c *ChunkStore) writeOne(dir string, r usnRange, chunk model.SyncChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return WithKind(KindLocalStorage, fmt.Errorf("sync: encoding chunk: %w", err))
	}

	tmp, err := os.CreateTemp(dir, ".chunk-*.tmp")
	if err != nil {
		return WithKind(KindLocalStorage, fmt.Errorf("sync: creating temp chunk file: %w", err))
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, chunkStoreFilePerms); err != nil {
		tmp.Close()
		return WithKind(KindLocalStorage, fmt.Errorf("sync: chmod temp chunk file: %w", err))
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return WithKind(KindLocalStorage, fmt.Errorf("sync: writing temp chunk file: %w", err))
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return WithKind(KindLocalStorage, fmt.Errorf("sync: syncing temp chunk file: %w", err))
	}
	if err := tmp.Close(); err != nil {
		return WithKind(KindLocalStorage, fmt.Errorf("sync: closing temp chunk file: %w", err))
	}

	finalPath := filepath.Join(dir, r.fileName())
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return WithKind(KindLocalStorage, fmt.Errorf("sync: renaming chunk into place: %w", err))
	}

	success = true

	return nil
}

// removeOverlapped deletes any previously-stored chunk file whose range
// overlaps one of the newly-written chunks' ranges, so overlapping writes
// leave the cache consistent rather than accumulating stale files.
func (c *ChunkStore) removeOverlapped(dir string, written []model.SyncChunk) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	newRanges := make(map[usnRange]bool, len(written))
	for _, ch := range written {
		newRanges[usnRange{low: ch.LowUSN, high: ch.HighUSN}] = true
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		r, ok := parseUSNRange(e.Name())
		if !ok || newRanges[r] {
			continue
		}
		for nr := range newRanges {
			if nr.low <= r.high && r.low <= nr.high && nr != r {
				_ = os.Remove(filepath.Join(dir, e.Name()))
				break
			}
		}
	}

	return nil
}

// Clear deletes stored chunks: pass a non-zero linkedNotebookGuid to clear
// one linked notebook, a zero guid with all=false to clear only the
// account's own chunks, or all=true to clear the entire per-account store.
func (c *ChunkStore) Clear(ctx context.Context, linkedNotebookGuid model.Guid, all bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var target string
	if all {
		target = filepath.Join(c.accountDir, chunksSubdir)
	} else {
		target = c.dirFor(linkedNotebookGuid)
	}

	if !all && linkedNotebookGuid.IsZero() {
		// The account's own chunk files share a directory with the
		// linked_notebook subtree; remove only the files.
		entries, err := os.ReadDir(target)
		if err != nil && !os.IsNotExist(err) {
			return WithKind(KindLocalStorage, fmt.Errorf("sync: clearing chunk store %s: %w", target, err))
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if err := os.Remove(filepath.Join(target, e.Name())); err != nil {
				return WithKind(KindLocalStorage, fmt.Errorf("sync: clearing chunk store %s: %w", target, err))
			}
		}
		return nil
	}

	if err := os.RemoveAll(target); err != nil {
		return WithKind(KindLocalStorage, fmt.Errorf("sync: clearing chunk store %s: %w", target, err))
	}

	return nil
}

// Flush is a sync barrier (§4.3). Because Put fsyncs each file before
// rename, there is no buffered state left to flush; Flush exists so callers
// have a stable point to call after a batch of Put calls.
func (c *ChunkStore) Flush(ctx context.Context) error {
	return ctx.Err()
}

package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/evernote-go/accountsync/internal/model"
)

// NoteResultSpec selects which parts of a note getNoteWithResultSpec
// returns: content, resources, recognition data, and (for the first note of
// a run only, per §4.6) account-limit metadata.
type NoteResultSpec struct {
	WithContent       bool
	WithResourcesData bool
	WithRecognition   bool
	IncludeNoteLimits bool
}

// ResourceOptions selects which parts of a resource getResource returns.
type ResourceOptions struct {
	WithData          bool
	WithRecognition   bool
	WithAlternateData bool
}

// NoteStore is the per-destination (account-own or one linked notebook)
// wire-protocol surface the Account Synchronizer consumes (§6.2).
type NoteStore struct {
	client *Client
}

// NewNoteStore wraps a Client bound to one note-store endpoint.
func NewNoteStore(c *Client) *NoteStore {
	return &NoteStore{client: c}
}

// GetSyncChunk fetches one chunk starting after afterUSN, capped at
// maxEntries records. In full-sync mode the caller passes afterUSN=0 and
// fullSync=true so the server omits any afterUSN-based filtering it would
// otherwise apply on a borderline-zero value.
func (n *NoteStore) GetSyncChunk(ctx context.Context, afterUSN model.USN, maxEntries int, fullSync bool) (*model.SyncChunk, error) {
	path := fmt.Sprintf("/notestore/syncChunk?afterUSN=%d&maxEntries=%d&fullSync=%t", afterUSN, maxEntries, fullSync)

	resp, err := n.client.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: getSyncChunk: %w", err)
	}
	defer resp.Body.Close()

	var chunk model.SyncChunk
	if err := json.NewDecoder(resp.Body).Decode(&chunk); err != nil {
		return nil, fmt.Errorf("remote: getSyncChunk: decode response: %w", err)
	}

	return &chunk, nil
}

// GetNoteWithResultSpec fetches a single note's full content per spec.
func (n *NoteStore) GetNoteWithResultSpec(ctx context.Context, guid model.Guid, spec NoteResultSpec) (*model.Note, error) {
	path := fmt.Sprintf(
		"/notestore/note/%s?content=%t&resources=%t&recognition=%t&limits=%t",
		guid, spec.WithContent, spec.WithResourcesData, spec.WithRecognition, spec.IncludeNoteLimits,
	)

	resp, err := n.client.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: getNoteWithResultSpec(%s): %w", guid, err)
	}
	defer resp.Body.Close()

	var note model.Note
	if err := json.NewDecoder(resp.Body).Decode(&note); err != nil {
		return nil, fmt.Errorf("remote: getNoteWithResultSpec(%s): decode response: %w", guid, err)
	}

	return &note, nil
}

// GetResource fetches a single resource's body per options.
func (n *NoteStore) GetResource(ctx context.Context, guid model.Guid, opts ResourceOptions) (*model.Resource, error) {
	path := fmt.Sprintf(
		"/notestore/resource/%s?data=%t&recognition=%t&alternateData=%t",
		guid, opts.WithData, opts.WithRecognition, opts.WithAlternateData,
	)

	resp, err := n.client.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: getResource(%s): %w", guid, err)
	}
	defer resp.Body.Close()

	var res model.Resource
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("remote: getResource(%s): decode response: %w", guid, err)
	}

	return &res, nil
}

// GetNoteThumbnail fetches a note's rendered thumbnail image. Unlike
// GetNoteWithResultSpec and GetResource, the response body is the raw
// image bytes, not a JSON envelope.
func (n *NoteStore) GetNoteThumbnail(ctx context.Context, guid model.Guid) ([]byte, error) {
	path := fmt.Sprintf("/notestore/thumbnail/%s", guid)

	resp, err := n.client.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("remote: getNoteThumbnail(%s): %w", guid, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remote: getNoteThumbnail(%s): read response: %w", guid, err)
	}

	return data, nil
}

// GetNotebook fetches a notebook's current remote state by guid, used by
// the sender (§4.9) to obtain "theirs" when an update is rejected as a
// conflict.
func (n *NoteStore) GetNotebook(ctx context.Context, guid model.Guid) (*model.Notebook, error) {
	resp, err := n.client.Do(ctx, http.MethodGet, "/notestore/notebook/"+string(guid), nil)
	if err != nil {
		return nil, fmt.Errorf("remote: getNotebook(%s): %w", guid, err)
	}
	defer resp.Body.Close()

	var nb model.Notebook
	if err := json.NewDecoder(resp.Body).Decode(&nb); err != nil {
		return nil, fmt.Errorf("remote: getNotebook(%s): decode response: %w", guid, err)
	}

	return &nb, nil
}

// GetTag fetches a tag's current remote state by guid.
func (n *NoteStore) GetTag(ctx context.Context, guid model.Guid) (*model.Tag, error) {
	resp, err := n.client.Do(ctx, http.MethodGet, "/notestore/tag/"+string(guid), nil)
	if err != nil {
		return nil, fmt.Errorf("remote: getTag(%s): %w", guid, err)
	}
	defer resp.Body.Close()

	var tag model.Tag
	if err := json.NewDecoder(resp.Body).Decode(&tag); err != nil {
		return nil, fmt.Errorf("remote: getTag(%s): decode response: %w", guid, err)
	}

	return &tag, nil
}

// GetSavedSearch fetches a saved search's current remote state by guid.
func (n *NoteStore) GetSavedSearch(ctx context.Context, guid model.Guid) (*model.SavedSearch, error) {
	resp, err := n.client.Do(ctx, http.MethodGet, "/notestore/search/"+string(guid), nil)
	if err != nil {
		return nil, fmt.Errorf("remote: getSavedSearch(%s): %w", guid, err)
	}
	defer resp.Body.Close()

	var s model.SavedSearch
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, fmt.Errorf("remote: getSavedSearch(%s): decode response: %w", guid, err)
	}

	return &s, nil
}

// GetNote fetches a note's current remote state by guid (stub fields
// only, no content), used by the sender to obtain "theirs" on conflict.
func (n *NoteStore) GetNote(ctx context.Context, guid model.Guid) (*model.Note, error) {
	return n.GetNoteWithResultSpec(ctx, guid, NoteResultSpec{})
}

// putJSON posts body as JSON to path and decodes the response into out.
// create vs. update is a caller-level decision (§4.9): callers choose the
// HTTP method based on whether the item already carries a remote Guid.
func (n *NoteStore) putJSON(ctx context.Context, method, path string, body any, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("remote: encode request: %w", err)
	}

	resp, err := n.client.Do(ctx, method, path, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // draining on success only, no actionable error
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decode response: %w", err)
	}

	return nil
}

// CreateNotebook / UpdateNotebook create or update per §4.9: a notebook
// without a remote Guid is created, one with a Guid is updated.
func (n *NoteStore) CreateNotebook(ctx context.Context, nb model.Notebook) (*model.Notebook, error) {
	var out model.Notebook
	if err := n.putJSON(ctx, http.MethodPost, "/notestore/notebook", nb, &out); err != nil {
		return nil, fmt.Errorf("remote: createNotebook: %w", err)
	}

	return &out, nil
}

func (n *NoteStore) UpdateNotebook(ctx context.Context, nb model.Notebook) (*model.Notebook, error) {
	var out model.Notebook
	if err := n.putJSON(ctx, http.MethodPut, "/notestore/notebook/"+string(nb.Guid), nb, &out); err != nil {
		return nil, fmt.Errorf("remote: updateNotebook(%s): %w", nb.Guid, err)
	}

	return &out, nil
}

func (n *NoteStore) CreateTag(ctx context.Context, tag model.Tag) (*model.Tag, error) {
	var out model.Tag
	if err := n.putJSON(ctx, http.MethodPost, "/notestore/tag", tag, &out); err != nil {
		return nil, fmt.Errorf("remote: createTag: %w", err)
	}

	return &out, nil
}

func (n *NoteStore) UpdateTag(ctx context.Context, tag model.Tag) (*model.Tag, error) {
	var out model.Tag
	if err := n.putJSON(ctx, http.MethodPut, "/notestore/tag/"+string(tag.Guid), tag, &out); err != nil {
		return nil, fmt.Errorf("remote: updateTag(%s): %w", tag.Guid, err)
	}

	return &out, nil
}

func (n *NoteStore) CreateSavedSearch(ctx context.Context, s model.SavedSearch) (*model.SavedSearch, error) {
	var out model.SavedSearch
	if err := n.putJSON(ctx, http.MethodPost, "/notestore/search", s, &out); err != nil {
		return nil, fmt.Errorf("remote: createSearch: %w", err)
	}

	return &out, nil
}

func (n *NoteStore) UpdateSavedSearch(ctx context.Context, s model.SavedSearch) (*model.SavedSearch, error) {
	var out model.SavedSearch
	if err := n.putJSON(ctx, http.MethodPut, "/notestore/search/"+string(s.Guid), s, &out); err != nil {
		return nil, fmt.Errorf("remote: updateSearch(%s): %w", s.Guid, err)
	}

	return &out, nil
}

func (n *NoteStore) CreateNote(ctx context.Context, note model.Note) (*model.Note, error) {
	var out model.Note
	if err := n.putJSON(ctx, http.MethodPost, "/notestore/note", note, &out); err != nil {
		return nil, fmt.Errorf("remote: createNote: %w", err)
	}

	return &out, nil
}

func (n *NoteStore) UpdateNote(ctx context.Context, note model.Note) (*model.Note, error) {
	var out model.Note
	if err := n.putJSON(ctx, http.MethodPut, "/notestore/note/"+string(note.Guid), note, &out); err != nil {
		return nil, fmt.Errorf("remote: updateNote(%s): %w", note.Guid, err)
	}

	return &out, nil
}

// ExpungeNote removes a note by guid, if the account level permits it
// (§4.9 step 5). Not every account tier allows client-initiated expunge;
// a refusal is returned as the classified *Error for its status code, like
// any other non-2xx response.
func (n *NoteStore) ExpungeNote(ctx context.Context, guid model.Guid) error {
	return n.putJSON(ctx, http.MethodDelete, "/notestore/note/"+string(guid), nil, nil)
}

// AuthenticateToSharedNotebook exchanges the account token against linked
// notebook metadata for a short-lived linked-notebook-scoped token (§4.4).
func (n *NoteStore) AuthenticateToSharedNotebook(ctx context.Context, lnGuid model.Guid) (*model.AuthenticationInfo, error) {
	var out model.AuthenticationInfo
	if err := n.putJSON(ctx, http.MethodPost, "/notestore/authenticateToSharedNotebook/"+string(lnGuid), nil, &out); err != nil {
		return nil, fmt.Errorf("remote: authenticateToSharedNotebook(%s): %w", lnGuid, err)
	}

	return &out, nil
}

// UserStore is the account-level wire-protocol surface.
type UserStore struct {
	client *Client
}

// NewUserStore wraps a Client bound to the account's user-store endpoint.
func NewUserStore(c *Client) *UserStore {
	return &UserStore{client: c}
}

// GetUser fetches the authenticated user's profile.
func (u *UserStore) GetUser(ctx context.Context) (*model.User, error) {
	resp, err := u.client.Do(ctx, http.MethodGet, "/userstore/user", nil)
	if err != nil {
		return nil, fmt.Errorf("remote: getUser: %w", err)
	}
	defer resp.Body.Close()

	var user model.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return nil, fmt.Errorf("remote: getUser: decode response: %w", err)
	}

	return &user, nil
}

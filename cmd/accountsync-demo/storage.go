package main

import (
	"context"
	"sort"
	"sync"

	"github.com/evernote-go/accountsync/internal/model"
	syncpkg "github.com/evernote-go/accountsync/internal/sync"
)

// memStorage is a minimal in-memory sync.LocalStorage, good enough to
// drive one end-to-end Synchronize call against a scripted remote.
type memStorage struct {
	mu              sync.Mutex
	notebooks       map[model.Guid]model.Notebook
	tags            map[model.Guid]model.Tag
	savedSearches   map[model.Guid]model.SavedSearch
	notes           map[model.Guid]model.Note
	resources       map[model.Guid]model.Resource
	linkedNotebooks map[model.Guid]model.LinkedNotebook
	events          chan syncpkg.StorageEvent
}

func newMemStorage() *memStorage {
	return &memStorage{
		notebooks:       make(map[model.Guid]model.Notebook),
		tags:            make(map[model.Guid]model.Tag),
		savedSearches:   make(map[model.Guid]model.SavedSearch),
		notes:           make(map[model.Guid]model.Note),
		resources:       make(map[model.Guid]model.Resource),
		linkedNotebooks: make(map[model.Guid]model.LinkedNotebook),
	}
}

func (s *memStorage) FindNotebookByGuid(_ context.Context, guid model.Guid) (*model.Notebook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if nb, ok := s.notebooks[guid]; ok {
		return &nb, nil
	}
	return nil, nil
}

func (s *memStorage) FindNotebookByName(_ context.Context, name string, _ model.Guid) (*model.Notebook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, nb := range s.notebooks {
		if nb.Name == name {
			found := nb
			return &found, nil
		}
	}
	return nil, nil
}

func (s *memStorage) PutNotebook(_ context.Context, nb model.Notebook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notebooks[nb.Guid] = nb
	return nil
}

func (s *memStorage) ExpungeNotebook(_ context.Context, guid model.Guid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notebooks, guid)
	return nil
}

func (s *memStorage) FindTagByGuid(_ context.Context, guid model.Guid) (*model.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tags[guid]; ok {
		return &t, nil
	}
	return nil, nil
}

func (s *memStorage) FindTagByName(_ context.Context, name string, _ model.Guid) (*model.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tags {
		if t.Name == name {
			found := t
			return &found, nil
		}
	}
	return nil, nil
}

func (s *memStorage) PutTag(_ context.Context, t model.Tag) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tags[t.Guid] = t
	return nil
}

func (s *memStorage) ExpungeTag(_ context.Context, guid model.Guid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tags, guid)
	return nil
}

func (s *memStorage) FindSavedSearchByGuid(_ context.Context, guid model.Guid) (*model.SavedSearch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ss, ok := s.savedSearches[guid]; ok {
		return &ss, nil
	}
	return nil, nil
}

func (s *memStorage) FindSavedSearchByName(_ context.Context, name string) (*model.SavedSearch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ss := range s.savedSearches {
		if ss.Name == name {
			found := ss
			return &found, nil
		}
	}
	return nil, nil
}

func (s *memStorage) PutSavedSearch(_ context.Context, ss model.SavedSearch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.savedSearches[ss.Guid] = ss
	return nil
}

func (s *memStorage) ExpungeSavedSearch(_ context.Context, guid model.Guid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.savedSearches, guid)
	return nil
}

func (s *memStorage) FindNoteByGuid(_ context.Context, guid model.Guid) (*model.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.notes[guid]; ok {
		return &n, nil
	}
	return nil, nil
}

func (s *memStorage) PutNote(_ context.Context, n model.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes[n.Guid] = n
	return nil
}

func (s *memStorage) ExpungeNote(_ context.Context, guid model.Guid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.notes, guid)
	return nil
}

func (s *memStorage) FindResourceByGuid(_ context.Context, guid model.Guid) (*model.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.resources[guid]; ok {
		return &r, nil
	}
	return nil, nil
}

func (s *memStorage) PutResource(_ context.Context, r model.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[r.Guid] = r
	return nil
}

func (s *memStorage) ExpungeResource(_ context.Context, guid model.Guid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.resources, guid)
	return nil
}

func (s *memStorage) FindLinkedNotebookByGuid(_ context.Context, guid model.Guid) (*model.LinkedNotebook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ln, ok := s.linkedNotebooks[guid]; ok {
		return &ln, nil
	}
	return nil, nil
}

func (s *memStorage) PutLinkedNotebook(_ context.Context, ln model.LinkedNotebook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.linkedNotebooks[ln.Guid] = ln
	return nil
}

func (s *memStorage) ExpungeLinkedNotebook(_ context.Context, guid model.Guid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.linkedNotebooks, guid)
	return nil
}

func (s *memStorage) ListLinkedNotebooks(_ context.Context) ([]model.LinkedNotebook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.LinkedNotebook, 0, len(s.linkedNotebooks))
	for _, ln := range s.linkedNotebooks {
		out = append(out, ln)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Guid < out[j].Guid })
	return out, nil
}

func (s *memStorage) PutUser(_ context.Context, _ model.User) error {
	return nil
}

func (s *memStorage) ListDirtyNotebooks(_ context.Context) ([]model.Notebook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Notebook
	for _, nb := range s.notebooks {
		if nb.IsDirty {
			out = append(out, nb)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Guid < out[j].Guid })
	return out, nil
}

func (s *memStorage) ListDirtyTags(_ context.Context) ([]model.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Tag
	for _, t := range s.tags {
		if t.IsDirty {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Guid < out[j].Guid })
	return out, nil
}

func (s *memStorage) ListDirtySavedSearches(_ context.Context) ([]model.SavedSearch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.SavedSearch
	for _, ss := range s.savedSearches {
		if ss.IsDirty {
			out = append(out, ss)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Guid < out[j].Guid })
	return out, nil
}

func (s *memStorage) ListDirtyNotes(_ context.Context) ([]model.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Note
	for _, n := range s.notes {
		if n.IsDirty {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Guid < out[j].Guid })
	return out, nil
}

func (s *memStorage) ListLinkedNotebookTagsWithoutNotes(_ context.Context, _ model.Guid) ([]model.Tag, error) {
	return nil, nil
}

func (s *memStorage) Notifications() <-chan syncpkg.StorageEvent {
	return s.events
}

// alwaysUseTheirsResolver resolves every conflict by accepting the server's
// copy, the simplest resolution policy a caller can wire in.
type alwaysUseTheirsResolver struct{}

func (alwaysUseTheirsResolver) ResolveNotebookConflict(_ context.Context, _, _ model.Notebook) (syncpkg.ConflictResolution[model.Notebook], error) {
	return syncpkg.ConflictResolution[model.Notebook]{Kind: syncpkg.UseTheirs}, nil
}

func (alwaysUseTheirsResolver) ResolveTagConflict(_ context.Context, _, _ model.Tag) (syncpkg.ConflictResolution[model.Tag], error) {
	return syncpkg.ConflictResolution[model.Tag]{Kind: syncpkg.UseTheirs}, nil
}

func (alwaysUseTheirsResolver) ResolveSavedSearchConflict(_ context.Context, _, _ model.SavedSearch) (syncpkg.ConflictResolution[model.SavedSearch], error) {
	return syncpkg.ConflictResolution[model.SavedSearch]{Kind: syncpkg.UseTheirs}, nil
}

func (alwaysUseTheirsResolver) ResolveNoteConflict(_ context.Context, _, _ model.Note) (syncpkg.ConflictResolution[model.Note], error) {
	return syncpkg.ConflictResolution[model.Note]{Kind: syncpkg.UseTheirs}, nil
}

package model

// AuthenticationInfo holds credentials for one endpoint (the account's own
// user-store/note-store, or one linked notebook's note-store). Valid iff
// now < AuthTokenExpirationTime.
type AuthenticationInfo struct {
	UserID                  UserId            `json:"userId"`
	AuthToken               string            `json:"authToken"`
	AuthTokenExpirationTime Timestamp         `json:"authTokenExpirationTime"`
	AuthenticationTime      Timestamp         `json:"authenticationTime"`
	ShardID                 string            `json:"shardId"`
	NoteStoreURL            string            `json:"noteStoreUrl"`
	WebAPIURLPrefix         string            `json:"webApiUrlPrefix"`
	Cookies                 map[string]string `json:"cookies,omitempty"`

	// LinkedNotebookGuid is empty for the account's own token, and set for
	// a linked-notebook-scoped token.
	LinkedNotebookGuid Guid `json:"linkedNotebookGuid,omitempty"`
}

// IsValid reports whether the token is usable at instant now, after
// subtracting safetyMargin (§4.4's 10-minute cushion) from the expiry.
func (a AuthenticationInfo) IsValid(now Timestamp, safetyMarginMs int64) bool {
	cushioned := Timestamp(int64(a.AuthTokenExpirationTime) - safetyMarginMs)
	return now < cushioned
}

// SyncState is the resumable progress marker for one account (§3). Update
// counts only ever increase across a correctly-functioning run; a missing
// linked-notebook entry means "never synced".
type SyncState struct {
	UserDataUpdateCount         USN                `json:"userDataUpdateCount"`
	UserDataLastSyncTime        Timestamp          `json:"userDataLastSyncTime"`
	LinkedNotebookUpdateCounts  map[Guid]USN       `json:"linkedNotebookUpdateCounts"`
	LinkedNotebookLastSyncTimes map[Guid]Timestamp `json:"linkedNotebookLastSyncTimes"`
}

// NewSyncState returns a zero-initialized SyncState ("never synced").
func NewSyncState() SyncState {
	return SyncState{
		LinkedNotebookUpdateCounts:  make(map[Guid]USN),
		LinkedNotebookLastSyncTimes: make(map[Guid]Timestamp),
	}
}

// itemCommon carries the fields every synchronizable entity shares.
type itemCommon struct {
	Guid             Guid    `json:"guid,omitempty"`
	LocalID          LocalId `json:"localId"`
	USN              USN     `json:"usn,omitempty"`
	IsDirty          bool    `json:"isDirty"`
	IsLocallyDeleted bool    `json:"isLocallyDeleted"`
}

// Notebook is an Evernote notebook.
type Notebook struct {
	itemCommon
	Name               string `json:"name"`
	Stack              string `json:"stack,omitempty"`
	IsDefaultNotebook  bool   `json:"isDefaultNotebook"`
	LinkedNotebookGuid Guid   `json:"linkedNotebookGuid,omitempty"`
}

// Tag is an Evernote tag. Tags form a forest via ParentGuid; §4.6 requires
// parent-before-child application order within a chunk.
type Tag struct {
	itemCommon
	Name               string `json:"name"`
	ParentGuid         Guid   `json:"parentGuid,omitempty"`
	LinkedNotebookGuid Guid   `json:"linkedNotebookGuid,omitempty"`
}

// SavedSearch is a stored Evernote search query.
type SavedSearch struct {
	itemCommon
	Name  string `json:"name"`
	Query string `json:"query"`
}

// Resource is a note attachment (image, audio, file, ...).
type Resource struct {
	itemCommon
	NoteGuid    Guid   `json:"noteGuid,omitempty"`
	Mime        string `json:"mime,omitempty"`
	DataHash    string `json:"dataHash,omitempty"` // MD5 of the resource body
	DataSize    int64  `json:"dataSize,omitempty"`
	HasFullData bool   `json:"hasFullData"`
	Data        []byte `json:"data,omitempty"`
}

// Note is an Evernote note. Content and resource bodies are fetched on
// demand by the full-data downloaders (§4.6); chunk metadata carries only
// the fields above HasFullContent.
type Note struct {
	itemCommon
	Title              string     `json:"title"`
	NotebookGuid       Guid       `json:"notebookGuid,omitempty"`
	TagGuids           []Guid     `json:"tagGuids,omitempty"`
	ResourceGuids      []Guid     `json:"resourceGuids,omitempty"`
	Created            Timestamp  `json:"created,omitempty"`
	Updated            Timestamp  `json:"updated,omitempty"`
	Deleted            *Timestamp `json:"deleted,omitempty"`
	HasFullContent     bool       `json:"hasFullContent"`
	Content            string     `json:"content,omitempty"`
	LinkedNotebookGuid Guid       `json:"linkedNotebookGuid,omitempty"`
}

// PlainTextPrefix returns the first n runes of the note's content with ENML
// markup stripped, for conflict-duplicate titling (§4.7). The core does not
// parse ENML (§1 Non-goals); this performs a best-effort strip of angle
// brackets only, sufficient for title derivation.
func (note Note) PlainTextPrefix(runeCount int) string {
	out := make([]rune, 0, runeCount)
	inTag := false

	for _, r := range note.Content {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			out = append(out, r)
			if len(out) >= runeCount {
				return string(out)
			}
		}
	}

	return string(out)
}

// LinkedNotebook points to a notebook owned by another user and shared with
// this account.
type LinkedNotebook struct {
	itemCommon
	ShareName              string `json:"shareName,omitempty"`
	Username               string `json:"username,omitempty"`
	ShardID                string `json:"shardId,omitempty"`
	SharedNotebookGlobalID string `json:"sharedNotebookGlobalId,omitempty"`
	NoteStoreURL           string `json:"noteStoreUrl,omitempty"`
	WebAPIURLPrefix        string `json:"webApiUrlPrefix,omitempty"`
}

// User is the remote account owner's profile.
type User struct {
	ID       UserId `json:"id"`
	Username string `json:"username"`
	ShardID  string `json:"shardId"`
}

// SyncChunk is a contiguous slice of server state in [LowUSN, HighUSN].
// Chunks for a given (account, linked notebook) are non-overlapping.
type SyncChunk struct {
	LowUSN  USN `json:"lowUsn"`
	HighUSN USN `json:"highUsn"`

	// ChunkHighUSN is the server's USN at the time this chunk was cut;
	// when HighUSN is less than it, more chunks remain.
	ChunkHighUSN USN `json:"chunkHighUsn"`

	Notebooks       []Notebook       `json:"notebooks,omitempty"`
	Tags            []Tag           `json:"tags,omitempty"`
	SavedSearches   []SavedSearch   `json:"savedSearches,omitempty"`
	Notes           []Note          `json:"notes,omitempty"`
	Resources       []Resource      `json:"resources,omitempty"`
	LinkedNotebooks []LinkedNotebook `json:"linkedNotebooks,omitempty"`

	ExpungedNotebooks       []Guid `json:"expungedNotebooks,omitempty"`
	ExpungedTags            []Guid `json:"expungedTags,omitempty"`
	ExpungedSavedSearches   []Guid `json:"expungedSavedSearches,omitempty"`
	ExpungedNotes           []Guid `json:"expungedNotes,omitempty"`
	ExpungedResources       []Guid `json:"expungedResources,omitempty"`
	ExpungedLinkedNotebooks []Guid `json:"expungedLinkedNotebooks,omitempty"`
}

// IsFull reports whether this chunk is a terminal page: the server had
// nothing beyond HighUSN at fetch time.
func (c SyncChunk) IsFull() bool {
	return c.HighUSN >= c.ChunkHighUSN
}

// Package catalog turns the paged bucket listing into an in-memory snapshot
// of the whole catalog, refreshed on a TTL.
package catalog

import (
	"time"

	"github.com/koustreak/pistas/internal/filestore"
	"github.com/koustreak/pistas/internal/naming"
)

// Entry is one object of the catalog with its derived title and artist.
// Entries are values and are never modified once built.
type Entry struct {
	Key          string
	Size         int64
	LastModified time.Time
	ObjectID     string
	Title        string
	Artist       string
	ContentType  string
}

// FromObject builds an Entry from a listed object. Title and artist metadata
// set on the object take precedence over what the key suggests.
func FromObject(obj filestore.ObjectInfo) Entry {
	track := naming.WithMetadata(naming.Parse(obj.Key), obj.Metadata["title"], obj.Metadata["artist"])
	return Entry{
		Key:          obj.Key,
		Size:         obj.Size,
		LastModified: obj.LastModified,
		ObjectID:     obj.ID,
		Title:        track.Title,
		Artist:       track.Artist,
		ContentType:  obj.ContentType,
	}
}

// Snapshot is the full catalog as captured by one successful crawl.
// A Snapshot is shared by every reader; its Entries must not be modified.
type Snapshot struct {
	// Entries are in the order the provider listed them.
	Entries    []Entry
	CapturedAt time.Time

	byKey map[string]int
	gen   uint64
}

// NewSnapshot builds a Snapshot over entries.
func NewSnapshot(entries []Entry, capturedAt time.Time) *Snapshot {
	if entries == nil {
		entries = []Entry{}
	}
	byKey := make(map[string]int, len(entries))
	for i, e := range entries {
		if _, dup := byKey[e.Key]; !dup {
			byKey[e.Key] = i
		}
	}
	return &Snapshot{Entries: entries, CapturedAt: capturedAt, byKey: byKey}
}

// Len returns the number of entries.
func (s *Snapshot) Len() int {
	return len(s.Entries)
}

// Lookup returns the entry stored under key.
func (s *Snapshot) Lookup(key string) (Entry, bool) {
	i, ok := s.byKey[key]
	if !ok {
		return Entry{}, false
	}
	return s.Entries[i], true
}

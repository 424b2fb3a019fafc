// Package naming derives a display title and artist from an object key.
//
// Keys in the bucket follow the loose convention "Artist - Title.mp3", with
// a few variants ("Artist_Title.mp3", en and em dashes). Parse never fails:
// a key that does not split is all title, with UnknownArtist.
package naming

import "strings"

// UnknownArtist is the artist assigned when a key carries none.
const UnknownArtist = "Desconocido"

// separators are tried in order; the first that splits the name wins.
var separators = []string{" - ", "_", " – ", " — "}

var extensions = []string{".mp3", ".wav", ".flac", ".m4a"}

// Track is the title and artist derived from a key.
type Track struct {
	Title  string
	Artist string
}

// Parse derives a Track from rawKey. Only the basename after the last "/"
// is considered.
func Parse(rawKey string) Track {
	name := rawKey
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = stripExtension(name)

	for _, sep := range separators {
		if !strings.Contains(name, sep) {
			continue
		}
		parts := strings.Split(name, sep)
		nonEmpty := 0
		for _, p := range parts {
			if strings.TrimSpace(p) != "" {
				nonEmpty++
			}
		}
		if nonEmpty < 2 {
			continue
		}
		t := Track{
			Artist: strings.TrimSpace(parts[0]),
			Title:  strings.TrimSpace(strings.Join(parts[1:], sep)),
		}
		if t.Artist == "" {
			t.Artist = UnknownArtist
		}
		return t
	}

	return Track{Title: strings.TrimSpace(name), Artist: UnknownArtist}
}

// WithMetadata overrides the parsed fields with explicit metadata values.
// Empty values keep what Parse derived.
func WithMetadata(t Track, title, artist string) Track {
	if title = strings.TrimSpace(title); title != "" {
		t.Title = title
	}
	if artist = strings.TrimSpace(artist); artist != "" {
		t.Artist = artist
	}
	return t
}

func stripExtension(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range extensions {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}
